// Package cache persists a local snapshot of pipeline progress so the CLI can
// show the last known state even when the store is unreachable. It is a
// display hint only; the store remains the source of truth.
package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketsense/internal/model"
)

// Progress reads and writes per-requirement progress snapshots as JSON files
// under a cache directory.
type Progress struct {
	dir string
}

// NewProgress returns a Progress rooted at dir. The directory is created on
// first write.
func NewProgress(dir string) *Progress {
	return &Progress{dir: dir}
}

func (p *Progress) path(requirementID string) string {
	return filepath.Join(p.dir, requirementID+".json")
}

// Save writes the run snapshot atomically (write to temp file, then rename).
func (p *Progress) Save(run *model.PipelineRun) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return eris.Wrap(err, "cache: mkdir")
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: marshal run")
	}

	tmp, err := os.CreateTemp(p.dir, ".progress-*")
	if err != nil {
		return eris.Wrap(err, "cache: create temp")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "cache: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "cache: close temp")
	}
	if err := os.Rename(tmp.Name(), p.path(run.RequirementID)); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "cache: rename")
	}
	return nil
}

// Load returns the cached snapshot, or (nil, nil) when none exists.
func (p *Progress) Load(requirementID string) (*model.PipelineRun, error) {
	data, err := os.ReadFile(p.path(requirementID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: read")
	}

	var run model.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, eris.Wrap(err, "cache: unmarshal run")
	}
	return &run, nil
}

// Clear removes the cached snapshot. Clearing an absent snapshot is not an
// error.
func (p *Progress) Clear(requirementID string) error {
	err := os.Remove(p.path(requirementID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return eris.Wrap(err, "cache: remove")
}

// MarkCompleted loads the snapshot, marks every stage completed and saves it
// back. Used by the completion watcher when the terminal artifact lands. A
// missing snapshot is a no-op.
func (p *Progress) MarkCompleted(requirementID string) error {
	run, err := p.Load(requirementID)
	if err != nil || run == nil {
		return err
	}
	for i := range run.Stages {
		run.Stages[i].Status = model.StageCompleted
		run.Stages[i].Error = ""
	}
	run.CurrentStage = len(run.Stages) - 1
	return p.Save(run)
}
