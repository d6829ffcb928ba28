package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// StageName identifies one of the five pipeline stages, in execution order.
type StageName string

const (
	StageGenerateQueries StageName = "generate_queries"
	StageSearch          StageName = "search"
	StageScrape          StageName = "scrape"
	StageSummarize       StageName = "summarize"
	StageSynthesize      StageName = "synthesize"
)

// StageOrder returns the five stages in execution order.
func StageOrder() []StageName {
	return []StageName{
		StageGenerateQueries,
		StageSearch,
		StageScrape,
		StageSummarize,
		StageSynthesize,
	}
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// StageState is the persisted state of one stage within a run. Current and
// Total carry sub-progress for the search, scrape and summarize stages.
type StageState struct {
	Name    StageName   `json:"name"`
	Status  StageStatus `json:"status"`
	Current int         `json:"current,omitempty"`
	Total   int         `json:"total,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PipelineRun is the durable progress record for one market-analysis attempt,
// keyed by requirement ID. Version increments on every save; a writer whose
// version no longer matches the stored row loses the write.
type PipelineRun struct {
	RequirementID string       `json:"requirement_id"`
	Stages        []StageState `json:"stages"`
	CurrentStage  int          `json:"current_stage"`
	Version       int64        `json:"version"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewRun initializes a fresh run with all five stages pending.
func NewRun(requirementID string) *PipelineRun {
	order := StageOrder()
	stages := make([]StageState, len(order))
	for i, name := range order {
		stages[i] = StageState{Name: name, Status: StagePending}
	}
	return &PipelineRun{
		RequirementID: requirementID,
		Stages:        stages,
		CurrentStage:  0,
	}
}

// StageIndex returns the position of the named stage, or -1 if unknown.
func (r *PipelineRun) StageIndex(name StageName) int {
	for i, s := range r.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Stage returns a pointer to the named stage state, or nil if unknown.
func (r *PipelineRun) Stage(name StageName) *StageState {
	if i := r.StageIndex(name); i >= 0 {
		return &r.Stages[i]
	}
	return nil
}

// FirstIncomplete returns the index of the first stage that is not completed,
// or len(Stages) when every stage is done. Resumption starts here.
func (r *PipelineRun) FirstIncomplete() int {
	for i, s := range r.Stages {
		if s.Status != StageCompleted {
			return i
		}
	}
	return len(r.Stages)
}

// Failed reports whether any stage is in the failed state.
func (r *PipelineRun) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			return true
		}
	}
	return false
}

// Validate enforces the sequencing invariant: a stage may only be processing
// or completed if every predecessor is completed.
func (r *PipelineRun) Validate() error {
	for i, s := range r.Stages {
		if s.Status != StageProcessing && s.Status != StageCompleted {
			continue
		}
		for j := 0; j < i; j++ {
			if r.Stages[j].Status != StageCompleted {
				return eris.Errorf("model: stage %s is %s but predecessor %s is %s",
					s.Name, s.Status, r.Stages[j].Name, r.Stages[j].Status)
			}
		}
	}
	return nil
}
