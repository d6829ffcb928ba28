// Package watch detects pipeline completion by polling the analysis store.
// The watcher is deliberately decoupled from the orchestrator so a process
// that did not drive the pipeline (a reattached CLI, another server instance)
// can still observe the run finishing.
package watch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketsense/internal/cache"
	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/internal/store"
)

const defaultInterval = 10 * time.Second

// Watcher polls the market analysis for a requirement until it completes.
type Watcher struct {
	store    store.Store
	progress *cache.Progress
	interval time.Duration
}

// New creates a Watcher. A non-positive interval falls back to 10s.
func New(st store.Store, progress *cache.Progress, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{store: st, progress: progress, interval: interval}
}

// Wait polls until the analysis reaches Completed with real content, then
// reconciles local state: cached stages are marked completed, the persisted
// run and the cache entry are cleared. Returns the completed analysis, or the
// context error if the caller tears down first.
func (w *Watcher) Wait(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	log := zap.L().With(zap.String("requirement_id", requirementID))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		result, err := w.Check(ctx, requirementID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			log.Info("watch: analysis completed", zap.Float64("confidence", result.ConfidenceScore))
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "watch: cancelled")
		case <-ticker.C:
		}
	}
}

// Check performs a single observation. When the analysis is complete it runs
// the terminal cleanup and returns the result; otherwise it returns (nil, nil).
func (w *Watcher) Check(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	result, err := w.store.GetAnalysis(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "watch: get analysis")
	}
	if !result.Complete() {
		return nil, nil
	}

	if w.progress != nil {
		if err := w.progress.MarkCompleted(requirementID); err != nil {
			zap.L().Warn("watch: failed to mark cached stages completed", zap.Error(err))
		}
	}
	if err := w.store.ClearRun(ctx, requirementID); err != nil {
		zap.L().Warn("watch: failed to clear run", zap.Error(err))
	}
	if w.progress != nil {
		if err := w.progress.Clear(requirementID); err != nil {
			zap.L().Warn("watch: failed to clear progress cache", zap.Error(err))
		}
	}
	return result, nil
}
