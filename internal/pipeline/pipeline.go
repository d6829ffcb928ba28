// Package pipeline orchestrates the five-stage market-analysis pipeline:
// query generation, search, scrape, summarize, synthesize. Each stage
// persists its output before the next starts, so a run can be interrupted
// and resumed from the first incomplete stage.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/marketsense/internal/cache"
	"github.com/sells-group/marketsense/internal/config"
	"github.com/sells-group/marketsense/internal/cost"
	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/internal/resilience"
	"github.com/sells-group/marketsense/internal/store"
	"github.com/sells-group/marketsense/pkg/anthropic"
	"github.com/sells-group/marketsense/pkg/firecrawl"
	"github.com/sells-group/marketsense/pkg/serper"
)

// External service names used for retry logging and circuit breakers.
const (
	serviceAnthropic = "anthropic"
	serviceSerper    = "serper"
	serviceFirecrawl = "firecrawl"
)

// StageReport is the uniform result shape every stage executor returns.
// Remaining is only meaningful for the summarize stage, which processes
// bounded batches.
type StageReport struct {
	Success       bool
	Message       string
	ItemsProduced int
	Remaining     int
}

// Pipeline drives one market-analysis run per requirement.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	anthropic anthropic.Client
	serper    serper.Client
	firecrawl firecrawl.Client
	progress  *cache.Progress
	breakers  *resilience.Breakers
	costs     *cost.Calculator

	// Throttles summarize calls to stay under the generation provider's
	// rate limit.
	summaryLimiter *rate.Limiter

	// Poll options forwarded to the batch scrape poller, overridable in tests.
	pollOpts []firecrawl.PollOption
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	aiClient anthropic.Client,
	searchClient serper.Client,
	fcClient firecrawl.Client,
	progress *cache.Progress,
) *Pipeline {
	delay := time.Duration(cfg.Pipeline.SummaryDelaySecs) * time.Second
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Pipeline{
		cfg:            cfg,
		store:          st,
		anthropic:      aiClient,
		serper:         searchClient,
		firecrawl:      fcClient,
		progress:       progress,
		breakers:       resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		costs:          cost.NewCalculator(cost.DefaultRates()),
		summaryLimiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Run executes the pipeline for a requirement, resuming from the first
// incomplete stage if a persisted run exists. On terminal success the
// persisted run and local progress snapshot are cleared; on failure they are
// left in place so the operator can see which stage failed before retrying.
func (p *Pipeline) Run(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	log := zap.L().With(zap.String("requirement_id", requirementID))

	req, err := p.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load requirement")
	}

	run, err := p.store.GetRun(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	if run == nil {
		run = model.NewRun(requirementID)
	}

	// Claim the run. A version conflict means another writer is driving it.
	if err := p.saveRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, eris.Wrap(err, "pipeline: run already in progress")
		}
		return nil, err
	}

	start := run.FirstIncomplete()
	if start >= len(run.Stages) {
		// Every stage already completed; just return the stored analysis.
		return p.store.GetAnalysis(ctx, requirementID)
	}
	if start > 0 {
		log.Info("pipeline: resuming", zap.String("stage", string(run.Stages[start].Name)))
	} else {
		log.Info("pipeline: starting")
	}

	for i := start; i < len(run.Stages); i++ {
		name := run.Stages[i].Name
		run.CurrentStage = i
		if err := p.setStageStatus(ctx, run, i, model.StageProcessing, ""); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		report, stageErr := p.executeStage(ctx, req, run, name)
		duration := time.Since(stageStart)

		if stageErr != nil {
			log.Error("pipeline: stage failed",
				zap.String("stage", string(name)),
				zap.Duration("duration", duration),
				zap.Error(stageErr),
			)
			if saveErr := p.setStageStatus(ctx, run, i, model.StageFailed, stageErr.Error()); saveErr != nil {
				log.Warn("pipeline: failed to persist stage failure", zap.Error(saveErr))
			}
			return nil, eris.Wrapf(stageErr, "pipeline: stage %s", name)
		}

		log.Info("pipeline: stage complete",
			zap.String("stage", string(name)),
			zap.Duration("duration", duration),
			zap.Int("items", report.ItemsProduced),
		)
		if err := p.setStageStatus(ctx, run, i, model.StageCompleted, ""); err != nil {
			return nil, err
		}
	}

	result, err := p.store.GetAnalysis(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load analysis")
	}

	// Terminal success: the run is no longer in progress.
	if err := p.store.ClearRun(ctx, requirementID); err != nil {
		log.Warn("pipeline: failed to clear run", zap.Error(err))
	}
	if p.progress != nil {
		if err := p.progress.Clear(requirementID); err != nil {
			log.Warn("pipeline: failed to clear progress cache", zap.Error(err))
		}
	}

	log.Info("pipeline: completed", zap.Float64("confidence", result.ConfidenceScore))
	return result, nil
}

// RunStage executes a single named stage against the persisted run, honoring
// the sequencing invariant. This backs the per-stage HTTP trigger surface.
func (p *Pipeline) RunStage(ctx context.Context, requirementID string, name model.StageName) (*StageReport, error) {
	req, err := p.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load requirement")
	}

	run, err := p.store.GetRun(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	if run == nil {
		run = model.NewRun(requirementID)
	}

	i := run.StageIndex(name)
	if i < 0 {
		return nil, eris.Errorf("pipeline: unknown stage %q", name)
	}
	for j := 0; j < i; j++ {
		if run.Stages[j].Status != model.StageCompleted {
			return nil, eris.Errorf("pipeline: stage %s requires %s to be completed, got %s",
				name, run.Stages[j].Name, run.Stages[j].Status)
		}
	}

	run.CurrentStage = i
	if err := p.setStageStatus(ctx, run, i, model.StageProcessing, ""); err != nil {
		return nil, err
	}

	// The per-stage trigger runs summarize one batch at a time; callers
	// re-invoke until the reported remaining count reaches zero.
	var report *StageReport
	var stageErr error
	if name == model.StageSummarize {
		report, stageErr = p.summarizeBatch(ctx, req, run)
	} else {
		report, stageErr = p.executeStage(ctx, req, run, name)
	}
	if stageErr != nil {
		if saveErr := p.setStageStatus(ctx, run, i, model.StageFailed, stageErr.Error()); saveErr != nil {
			zap.L().Warn("pipeline: failed to persist stage failure", zap.Error(saveErr))
		}
		return nil, eris.Wrapf(stageErr, "pipeline: stage %s", name)
	}

	status := model.StageCompleted
	if name == model.StageSummarize && report.Remaining > 0 {
		// More batches to drain; the stage stays in flight.
		status = model.StageProcessing
	}
	if err := p.setStageStatus(ctx, run, i, status, ""); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) executeStage(ctx context.Context, req *model.Requirement, run *model.PipelineRun, name model.StageName) (*StageReport, error) {
	switch name {
	case model.StageGenerateQueries:
		return p.generateQueries(ctx, req)
	case model.StageSearch:
		return p.search(ctx, req, run)
	case model.StageScrape:
		return p.scrape(ctx, req, run)
	case model.StageSummarize:
		return p.summarizeAll(ctx, req, run)
	case model.StageSynthesize:
		return p.synthesize(ctx, req)
	default:
		return nil, eris.Errorf("pipeline: unknown stage %q", name)
	}
}

// setStageStatus persists a stage transition to the store and mirrors it to
// the local progress cache.
func (p *Pipeline) setStageStatus(ctx context.Context, run *model.PipelineRun, i int, status model.StageStatus, errMsg string) error {
	run.Stages[i].Status = status
	run.Stages[i].Error = errMsg
	return p.saveRun(ctx, run)
}

// setStageProgress updates a stage's sub-progress counters and persists.
func (p *Pipeline) setStageProgress(ctx context.Context, run *model.PipelineRun, i, current, total int) error {
	run.Stages[i].Current = current
	run.Stages[i].Total = total
	return p.saveRun(ctx, run)
}

func (p *Pipeline) saveRun(ctx context.Context, run *model.PipelineRun) error {
	if err := p.store.SaveRun(ctx, run); err != nil {
		return eris.Wrap(err, "pipeline: save run")
	}
	if p.progress != nil {
		if err := p.progress.Save(run); err != nil {
			zap.L().Warn("pipeline: failed to write progress cache", zap.Error(err))
		}
	}
	return nil
}

// logModelCost logs token usage and estimated spend for one model call.
func (p *Pipeline) logModelCost(stage string, usage anthropic.TokenUsage) {
	model := p.cfg.Anthropic.Model
	zap.L().Info("token usage",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Float64("est_cost_usd", p.costs.Claude(model, usage.InputTokens, usage.OutputTokens)),
	)
}

// retryConfig builds the retry policy for one external call site.
func (p *Pipeline) retryConfig(service, operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if p.cfg.Pipeline.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = p.cfg.Pipeline.RetryMaxAttempts
	}
	if p.cfg.Pipeline.RetryInitialBackoffS > 0 {
		cfg.InitialBackoff = time.Duration(p.cfg.Pipeline.RetryInitialBackoffS) * time.Second
	}
	cfg.OnRetry = resilience.RetryLogger(service, operation)
	return cfg
}

// callService runs fn through the service's circuit breaker and the retry
// loop, classifying client API errors so transient ones are retried.
func callService[T any](ctx context.Context, p *Pipeline, service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	breaker := p.breakers.Get(service)
	if err := breaker.Allow(); err != nil {
		return zero, eris.Wrapf(err, "%s: %s", service, operation)
	}

	val, err := resilience.DoVal(ctx, p.retryConfig(service, operation), func(ctx context.Context) (T, error) {
		v, callErr := fn(ctx)
		return v, classifyError(callErr)
	})
	breaker.Record(err)
	return val, err
}

// classifyError maps client API errors onto the resilience taxonomy so the
// retry loop can tell transient failures from terminal ones.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	status, body := 0, ""
	var aiErr *anthropic.APIError
	var searchErr *serper.APIError
	var fcErr *firecrawl.APIError
	switch {
	case errors.As(err, &aiErr):
		status, body = aiErr.StatusCode, aiErr.Body
	case errors.As(err, &searchErr):
		status, body = searchErr.StatusCode, searchErr.Body
	case errors.As(err, &fcErr):
		status, body = fcErr.StatusCode, fcErr.Body
	default:
		return err
	}

	if status == 429 {
		return resilience.NewRateLimitError(err, body)
	}
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
