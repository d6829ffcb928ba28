package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/anthropic"
)

// maxSummaryInputChars truncates page content sent to the generation backend
// so one oversized page cannot blow the context window.
const maxSummaryInputChars = 12000

// summarizeBatch summarizes one batch of pending content and reports how many
// pending items remain. Items whose summarization fails are marked error and
// do not block siblings. The inter-item limiter wait is a throttle for the
// provider's rate limit, not a correctness requirement.
func (p *Pipeline) summarizeBatch(ctx context.Context, req *model.Requirement, run *model.PipelineRun) (*StageReport, error) {
	batchSize := p.cfg.Pipeline.SummaryBatchSize
	if batchSize <= 0 {
		batchSize = 3
	}

	batch, err := p.store.ListContents(ctx, req.ID, model.ContentPendingSummary, batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "summarize: list pending")
	}

	summarized, failed := 0, 0
	for _, item := range batch {
		if err := p.summaryLimiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "summarize: throttle")
		}

		summary, callErr := p.summarizeOne(ctx, req, item)
		if callErr != nil {
			zap.L().Warn("summarize: item failed",
				zap.String("content_id", item.ID),
				zap.Error(callErr),
			)
			if err := p.store.UpdateContentStatus(ctx, item.ID, model.ContentError); err != nil {
				return nil, eris.Wrap(err, "summarize: mark item error")
			}
			failed++
			continue
		}
		if err := p.store.SetContentSummary(ctx, item.ID, summary); err != nil {
			return nil, eris.Wrap(err, "summarize: persist summary")
		}
		summarized++
	}

	remaining, err := p.store.CountContents(ctx, req.ID, model.ContentPendingSummary)
	if err != nil {
		return nil, eris.Wrap(err, "summarize: count remaining")
	}
	total, err := p.store.CountContents(ctx, req.ID, "")
	if err != nil {
		return nil, eris.Wrap(err, "summarize: count total")
	}

	stageIdx := run.StageIndex(model.StageSummarize)
	if err := p.setStageProgress(ctx, run, stageIdx, total-remaining, total); err != nil {
		return nil, err
	}

	return &StageReport{
		Success:       true,
		Message:       fmt.Sprintf("summarized %d items (%d failed), %d remaining", summarized, failed, remaining),
		ItemsProduced: summarized,
		Remaining:     remaining,
	}, nil
}

// summarizeAll drains pending content batch by batch until none remain. The
// loop is bounded so a store that never converges cannot spin forever.
func (p *Pipeline) summarizeAll(ctx context.Context, req *model.Requirement, run *model.PipelineRun) (*StageReport, error) {
	maxBatches := p.cfg.Pipeline.MaxSummarizeBatches
	if maxBatches <= 0 {
		maxBatches = 20
	}

	produced := 0
	var last *StageReport
	for i := 0; i < maxBatches; i++ {
		report, err := p.summarizeBatch(ctx, req, run)
		if err != nil {
			return nil, err
		}
		produced += report.ItemsProduced
		last = report
		if report.Remaining == 0 {
			return &StageReport{
				Success:       true,
				Message:       fmt.Sprintf("summarized %d items in %d batches", produced, i+1),
				ItemsProduced: produced,
			}, nil
		}
	}
	return nil, eris.Errorf("summarize: %d items still pending after %d batches", last.Remaining, maxBatches)
}

func (p *Pipeline) summarizeOne(ctx context.Context, req *model.Requirement, item model.ScrapedContent) (string, error) {
	content := item.Content
	if len(content) > maxSummaryInputChars {
		content = content[:maxSummaryInputChars]
	}

	resp, err := callService(ctx, p, serviceAnthropic, "summarize", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.cfg.Anthropic.Model,
			MaxTokens: p.cfg.Anthropic.MaxTokens,
			System:    summarizeSystem,
			Messages:  []anthropic.Message{{Role: "user", Content: summarizePrompt(req, content)}},
		})
	})
	if err != nil {
		return "", err
	}
	p.logModelCost("summarize", resp.Usage)

	summary := resp.Text()
	if summary == "" {
		return "", eris.New("summarize: empty response")
	}
	return summary, nil
}
