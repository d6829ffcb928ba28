package pipeline

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/firecrawl"
)

// scrape batch-submits every source still needing content to the scraping
// backend, polls the batch to completion, and maps returned pages back to
// sources by URL. Sources with invalid URLs are marked error without being
// submitted; a batch-level failure marks every submitted source error.
func (p *Pipeline) scrape(ctx context.Context, req *model.Requirement, run *model.PipelineRun) (*StageReport, error) {
	candidates, err := p.sourcesNeedingScrape(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &StageReport{Success: true, Message: "no sources to scrape"}, nil
	}

	stageIdx := run.StageIndex(model.StageScrape)
	if err := p.setStageProgress(ctx, run, stageIdx, 0, len(candidates)); err != nil {
		return nil, err
	}

	// Validate URLs up front; unsubmittable sources fail individually.
	var submit []model.ResearchSource
	invalid := 0
	for _, src := range candidates {
		if !validScrapeURL(src.URL) {
			invalid++
			if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceError); err != nil {
				return nil, eris.Wrap(err, "scrape: mark invalid source")
			}
			continue
		}
		submit = append(submit, src)
	}
	if len(submit) == 0 {
		return nil, eris.Errorf("scrape: no valid URLs among %d sources", len(candidates))
	}

	urls := make([]string, len(submit))
	for i, src := range submit {
		urls[i] = src.URL
		if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourcePendingScrape); err != nil {
			return nil, eris.Wrap(err, "scrape: mark source pending")
		}
	}

	status, err := callService(ctx, p, serviceFirecrawl, "batch scrape", func(ctx context.Context) (*firecrawl.BatchScrapeStatusResponse, error) {
		batch, submitErr := p.firecrawl.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
			URLs:    urls,
			Formats: []string{"markdown"},
		})
		if submitErr != nil {
			return nil, submitErr
		}
		return firecrawl.PollBatchScrape(ctx, p.firecrawl, batch.ID, p.pollOpts...)
	})
	if err != nil {
		// Batch-level failure: every submitted source is marked error so a
		// retry of the stage starts clean.
		for _, src := range submit {
			if markErr := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceError); markErr != nil {
				zap.L().Warn("scrape: failed to mark source error", zap.String("source_id", src.ID), zap.Error(markErr))
			}
		}
		return nil, eris.Wrap(err, "scrape: batch scrape")
	}

	// Match pages back to sources by request URL, falling back to position
	// when the backend omits metadata.
	byURL := make(map[string]firecrawl.PageData, len(status.Data))
	for _, page := range status.Data {
		byURL[page.RequestURL()] = page
	}

	var contents []model.ScrapedContent
	scraped := 0
	for i, src := range submit {
		page, ok := byURL[src.URL]
		if !ok && i < len(status.Data) {
			page, ok = status.Data[i], true
		}
		if !ok || page.Markdown == "" {
			if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceError); err != nil {
				return nil, eris.Wrap(err, "scrape: mark missing source")
			}
			continue
		}

		contents = append(contents, model.ScrapedContent{
			RequirementID: req.ID,
			SourceID:      src.ID,
			URL:           src.URL,
			Content:       page.Markdown,
			Status:        model.ContentPendingSummary,
		})
		if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceScraped); err != nil {
			return nil, eris.Wrap(err, "scrape: mark source scraped")
		}
		scraped++
	}

	if len(contents) > 0 {
		if err := p.store.InsertContents(ctx, contents); err != nil {
			return nil, eris.Wrap(err, "scrape: persist contents")
		}
	}
	if err := p.setStageProgress(ctx, run, stageIdx, scraped, len(candidates)); err != nil {
		return nil, err
	}

	if scraped == 0 {
		return nil, eris.Errorf("scrape: no content extracted from %d submitted URLs", len(submit))
	}

	zap.L().Info("scrape usage",
		zap.Int("pages", len(submit)),
		zap.Float64("est_cost_usd", p.costs.FirecrawlPages(len(submit))),
	)

	return &StageReport{
		Success:       true,
		Message:       fmt.Sprintf("scraped %d of %d sources (%d invalid URLs)", scraped, len(candidates), invalid),
		ItemsProduced: len(contents),
	}, nil
}

// sourcesNeedingScrape returns sources still awaiting content: freshly found
// ones plus any left pending_scrape by an interrupted earlier attempt.
func (p *Pipeline) sourcesNeedingScrape(ctx context.Context, requirementID string) ([]model.ResearchSource, error) {
	found, err := p.store.ListSources(ctx, requirementID, model.SourceFound)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: list found sources")
	}
	stuck, err := p.store.ListSources(ctx, requirementID, model.SourcePendingScrape)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: list pending sources")
	}
	return append(found, stuck...), nil
}

func validScrapeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
