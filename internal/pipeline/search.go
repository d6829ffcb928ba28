package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/serper"
)

// search runs every pending query against the search backend with bounded
// concurrency. A query whose fetch fails is marked error and its siblings
// continue; the stage only fails when persistence itself breaks.
func (p *Pipeline) search(ctx context.Context, req *model.Requirement, run *model.PipelineRun) (*StageReport, error) {
	pending, err := p.store.ListQueries(ctx, req.ID, model.QueryPending)
	if err != nil {
		return nil, eris.Wrap(err, "search: list queries")
	}
	if len(pending) == 0 {
		return &StageReport{Success: true, Message: "no pending queries"}, nil
	}

	stageIdx := run.StageIndex(model.StageSearch)
	total := len(pending)
	if err := p.setStageProgress(ctx, run, stageIdx, 0, total); err != nil {
		return nil, err
	}

	concurrency := p.cfg.Pipeline.SearchConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var mu sync.Mutex
	var sources []model.ResearchSource
	var searched, failed []string
	done := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, q := range pending {
		g.Go(func() error {
			resp, callErr := callService(gCtx, p, serviceSerper, "search", func(ctx context.Context) (*serper.SearchResponse, error) {
				return p.serper.Search(ctx, q.Text, p.cfg.Serper.ResultsPerQuery)
			})

			mu.Lock()
			defer mu.Unlock()
			done++
			if callErr != nil {
				zap.L().Warn("search: query failed",
					zap.String("query_id", q.ID),
					zap.Error(callErr),
				)
				failed = append(failed, q.ID)
				return nil
			}
			for _, r := range resp.Organic {
				sources = append(sources, model.ResearchSource{
					RequirementID: req.ID,
					QueryID:       q.ID,
					Title:         r.Title,
					URL:           r.Link,
					Snippet:       r.Snippet,
					Status:        model.SourceFound,
				})
			}
			searched = append(searched, q.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "search: fan out")
	}

	if len(sources) > 0 {
		if err := p.store.InsertSources(ctx, sources); err != nil {
			return nil, eris.Wrap(err, "search: persist sources")
		}
	}
	for _, id := range searched {
		if err := p.store.UpdateQueryStatus(ctx, id, model.QuerySearched); err != nil {
			return nil, eris.Wrap(err, "search: mark query searched")
		}
	}
	for _, id := range failed {
		if err := p.store.UpdateQueryStatus(ctx, id, model.QueryError); err != nil {
			return nil, eris.Wrap(err, "search: mark query error")
		}
	}
	if err := p.setStageProgress(ctx, run, stageIdx, done, total); err != nil {
		return nil, err
	}

	// All queries failing means the search backend is down, not a partial
	// failure.
	if len(searched) == 0 {
		return nil, eris.Errorf("search: all %d queries failed", total)
	}

	zap.L().Info("search usage",
		zap.Int("queries", len(searched)),
		zap.Float64("est_cost_usd", p.costs.SerperQueries(len(searched))),
	)

	return &StageReport{
		Success:       true,
		Message:       fmt.Sprintf("found %d sources from %d queries (%d failed)", len(sources), len(searched), len(failed)),
		ItemsProduced: len(sources),
	}, nil
}
