package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketsense/internal/cache"
	"github.com/sells-group/marketsense/internal/pipeline"
	"github.com/sells-group/marketsense/internal/store"
	"github.com/sells-group/marketsense/internal/watch"
	anthropicpkg "github.com/sells-group/marketsense/pkg/anthropic"
	"github.com/sells-group/marketsense/pkg/firecrawl"
	"github.com/sells-group/marketsense/pkg/serper"
)

// appEnv holds the initialized store, clients and pipeline shared by the
// analyze/watch/serve commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Watcher  *watch.Watcher
	Progress *cache.Progress
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, runs migrations, builds the API clients and wires
// the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	serperClient := serper.NewClient(cfg.Serper.Key, serper.WithBaseURL(cfg.Serper.BaseURL))
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))

	progress := cache.NewProgress(cfg.Cache.Dir)
	p := pipeline.New(cfg, st, anthropicClient, serperClient, firecrawlClient, progress)
	w := watch.New(st, progress, time.Duration(cfg.Watch.IntervalSecs)*time.Second)

	return &appEnv{
		Store:    st,
		Pipeline: p,
		Watcher:  w,
		Progress: progress,
	}, nil
}
