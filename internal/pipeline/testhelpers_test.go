package pipeline

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/marketsense/internal/cache"
	"github.com/sells-group/marketsense/internal/config"
	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/internal/store"
	"github.com/sells-group/marketsense/pkg/firecrawl"
)

// fakeStore is an in-memory Store for orchestrator and stage tests. The SQL
// implementations are covered by their own package tests; pipeline tests only
// need filter-by-status and version-check semantics.
type fakeStore struct {
	mu           sync.Mutex
	nextID       int
	requirements map[string]model.Requirement
	runs         map[string]model.PipelineRun
	queries      []model.Query
	sources      []model.ResearchSource
	contents     []model.ScrapedContent
	analyses     map[string]model.MarketAnalysisResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requirements: make(map[string]model.Requirement),
		runs:         make(map[string]model.PipelineRun),
		analyses:     make(map[string]model.MarketAnalysisResult),
	}
}

func (f *fakeStore) genID() string {
	f.nextID++
	return "id-" + strconv.Itoa(f.nextID)
}

func (f *fakeStore) CreateRequirement(_ context.Context, req *model.Requirement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = f.genID()
	}
	f.requirements[req.ID] = *req
	return nil
}

func (f *fakeStore) GetRequirement(_ context.Context, id string) (*model.Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requirements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &req, nil
}

func (f *fakeStore) GetRun(_ context.Context, requirementID string) (*model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[requirementID]
	if !ok {
		return nil, nil
	}
	cp := run
	cp.Stages = append([]model.StageState(nil), run.Stages...)
	return &cp, nil
}

func (f *fakeStore) SaveRun(_ context.Context, run *model.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.runs[run.RequirementID]
	if run.Version == 0 {
		if ok {
			return store.ErrVersionConflict
		}
		run.Version = 1
	} else {
		if !ok || existing.Version != run.Version {
			return store.ErrVersionConflict
		}
		run.Version++
	}
	run.UpdatedAt = time.Now().UTC()
	cp := *run
	cp.Stages = append([]model.StageState(nil), run.Stages...)
	f.runs[run.RequirementID] = cp
	return nil
}

func (f *fakeStore) ClearRun(_ context.Context, requirementID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runs, requirementID)
	return nil
}

func (f *fakeStore) InsertQueries(_ context.Context, queries []model.Query) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range queries {
		if queries[i].ID == "" {
			queries[i].ID = f.genID()
		}
		f.queries = append(f.queries, queries[i])
	}
	return nil
}

func (f *fakeStore) ListQueries(_ context.Context, requirementID string, status model.QueryStatus) ([]model.Query, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Query
	for _, q := range f.queries {
		if q.RequirementID == requirementID && (status == "" || q.Status == status) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateQueryStatus(_ context.Context, id string, status model.QueryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queries {
		if f.queries[i].ID == id {
			f.queries[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) InsertSources(_ context.Context, sources []model.ResearchSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range sources {
		if sources[i].ID == "" {
			sources[i].ID = f.genID()
		}
		f.sources = append(f.sources, sources[i])
	}
	return nil
}

func (f *fakeStore) ListSources(_ context.Context, requirementID string, status model.SourceStatus) ([]model.ResearchSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ResearchSource
	for _, s := range f.sources {
		if s.RequirementID == requirementID && (status == "" || s.Status == status) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSourceStatus(_ context.Context, id string, status model.SourceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sources {
		if f.sources[i].ID == id {
			f.sources[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) InsertContents(_ context.Context, contents []model.ScrapedContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range contents {
		if contents[i].ID == "" {
			contents[i].ID = f.genID()
		}
		f.contents = append(f.contents, contents[i])
	}
	return nil
}

func (f *fakeStore) ListContents(_ context.Context, requirementID string, status model.ContentStatus, limit int) ([]model.ScrapedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ScrapedContent
	for _, c := range f.contents {
		if c.RequirementID == requirementID && (status == "" || c.Status == status) {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CountContents(_ context.Context, requirementID string, status model.ContentStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.contents {
		if c.RequirementID == requirementID && (status == "" || c.Status == status) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetContentSummary(_ context.Context, id string, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contents {
		if f.contents[i].ID == id {
			f.contents[i].Summary = summary
			f.contents[i].Status = model.ContentSummarized
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) UpdateContentStatus(_ context.Context, id string, status model.ContentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contents {
		if f.contents[i].ID == id {
			f.contents[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) UpsertAnalysis(_ context.Context, result *model.MarketAnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	result.UpdatedAt = time.Now().UTC()
	f.analyses[result.RequirementID] = *result
	return nil
}

func (f *fakeStore) GetAnalysis(_ context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.analyses[requirementID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// --- test fixture ---

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "test-model", MaxTokens: 1024, MaxSynthTokens: 4096},
		Serper:    config.SerperConfig{ResultsPerQuery: 5},
		Pipeline: config.PipelineConfig{
			SearchConcurrency:   3,
			SummaryBatchSize:    3,
			SummaryDelaySecs:    1,
			MaxSummarizeBatches: 20,
			RetryMaxAttempts:    1,
		},
	}
}

type fixture struct {
	p         *Pipeline
	store     *fakeStore
	anthropic *mockAnthropicClient
	serper    *mockSerperClient
	firecrawl *mockFirecrawlClient
	progress  *cache.Progress
	req       *model.Requirement
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newFakeStore()
	ai := new(mockAnthropicClient)
	search := new(mockSerperClient)
	fc := new(mockFirecrawlClient)
	progress := cache.NewProgress(t.TempDir())

	p := New(testConfig(), st, ai, search, fc, progress)
	// Tests must not sit out the production throttle.
	p.summaryLimiter = rate.NewLimiter(rate.Inf, 1)
	p.pollOpts = []firecrawl.PollOption{firecrawl.WithPollInterval(time.Millisecond)}

	req := &model.Requirement{
		Industry:         "logistics",
		ProblemStatement: "fleet downtime",
		ProposedSolution: "predictive maintenance platform",
		KeyFeatures:      "telematics, alerts, dashboards",
	}
	if err := st.CreateRequirement(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	return &fixture{p: p, store: st, anthropic: ai, serper: search, firecrawl: fc, progress: progress, req: req}
}
