package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketsense/internal/model"
)

// ErrVersionConflict is returned by SaveRun when another writer advanced the
// run since it was read. The caller must re-read and decide whether to retry.
var ErrVersionConflict = eris.New("store: run version conflict")

// ErrNotFound is returned when a row addressed by ID does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the market-analysis pipeline.
// Status arguments of the List/Count methods filter by equality; the zero
// value selects all statuses.
type Store interface {
	// Requirements
	CreateRequirement(ctx context.Context, req *model.Requirement) error
	GetRequirement(ctx context.Context, id string) (*model.Requirement, error)

	// Pipeline run progress. GetRun returns (nil, nil) when no run exists.
	// SaveRun performs an optimistic version check: a run read at version N
	// only writes if the stored row is still at version N.
	GetRun(ctx context.Context, requirementID string) (*model.PipelineRun, error)
	SaveRun(ctx context.Context, run *model.PipelineRun) error
	ClearRun(ctx context.Context, requirementID string) error

	// Search queries
	InsertQueries(ctx context.Context, queries []model.Query) error
	ListQueries(ctx context.Context, requirementID string, status model.QueryStatus) ([]model.Query, error)
	UpdateQueryStatus(ctx context.Context, id string, status model.QueryStatus) error

	// Research sources
	InsertSources(ctx context.Context, sources []model.ResearchSource) error
	ListSources(ctx context.Context, requirementID string, status model.SourceStatus) ([]model.ResearchSource, error)
	UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error

	// Scraped content. limit <= 0 means no limit.
	InsertContents(ctx context.Context, contents []model.ScrapedContent) error
	ListContents(ctx context.Context, requirementID string, status model.ContentStatus, limit int) ([]model.ScrapedContent, error)
	CountContents(ctx context.Context, requirementID string, status model.ContentStatus) (int, error)
	SetContentSummary(ctx context.Context, id string, summary string) error
	UpdateContentStatus(ctx context.Context, id string, status model.ContentStatus) error

	// Market analysis, keyed by requirement ID. GetAnalysis returns
	// (nil, nil) when no analysis exists yet.
	UpsertAnalysis(ctx context.Context, result *model.MarketAnalysisResult) error
	GetAnalysis(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
