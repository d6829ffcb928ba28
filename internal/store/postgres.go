package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/marketsense/internal/db"
	"github.com/sells-group/marketsense/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses. Satisfied by
// pgxmock.PgxPoolIface in tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store against PostgreSQL via pgx.
type PostgresStore struct {
	pool pgPool
}

// NewPostgres connects to PostgreSQL using the given URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS requirements (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	problem    TEXT NOT NULL DEFAULT '',
	solution   TEXT NOT NULL DEFAULT '',
	features   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	requirement_id TEXT PRIMARY KEY REFERENCES requirements(id),
	stages         JSONB NOT NULL,
	current_stage  INT NOT NULL DEFAULT 0,
	version        BIGINT NOT NULL DEFAULT 1,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS research_queries (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	query_text     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS research_sources (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	query_id       TEXT NOT NULL REFERENCES research_queries(id),
	title          TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL,
	snippet        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'found',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraped_contents (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	source_id      TEXT NOT NULL REFERENCES research_sources(id),
	url            TEXT NOT NULL,
	content        TEXT NOT NULL,
	summary        TEXT,
	status         TEXT NOT NULL DEFAULT 'pending_summary',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS market_analyses (
	requirement_id TEXT PRIMARY KEY REFERENCES requirements(id),
	result         JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'Draft',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queries_req_status ON research_queries(requirement_id, status);
CREATE INDEX IF NOT EXISTS idx_sources_req_status ON research_sources(requirement_id, status);
CREATE INDEX IF NOT EXISTS idx_contents_req_status ON scraped_contents(requirement_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRequirement(ctx context.Context, req *model.Requirement) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO requirements (id, industry, problem, solution, features, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.Industry, req.ProblemStatement, req.ProposedSolution, req.KeyFeatures, req.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert requirement")
}

func (s *PostgresStore) GetRequirement(ctx context.Context, id string) (*model.Requirement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, industry, problem, solution, features, created_at FROM requirements WHERE id = $1`, id)

	var r model.Requirement
	err := row.Scan(&r.ID, &r.Industry, &r.ProblemStatement, &r.ProposedSolution, &r.KeyFeatures, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "requirement %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get requirement")
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, requirementID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT requirement_id, stages, current_stage, version, updated_at FROM pipeline_runs WHERE requirement_id = $1`,
		requirementID)

	var run model.PipelineRun
	var stagesJSON []byte
	err := row.Scan(&run.RequirementID, &stagesJSON, &run.CurrentStage, &run.Version, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	if err := json.Unmarshal(stagesJSON, &run.Stages); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stages")
	}
	return &run, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.PipelineRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stages")
	}
	now := time.Now().UTC()

	if run.Version == 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO pipeline_runs (requirement_id, stages, current_stage, version, updated_at) VALUES ($1, $2, $3, 1, $4)`,
			run.RequirementID, stagesJSON, run.CurrentStage, now,
		)
		if err != nil {
			return eris.Wrap(ErrVersionConflict, err.Error())
		}
		run.Version = 1
		run.UpdatedAt = now
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET stages = $1, current_stage = $2, version = version + 1, updated_at = $3
		 WHERE requirement_id = $4 AND version = $5`,
		stagesJSON, run.CurrentStage, now, run.RequirementID, run.Version,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update run")
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	run.Version++
	run.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ClearRun(ctx context.Context, requirementID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE requirement_id = $1`, requirementID)
	return eris.Wrap(err, "postgres: clear run")
}

func (s *PostgresStore) InsertQueries(ctx context.Context, queries []model.Query) error {
	rows := make([][]any, len(queries))
	for i := range queries {
		q := &queries[i]
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{q.ID, q.RequirementID, q.Text, string(q.Status), q.CreatedAt}
	}
	err := db.BatchInsert(ctx, s.pool, "research_queries",
		[]string{"id", "requirement_id", "query_text", "status", "created_at"}, rows)
	return eris.Wrap(err, "postgres: insert queries")
}

func (s *PostgresStore) ListQueries(ctx context.Context, requirementID string, status model.QueryStatus) ([]model.Query, error) {
	query := `SELECT id, requirement_id, query_text, status, created_at FROM research_queries WHERE requirement_id = $1`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queries")
	}
	defer rows.Close()

	var out []model.Query
	for rows.Next() {
		var q model.Query
		if err := rows.Scan(&q.ID, &q.RequirementID, &q.Text, &q.Status, &q.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan query")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list queries iterate")
}

func (s *PostgresStore) UpdateQueryStatus(ctx context.Context, id string, status model.QueryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_queries SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update query status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "query %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertSources(ctx context.Context, sources []model.ResearchSource) error {
	rows := make([][]any, len(sources))
	for i := range sources {
		src := &sources[i]
		if src.ID == "" {
			src.ID = uuid.New().String()
		}
		if src.CreatedAt.IsZero() {
			src.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{src.ID, src.RequirementID, src.QueryID, src.Title, src.URL, src.Snippet, string(src.Status), src.CreatedAt}
	}
	err := db.BatchInsert(ctx, s.pool, "research_sources",
		[]string{"id", "requirement_id", "query_id", "title", "url", "snippet", "status", "created_at"}, rows)
	return eris.Wrap(err, "postgres: insert sources")
}

func (s *PostgresStore) ListSources(ctx context.Context, requirementID string, status model.SourceStatus) ([]model.ResearchSource, error) {
	query := `SELECT id, requirement_id, query_id, title, url, snippet, status, created_at FROM research_sources WHERE requirement_id = $1`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.ResearchSource
	for rows.Next() {
		var src model.ResearchSource
		if err := rows.Scan(&src.ID, &src.RequirementID, &src.QueryID, &src.Title, &src.URL, &src.Snippet, &src.Status, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sources SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "source %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertContents(ctx context.Context, contents []model.ScrapedContent) error {
	rows := make([][]any, len(contents))
	for i := range contents {
		c := &contents[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{c.ID, c.RequirementID, c.SourceID, c.URL, c.Content, nullable(c.Summary), string(c.Status), c.CreatedAt}
	}
	err := db.BatchInsert(ctx, s.pool, "scraped_contents",
		[]string{"id", "requirement_id", "source_id", "url", "content", "summary", "status", "created_at"}, rows)
	return eris.Wrap(err, "postgres: insert contents")
}

func (s *PostgresStore) ListContents(ctx context.Context, requirementID string, status model.ContentStatus, limit int) ([]model.ScrapedContent, error) {
	query := `SELECT id, requirement_id, source_id, url, content, summary, status, created_at FROM scraped_contents WHERE requirement_id = $1`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contents")
	}
	defer rows.Close()

	var out []model.ScrapedContent
	for rows.Next() {
		var c model.ScrapedContent
		var summary *string
		if err := rows.Scan(&c.ID, &c.RequirementID, &c.SourceID, &c.URL, &c.Content, &summary, &c.Status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan content")
		}
		if summary != nil {
			c.Summary = *summary
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contents iterate")
}

func (s *PostgresStore) CountContents(ctx context.Context, requirementID string, status model.ContentStatus) (int, error) {
	query := `SELECT COUNT(*) FROM scraped_contents WHERE requirement_id = $1`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count contents")
	}
	return n, nil
}

func (s *PostgresStore) SetContentSummary(ctx context.Context, id string, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraped_contents SET summary = $1, status = $2 WHERE id = $3`,
		summary, string(model.ContentSummarized), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set content summary %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "content %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateContentStatus(ctx context.Context, id string, status model.ContentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraped_contents SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update content status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "content %s", id)
	}
	return nil
}

func (s *PostgresStore) UpsertAnalysis(ctx context.Context, result *model.MarketAnalysisResult) error {
	result.UpdatedAt = time.Now().UTC()
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO market_analyses (requirement_id, result, status, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (requirement_id) DO UPDATE SET result = EXCLUDED.result, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		result.RequirementID, resultJSON, string(result.Status), result.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert analysis")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT result FROM market_analyses WHERE requirement_id = $1`, requirementID)

	var resultJSON []byte
	err := row.Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get analysis")
	}

	var result model.MarketAnalysisResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	return &result, nil
}
