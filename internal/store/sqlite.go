package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/marketsense/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS requirements (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	problem    TEXT NOT NULL DEFAULT '',
	solution   TEXT NOT NULL DEFAULT '',
	features   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	requirement_id TEXT PRIMARY KEY REFERENCES requirements(id),
	stages         TEXT NOT NULL,
	current_stage  INTEGER NOT NULL DEFAULT 0,
	version        INTEGER NOT NULL DEFAULT 1,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS research_queries (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	query_text     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS research_sources (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	query_id       TEXT NOT NULL REFERENCES research_queries(id),
	title          TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL,
	snippet        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'found',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scraped_contents (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	source_id      TEXT NOT NULL REFERENCES research_sources(id),
	url            TEXT NOT NULL,
	content        TEXT NOT NULL,
	summary        TEXT,
	status         TEXT NOT NULL DEFAULT 'pending_summary',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS market_analyses (
	requirement_id TEXT PRIMARY KEY REFERENCES requirements(id),
	result         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'Draft',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_queries_req_status ON research_queries(requirement_id, status);
CREATE INDEX IF NOT EXISTS idx_sources_req_status ON research_sources(requirement_id, status);
CREATE INDEX IF NOT EXISTS idx_contents_req_status ON scraped_contents(requirement_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequirement(ctx context.Context, req *model.Requirement) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requirements (id, industry, problem, solution, features, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.Industry, req.ProblemStatement, req.ProposedSolution, req.KeyFeatures, req.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert requirement")
}

func (s *SQLiteStore) GetRequirement(ctx context.Context, id string) (*model.Requirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, industry, problem, solution, features, created_at FROM requirements WHERE id = ?`, id)

	var r model.Requirement
	err := row.Scan(&r.ID, &r.Industry, &r.ProblemStatement, &r.ProposedSolution, &r.KeyFeatures, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "requirement %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get requirement")
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, requirementID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT requirement_id, stages, current_stage, version, updated_at FROM pipeline_runs WHERE requirement_id = ?`,
		requirementID)

	var run model.PipelineRun
	var stagesJSON string
	err := row.Scan(&run.RequirementID, &stagesJSON, &run.CurrentStage, &run.Version, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	if err := json.Unmarshal([]byte(stagesJSON), &run.Stages); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stages")
	}
	return &run, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.PipelineRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stages")
	}
	now := time.Now().UTC()

	if run.Version == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO pipeline_runs (requirement_id, stages, current_stage, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
			run.RequirementID, string(stagesJSON), run.CurrentStage, now,
		)
		if err != nil {
			// A concurrent writer created the run first.
			return eris.Wrap(ErrVersionConflict, err.Error())
		}
		run.Version = 1
		run.UpdatedAt = now
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET stages = ?, current_stage = ?, version = version + 1, updated_at = ?
		 WHERE requirement_id = ? AND version = ?`,
		string(stagesJSON), run.CurrentStage, now, run.RequirementID, run.Version,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrVersionConflict
	}
	run.Version++
	run.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ClearRun(ctx context.Context, requirementID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE requirement_id = ?`, requirementID)
	return eris.Wrap(err, "sqlite: clear run")
}

func (s *SQLiteStore) InsertQueries(ctx context.Context, queries []model.Query) error {
	for i := range queries {
		q := &queries[i]
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO research_queries (id, requirement_id, query_text, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			q.ID, q.RequirementID, q.Text, string(q.Status), q.CreatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert query")
		}
	}
	return nil
}

func (s *SQLiteStore) ListQueries(ctx context.Context, requirementID string, status model.QueryStatus) ([]model.Query, error) {
	query := `SELECT id, requirement_id, query_text, status, created_at FROM research_queries WHERE requirement_id = ?`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close()

	var out []model.Query
	for rows.Next() {
		var q model.Query
		if err := rows.Scan(&q.ID, &q.RequirementID, &q.Text, &q.Status, &q.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list queries iterate")
}

func (s *SQLiteStore) UpdateQueryStatus(ctx context.Context, id string, status model.QueryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_queries SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update query status %s", id)
	}
	return checkRowsAffected(res, "query", id)
}

func (s *SQLiteStore) InsertSources(ctx context.Context, sources []model.ResearchSource) error {
	for i := range sources {
		src := &sources[i]
		if src.ID == "" {
			src.ID = uuid.New().String()
		}
		if src.CreatedAt.IsZero() {
			src.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO research_sources (id, requirement_id, query_id, title, url, snippet, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			src.ID, src.RequirementID, src.QueryID, src.Title, src.URL, src.Snippet, string(src.Status), src.CreatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert source")
		}
	}
	return nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, requirementID string, status model.SourceStatus) ([]model.ResearchSource, error) {
	query := `SELECT id, requirement_id, query_id, title, url, snippet, status, created_at FROM research_sources WHERE requirement_id = ?`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []model.ResearchSource
	for rows.Next() {
		var src model.ResearchSource
		if err := rows.Scan(&src.ID, &src.RequirementID, &src.QueryID, &src.Title, &src.URL, &src.Snippet, &src.Status, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sources SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source status %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) InsertContents(ctx context.Context, contents []model.ScrapedContent) error {
	for i := range contents {
		c := &contents[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO scraped_contents (id, requirement_id, source_id, url, content, summary, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RequirementID, c.SourceID, c.URL, c.Content, nullable(c.Summary), string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert content")
		}
	}
	return nil
}

func (s *SQLiteStore) ListContents(ctx context.Context, requirementID string, status model.ContentStatus, limit int) ([]model.ScrapedContent, error) {
	query := `SELECT id, requirement_id, source_id, url, content, summary, status, created_at FROM scraped_contents WHERE requirement_id = ?`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contents")
	}
	defer rows.Close()

	var out []model.ScrapedContent
	for rows.Next() {
		var c model.ScrapedContent
		var summary sql.NullString
		if err := rows.Scan(&c.ID, &c.RequirementID, &c.SourceID, &c.URL, &c.Content, &summary, &c.Status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan content")
		}
		c.Summary = summary.String
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contents iterate")
}

func (s *SQLiteStore) CountContents(ctx context.Context, requirementID string, status model.ContentStatus) (int, error) {
	query := `SELECT COUNT(*) FROM scraped_contents WHERE requirement_id = ?`
	args := []any{requirementID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count contents")
	}
	return n, nil
}

func (s *SQLiteStore) SetContentSummary(ctx context.Context, id string, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraped_contents SET summary = ?, status = ? WHERE id = ?`,
		summary, string(model.ContentSummarized), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set content summary %s", id)
	}
	return checkRowsAffected(res, "content", id)
}

func (s *SQLiteStore) UpdateContentStatus(ctx context.Context, id string, status model.ContentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraped_contents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update content status %s", id)
	}
	return checkRowsAffected(res, "content", id)
}

func (s *SQLiteStore) UpsertAnalysis(ctx context.Context, result *model.MarketAnalysisResult) error {
	result.UpdatedAt = time.Now().UTC()
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO market_analyses (requirement_id, result, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(requirement_id) DO UPDATE SET result = excluded.result, status = excluded.status, updated_at = excluded.updated_at`,
		result.RequirementID, string(resultJSON), string(result.Status), result.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert analysis")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, requirementID string) (*model.MarketAnalysisResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM market_analyses WHERE requirement_id = ?`, requirementID)

	var resultJSON string
	err := row.Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get analysis")
	}

	var result model.MarketAnalysisResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &result, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
