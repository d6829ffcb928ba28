// Package db provides shared database helpers for batched writes.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool batch helpers need. Satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// BatchInsert inserts rows into a table in a single round trip using a pgx
// batch. Each row must have one value per column.
func BatchInsert(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if len(columns) == 0 {
		return eris.New("db: batch insert: no columns specified")
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		sanitizeTable(table),
		quoteAndJoin(columns),
		strings.Join(placeholders, ", "),
	)

	batch := &pgx.Batch{}
	for _, row := range rows {
		if len(row) != len(columns) {
			return eris.Errorf("db: batch insert: row has %d values, want %d", len(row), len(columns))
		}
		batch.Queue(sql, row...)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range rows {
		if _, err := results.Exec(); err != nil {
			return eris.Wrapf(err, "db: batch insert row %d into %s", i, table)
		}
	}
	return nil
}

// sanitizeTable handles schema-qualified table names like "research.sources".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
