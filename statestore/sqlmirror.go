package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the pgx stdlib driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MercatoLabs/dealkit/types"
)

// SQLMirror durably mirrors summary records so a session can be recovered
// after the fast store's TTL expires. Writes are best-effort; readers use
// LatestSummaries during recovery only.
type SQLMirror struct {
	db *sql.DB
}

// OpenSQLMirror connects via the pgx stdlib driver and ensures the schema.
func OpenSQLMirror(ctx context.Context, dsn string) (*SQLMirror, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql mirror: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql mirror: %w", err)
	}

	m := &SQLMirror{db: db}
	if err := m.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// NewSQLMirror wraps an existing connection pool (used by tests).
func NewSQLMirror(db *sql.DB) *SQLMirror {
	return &SQLMirror{db: db}
}

func (m *SQLMirror) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_summaries (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT        NOT NULL,
	summary       TEXT        NOT NULL,
	short_summary TEXT        NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS session_summaries_session_idx
	ON session_summaries (session_id, created_at DESC);`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure sql mirror schema: %w", err)
	}
	return nil
}

// shortSummaryMaxChars bounds the short_summary column used in recovery
// listings.
const shortSummaryMaxChars = 200

// SaveSummary inserts one summary record.
func (m *SQLMirror) SaveSummary(ctx context.Context, sessionID string, summary types.Summary) error {
	short := summary.Text
	if len(short) > shortSummaryMaxChars {
		short = short[:shortSummaryMaxChars]
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, summary, short_summary, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, summary.Text, short, summary.Timestamp)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// LatestSummaries returns the newest n summaries for a session,
// newest-first.
func (m *SQLMirror) LatestSummaries(ctx context.Context, sessionID string, n int) ([]types.Summary, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT summary, created_at FROM session_summaries
		 WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []types.Summary
	for rows.Next() {
		var text string
		var at time.Time
		if err := rows.Scan(&text, &at); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, types.Summary{Text: text, Timestamp: at})
	}
	return out, rows.Err()
}

// Cleanup deletes mirrored summaries older than the bound.
func (m *SQLMirror) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM session_summaries WHERE created_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("cleanup summaries: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the connection pool.
func (m *SQLMirror) Close() error {
	return m.db.Close()
}
