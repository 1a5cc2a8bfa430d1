package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo scans the calls table for aggregation. It reads committed
// rows only; a call still being written while a summary runs may or may not
// be counted, which the aggregation contract allows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]CallTotals, error) {
	const q = `
SELECT session_id, started_at, COALESCE(duration_seconds, 0), usage_tokens, usage_characters
FROM calls
WHERE tenant_id = $1 AND started_at >= $2 AND started_at <= $3
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []CallTotals
	for rows.Next() {
		var c CallTotals
		if err := rows.Scan(&c.SessionID, &c.StartedAt, &c.DurationSeconds, &c.Tokens, &c.Characters); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
