package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nullvalue11/book8-core-api/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
//
//	calls (
//	  session_id       TEXT PRIMARY KEY,
//	  tenant_id        TEXT NOT NULL DEFAULT '',
//	  from_address     TEXT NOT NULL DEFAULT '',
//	  to_address       TEXT NOT NULL DEFAULT '',
//	  status           TEXT NOT NULL,
//	  started_at       TIMESTAMPTZ NOT NULL,
//	  ended_at         TIMESTAMPTZ,
//	  duration_seconds INT,
//	  usage_tokens     BIGINT NOT NULL DEFAULT 0,
//	  usage_characters BIGINT NOT NULL DEFAULT 0,
//	  usage_seconds    DOUBLE PRECISION NOT NULL DEFAULT 0,
//	  created_at       TIMESTAMPTZ NOT NULL,
//	  updated_at       TIMESTAMPTZ NOT NULL
//	)
//	CREATE INDEX ix_calls_tenant_started ON calls (tenant_id, started_at);
//
//	call_transcript (
//	  session_id TEXT NOT NULL REFERENCES calls(session_id),
//	  seq        INT NOT NULL,
//	  turn_id    TEXT,
//	  role       TEXT NOT NULL,
//	  text       TEXT NOT NULL,
//	  ts         TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (session_id, seq)
//	)
//	CREATE UNIQUE INDEX ux_call_transcript_turn
//	  ON call_transcript (session_id, turn_id) WHERE turn_id IS NOT NULL;
//
//	call_tool_events (
//	  session_id TEXT NOT NULL REFERENCES calls(session_id),
//	  seq        INT NOT NULL,
//	  event_id   TEXT,
//	  name       TEXT NOT NULL,
//	  success    BOOLEAN NOT NULL DEFAULT TRUE,
//	  ts         TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (session_id, seq)
//	)
//	CREATE UNIQUE INDEX ux_call_tool_events_event
//	  ON call_tool_events (session_id, event_id) WHERE event_id IS NOT NULL;
//
// The partial unique indexes back up the in-transaction dedup check; under
// the row lock they should never actually fire.

const defaultOpTimeout = 5 * time.Second

// PostgresStore implements Store on Postgres.
//
// Per-session serializability comes from locking the session row
// (SELECT ... FOR UPDATE) inside one transaction per mutation. Different
// sessions lock different rows and proceed in parallel.
type PostgresStore struct {
	db *sql.DB

	// opTimeout bounds every storage call so a stuck backend surfaces as a
	// retryable failure instead of holding the caller indefinitely.
	opTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, opTimeout: defaultOpTimeout}
}

func (s *PostgresStore) EnsureAndMutate(ctx context.Context, sessionID string, init func() CallRecord, mutate func(rec *CallRecord) error) (CallRecord, bool, error) {
	if sessionID == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var out CallRecord
	var created bool

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		created, err = insertIfAbsent(ctx, tx, init())
		if err != nil {
			return err
		}

		rec, err := lockCall(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec.Transcript, err = listTranscript(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec.ToolEvents, err = listToolEvents(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		nTranscript := len(rec.Transcript)
		nTools := len(rec.ToolEvents)

		if mutate != nil {
			if err := mutate(&rec); err != nil {
				return err
			}
		}

		for i := nTranscript; i < len(rec.Transcript); i++ {
			if err := insertTranscript(ctx, tx, sessionID, i, rec.Transcript[i]); err != nil {
				return err
			}
		}
		for i := nTools; i < len(rec.ToolEvents); i++ {
			if err := insertToolEvent(ctx, tx, sessionID, i, rec.ToolEvents[i]); err != nil {
				return err
			}
		}

		if err := updateCall(ctx, tx, rec); err != nil {
			return err
		}

		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (CallRecord, error) {
	if sessionID == "" {
		return CallRecord{}, ErrInvalidArgument
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := readCall(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec.Transcript, err = listTranscript(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec.ToolEvents, err = listToolEvents(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func insertIfAbsent(ctx context.Context, tx *sql.Tx, rec CallRecord) (bool, error) {
	const q = `
INSERT INTO calls (
  session_id, tenant_id, from_address, to_address, status,
  started_at, ended_at, duration_seconds,
  usage_tokens, usage_characters, usage_seconds,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (session_id) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		rec.SessionID,
		rec.TenantID,
		rec.From,
		rec.To,
		rec.Status,
		rec.StartedAt,
		nullTime(rec.EndedAt),
		nullInt(rec.DurationSeconds),
		rec.Usage.Tokens,
		rec.Usage.Characters,
		rec.Usage.Seconds,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const callColumns = `
session_id, tenant_id, from_address, to_address, status,
started_at, ended_at, duration_seconds,
usage_tokens, usage_characters, usage_seconds,
created_at, updated_at
`

func lockCall(ctx context.Context, tx *sql.Tx, sessionID string) (CallRecord, error) {
	q := "SELECT " + callColumns + " FROM calls WHERE session_id = $1 FOR UPDATE"
	return scanCall(tx.QueryRowContext(ctx, q, sessionID))
}

func readCall(ctx context.Context, tx *sql.Tx, sessionID string) (CallRecord, error) {
	q := "SELECT " + callColumns + " FROM calls WHERE session_id = $1"
	return scanCall(tx.QueryRowContext(ctx, q, sessionID))
}

func scanCall(row *sql.Row) (CallRecord, error) {
	var rec CallRecord
	var endedAt sql.NullTime
	var duration sql.NullInt64
	if err := row.Scan(
		&rec.SessionID,
		&rec.TenantID,
		&rec.From,
		&rec.To,
		&rec.Status,
		&rec.StartedAt,
		&endedAt,
		&duration,
		&rec.Usage.Tokens,
		&rec.Usage.Characters,
		&rec.Usage.Seconds,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationSeconds = &d
	}
	return rec, nil
}

func listTranscript(ctx context.Context, tx *sql.Tx, sessionID string) ([]TranscriptEntry, error) {
	const q = `
SELECT turn_id, role, text, ts
FROM call_transcript
WHERE session_id = $1
ORDER BY seq
`
	rows, err := tx.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var turnID sql.NullString
		if err := rows.Scan(&turnID, &e.Role, &e.Text, &e.Timestamp); err != nil {
			return nil, err
		}
		e.TurnID = turnID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func listToolEvents(ctx context.Context, tx *sql.Tx, sessionID string) ([]ToolEvent, error) {
	const q = `
SELECT event_id, name, success, ts
FROM call_tool_events
WHERE session_id = $1
ORDER BY seq
`
	rows, err := tx.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolEvent
	for rows.Next() {
		var e ToolEvent
		var eventID sql.NullString
		if err := rows.Scan(&eventID, &e.Name, &e.Success, &e.Timestamp); err != nil {
			return nil, err
		}
		e.EventID = eventID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertTranscript(ctx context.Context, tx *sql.Tx, sessionID string, seq int, e TranscriptEntry) error {
	const q = `
INSERT INTO call_transcript (session_id, seq, turn_id, role, text, ts)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := tx.ExecContext(ctx, q, sessionID, seq, nullString(e.TurnID), e.Role, e.Text, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

func insertToolEvent(ctx context.Context, tx *sql.Tx, sessionID string, seq int, e ToolEvent) error {
	const q = `
INSERT INTO call_tool_events (session_id, seq, event_id, name, success, ts)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := tx.ExecContext(ctx, q, sessionID, seq, nullString(e.EventID), e.Name, e.Success, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert tool event: %w", err)
	}
	return nil
}

func updateCall(ctx context.Context, tx *sql.Tx, rec CallRecord) error {
	const q = `
UPDATE calls
SET status = $2,
    ended_at = $3,
    duration_seconds = $4,
    usage_tokens = $5,
    usage_characters = $6,
    usage_seconds = $7,
    updated_at = $8
WHERE session_id = $1
`
	_, err := tx.ExecContext(ctx, q,
		rec.SessionID,
		rec.Status,
		nullTime(rec.EndedAt),
		nullInt(rec.DurationSeconds),
		rec.Usage.Tokens,
		rec.Usage.Characters,
		rec.Usage.Seconds,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
