package calls

import (
	"context"
	"errors"
	"time"

	"github.com/nullvalue11/book8-core-api/pkg/logger"
	"github.com/nullvalue11/book8-core-api/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Service implements call-event ingestion.
//
// Delivery invariants:
// - Event delivery is at-least-once and unordered; every operation tolerates
//   arriving before its logical predecessor or being redelivered after its
//   logical successor.
// - Redelivered events carrying an idempotency key (session id for
//   start/end, turn_id / event_id for appends) are applied at most once.
// - Usage counters only increase; a negative delta rejects the whole call
//   before any state is touched.
//
// Failed mutations are not retried here; the producer owns redelivery.
type Service struct {
	store Store

	// rdb, when set, short-circuits redelivered appends before they reach
	// the store. Keys are marked only after a successful commit, so a cold
	// or unavailable cache can never cause a false no-op.
	rdb *redis.Client

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

var ErrNegativeDelta = errors.New("calls: usage delta must be non-negative")

// seenKeyTTL bounds the redis dedup fast path. Redeliveries arrive within
// seconds; a day of slack costs little and keeps the keyspace bounded.
const seenKeyTTL = 24 * time.Hour

func NewService(store Store, rdb *redis.Client) *Service {
	return &Service{store: store, rdb: rdb, clock: time.Now}
}

type StartRequest struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

type TranscriptRequest struct {
	SessionID string      `json:"session_id"`
	Role      SpeakerRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
}

type ToolRequest struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Success   *bool     `json:"success,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
}

type UsageDelta struct {
	Tokens     int64   `json:"tokens,omitempty"`
	Characters int64   `json:"characters,omitempty"`
	Seconds    float64 `json:"seconds,omitempty"`
}

func (d UsageDelta) zero() bool {
	return d.Tokens == 0 && d.Characters == 0 && d.Seconds == 0
}

type EndRequest struct {
	SessionID       string     `json:"session_id"`
	Status          CallStatus `json:"status,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	EndedAt         time.Time  `json:"ended_at,omitempty"`
}

// Start creates the call record. The session id is its own idempotency key:
// a redelivered start is a no-op that leaves tenant, endpoints and
// started_at exactly as the first delivery set them.
func (s *Service) Start(ctx context.Context, req StartRequest) (CallRecord, bool, error) {
	if req.SessionID == "" || req.TenantID == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}

	now := s.clock().UTC()
	rec, created, err := s.store.EnsureAndMutate(ctx, req.SessionID, func() CallRecord {
		return CallRecord{
			SessionID: req.SessionID,
			TenantID:  req.TenantID,
			From:      req.From,
			To:        req.To,
			Status:    CallStatusInitiated,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}, nil)
	if err != nil {
		return CallRecord{}, false, err
	}
	return rec, !created, nil
}

// AppendTranscript appends one conversation turn. Entries carrying a
// turn_id are appended at most once per session; entries without one are
// always appended (no dedup is possible for them).
func (s *Service) AppendTranscript(ctx context.Context, req TranscriptRequest) (CallRecord, bool, error) {
	if req.SessionID == "" || req.Text == "" || !req.Role.Valid() {
		return CallRecord{}, false, ErrInvalidArgument
	}

	now := s.clock().UTC()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}

	if req.TurnID != "" {
		if rec, ok := s.seenFastPath(ctx, req.SessionID, "turn", req.TurnID); ok {
			return rec, true, nil
		}
	}

	noop := false
	rec, _, err := s.store.EnsureAndMutate(ctx, req.SessionID, s.minimalRecord(req.SessionID, now), func(rec *CallRecord) error {
		if req.TurnID != "" && rec.HasTurn(req.TurnID) {
			noop = true
			return nil
		}
		rec.Transcript = append(rec.Transcript, TranscriptEntry{
			TurnID:    req.TurnID,
			Role:      req.Role,
			Text:      req.Text,
			Timestamp: ts,
		})
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	if !noop && req.TurnID != "" {
		s.markSeen(ctx, req.SessionID, "turn", req.TurnID)
	}
	return rec, noop, nil
}

// AppendTool appends one tool invocation, deduplicated by event_id the same
// way transcript turns are by turn_id. Success defaults to true.
func (s *Service) AppendTool(ctx context.Context, req ToolRequest) (CallRecord, bool, error) {
	if req.SessionID == "" || req.Name == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}

	now := s.clock().UTC()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}

	if req.EventID != "" {
		if rec, ok := s.seenFastPath(ctx, req.SessionID, "tool", req.EventID); ok {
			return rec, true, nil
		}
	}

	noop := false
	rec, _, err := s.store.EnsureAndMutate(ctx, req.SessionID, s.minimalRecord(req.SessionID, now), func(rec *CallRecord) error {
		if req.EventID != "" && rec.HasToolEvent(req.EventID) {
			noop = true
			return nil
		}
		rec.ToolEvents = append(rec.ToolEvents, ToolEvent{
			EventID:   req.EventID,
			Name:      req.Name,
			Success:   success,
			Timestamp: ts,
		})
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	if !noop && req.EventID != "" {
		s.markSeen(ctx, req.SessionID, "tool", req.EventID)
	}
	return rec, noop, nil
}

// ApplyUsage adds a non-negative delta to the call's usage counters. Deltas
// carry no idempotency key; a redelivered delta counts twice, so producers
// must emit each measurement exactly once.
func (s *Service) ApplyUsage(ctx context.Context, sessionID string, delta UsageDelta) (CallRecord, bool, error) {
	if sessionID == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}
	if delta.Tokens < 0 || delta.Characters < 0 || delta.Seconds < 0 {
		return CallRecord{}, false, ErrNegativeDelta
	}

	if delta.zero() {
		// Nothing to add: do not create a record for an all-zero delta.
		rec, err := s.store.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return CallRecord{}, true, nil
			}
			return CallRecord{}, false, err
		}
		return rec, true, nil
	}

	now := s.clock().UTC()
	rec, _, err := s.store.EnsureAndMutate(ctx, sessionID, s.minimalRecord(sessionID, now), func(rec *CallRecord) error {
		rec.Usage.Tokens += delta.Tokens
		rec.Usage.Characters += delta.Characters
		rec.Usage.Seconds += delta.Seconds
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	return rec, false, nil
}

// End marks the call terminal. Unknown or missing status defaults to
// completed; a negative duration is ignored rather than applied. Telephony
// callbacks may race ahead of start, so a missing record is created on the
// fly instead of failing.
//
// Status transitions are not validated; a late end callback may rewrite a
// terminal state.
func (s *Service) End(ctx context.Context, req EndRequest) (CallRecord, bool, error) {
	if req.SessionID == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}

	now := s.clock().UTC()
	status := req.Status
	if !status.Valid() {
		status = CallStatusCompleted
	}
	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = now
	}

	rec, _, err := s.store.EnsureAndMutate(ctx, req.SessionID, s.minimalRecord(req.SessionID, now), func(rec *CallRecord) error {
		rec.Status = status
		t := endedAt
		rec.EndedAt = &t
		if req.DurationSeconds != nil && *req.DurationSeconds >= 0 {
			d := *req.DurationSeconds
			rec.DurationSeconds = &d
		}
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	return rec, false, nil
}

// Get is a diagnostics read.
func (s *Service) Get(ctx context.Context, sessionID string) (CallRecord, error) {
	if sessionID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, sessionID)
}

// minimalRecord is the initializer for events that reach the store before
// start did: no tenant, no endpoints, started_at stamped now.
func (s *Service) minimalRecord(sessionID string, now time.Time) func() CallRecord {
	return func() CallRecord {
		return CallRecord{
			SessionID: sessionID,
			Status:    CallStatusInitiated,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
}

// seenFastPath returns the current record when the idempotency key was
// already applied and the record is still readable. Cache errors and misses
// fall through to the store, which performs the authoritative check.
func (s *Service) seenFastPath(ctx context.Context, sessionID, kind, id string) (CallRecord, bool) {
	if s.rdb == nil {
		return CallRecord{}, false
	}
	key := utils.EventSeenKey(sessionID, kind, id)
	seen, err := utils.SeenEvent(ctx, s.rdb, key)
	if err != nil || !seen {
		return CallRecord{}, false
	}
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return CallRecord{}, false
	}
	return rec, true
}

func (s *Service) markSeen(ctx context.Context, sessionID, kind, id string) {
	if s.rdb == nil {
		return
	}
	key := utils.EventSeenKey(sessionID, kind, id)
	if _, err := utils.MarkEventSeen(ctx, s.rdb, key, seenKeyTTL); err != nil {
		// Best-effort: the durable store already holds the entry.
		logger.From(ctx).Debug("seen-key mark failed", "key", key, "err", err)
	}
}
