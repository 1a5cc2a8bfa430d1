package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It mirrors the locking discipline of the Postgres store: a global mutex
// only guards entry lookup/creation, and a per-session mutex serializes the
// read-modify-write on each record.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	rec CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string]*memoryEntry{}}
}

func (s *MemoryStore) EnsureAndMutate(ctx context.Context, sessionID string, init func() CallRecord, mutate func(rec *CallRecord) error) (CallRecord, bool, error) {
	if sessionID == "" {
		return CallRecord{}, false, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return CallRecord{}, false, err
	}

	s.mu.Lock()
	e, ok := s.recs[sessionID]
	created := false
	if !ok {
		e = &memoryEntry{rec: init()}
		s.recs[sessionID] = e
		created = true
	}
	e.mu.Lock()
	s.mu.Unlock()
	defer e.mu.Unlock()

	if mutate != nil {
		if err := mutate(&e.rec); err != nil {
			return CallRecord{}, created, err
		}
	}
	return e.rec.Clone(), created, nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (CallRecord, error) {
	if sessionID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return CallRecord{}, err
	}

	s.mu.Lock()
	e, ok := s.recs[sessionID]
	s.mu.Unlock()
	if !ok {
		return CallRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// ListByTenant returns clones of all records for a tenant whose StartedAt
// falls inside [from, to] inclusive. Reads are not linearizable with
// concurrent writers, matching the aggregation contract.
func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]CallRecord, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := make([]*memoryEntry, 0, len(s.recs))
	for _, e := range s.recs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]CallRecord, 0)
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec.Clone()
		e.mu.Unlock()
		if rec.TenantID != tenantID {
			continue
		}
		if rec.StartedAt.Before(from) || rec.StartedAt.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
