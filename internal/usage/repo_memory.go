package usage

import (
	"context"
	"time"

	"github.com/nullvalue11/book8-core-api/internal/calls"
)

// MemoryRepo adapts the in-memory call store for aggregation in tests and
// early development.
type MemoryRepo struct {
	store *calls.MemoryStore
}

func NewMemoryRepo(store *calls.MemoryStore) *MemoryRepo {
	return &MemoryRepo{store: store}
}

func (r *MemoryRepo) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]CallTotals, error) {
	recs, err := r.store.ListByTenant(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]CallTotals, 0, len(recs))
	for _, rec := range recs {
		c := CallTotals{
			SessionID:  rec.SessionID,
			StartedAt:  rec.StartedAt,
			Tokens:     rec.Usage.Tokens,
			Characters: rec.Usage.Characters,
		}
		if rec.DurationSeconds != nil {
			c.DurationSeconds = *rec.DurationSeconds
		}
		out = append(out, c)
	}
	return out, nil
}
