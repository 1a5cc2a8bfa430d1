package usage

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRequest = errors.New("usage: invalid request")

const dateLayout = "2006-01-02"

// Repository abstracts the aggregation scan.
//
// Implementations must filter by tenant and by started_at window; the
// (tenant_id, started_at) index exists for exactly this read path. Rows are
// the per-call totals only — no transcript or tool payloads.
type Repository interface {
	ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]CallTotals, error)
}

// CallTotals is one call's contribution to a summary.
type CallTotals struct {
	SessionID       string
	StartedAt       time.Time
	DurationSeconds int
	Tokens          int64
	Characters      int64
}

// Summary is the aggregate usage answer for one tenant and window.
// From/To echo the resolved window bounds back to the caller.
type Summary struct {
	TenantID string    `json:"tenant_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`

	Calls           int   `json:"calls"`
	DurationSeconds int   `json:"duration_seconds"`
	Minutes         int   `json:"minutes"`
	Tokens          int64 `json:"tokens"`
	Characters      int64 `json:"characters"`
}

type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Summarize aggregates usage for a tenant over a calendar-date window.
// fromDate/toDate are YYYY-MM-DD; when both are present the window spans
// [fromDate 00:00:00, toDate 23:59:59.999] UTC, otherwise the last 24 hours
// ending now. An empty window yields all-zero values, never an error.
func (s *Service) Summarize(ctx context.Context, tenantID, fromDate, toDate string) (Summary, error) {
	if tenantID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("usage: repository not configured")
	}

	from, to, err := resolveWindow(fromDate, toDate, s.clock().UTC())
	if err != nil {
		return Summary{}, err
	}

	rows, err := s.repo.ListCalls(ctx, tenantID, from, to)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{TenantID: tenantID, From: from, To: to}
	for _, r := range rows {
		out.Calls++
		out.DurationSeconds += r.DurationSeconds
		out.Tokens += r.Tokens
		out.Characters += r.Characters
	}
	out.Minutes = ceilMinutes(out.DurationSeconds)
	return out, nil
}

func resolveWindow(fromDate, toDate string, now time.Time) (time.Time, time.Time, error) {
	if fromDate != "" && toDate != "" {
		f, err := time.ParseInLocation(dateLayout, fromDate, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRequest
		}
		t, err := time.ParseInLocation(dateLayout, toDate, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRequest
		}
		// End of the to-day, millisecond precision as stored.
		return f, t.Add(24*time.Hour - time.Millisecond), nil
	}
	return now.Add(-24 * time.Hour), now, nil
}

func ceilMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
