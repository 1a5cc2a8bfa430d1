package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nullvalue11/book8-core-api/internal/calls"
)

func seedCall(t *testing.T, st *calls.MemoryStore, sessionID, tenantID string, startedAt time.Time, duration int, tokens, characters int64) {
	t.Helper()
	_, _, err := st.EnsureAndMutate(context.Background(), sessionID, func() calls.CallRecord {
		d := duration
		return calls.CallRecord{
			SessionID:       sessionID,
			TenantID:        tenantID,
			Status:          calls.CallStatusCompleted,
			StartedAt:       startedAt,
			DurationSeconds: &d,
			Usage:           calls.Usage{Tokens: tokens, Characters: characters},
			CreatedAt:       startedAt,
			UpdatedAt:       startedAt,
		}
	}, nil)
	if err != nil {
		t.Fatalf("seed %s: %v", sessionID, err)
	}
}

func TestSummarize_WindowAggregation(t *testing.T) {
	st := calls.NewMemoryStore()
	inWindow := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	outWindow := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	seedCall(t, st, "c1", "acme", inWindow, 30, 100, 1000)
	seedCall(t, st, "c2", "acme", inWindow.Add(time.Hour), 45, 50, 500)
	seedCall(t, st, "c3", "acme", outWindow, 0, 999, 999)

	svc := NewService(NewMemoryRepo(st))
	sum, err := svc.Summarize(context.Background(), "acme", "2024-03-10", "2024-03-10")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", sum.Calls)
	}
	if sum.DurationSeconds != 75 {
		t.Fatalf("expected 75 seconds, got %d", sum.DurationSeconds)
	}
	if sum.Minutes != 2 {
		t.Fatalf("expected ceil(75/60)=2 minutes, got %d", sum.Minutes)
	}
	if sum.Tokens != 150 || sum.Characters != 1500 {
		t.Fatalf("out-of-window usage leaked in: tokens=%d chars=%d", sum.Tokens, sum.Characters)
	}
}

func TestSummarize_WindowBoundsAreDayInclusive(t *testing.T) {
	st := calls.NewMemoryStore()
	seedCall(t, st, "sod", "acme", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 10, 0, 0)
	seedCall(t, st, "eod", "acme", time.Date(2024, 3, 11, 23, 59, 59, int(999*time.Millisecond), time.UTC), 10, 0, 0)
	seedCall(t, st, "next", "acme", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), 10, 0, 0)

	svc := NewService(NewMemoryRepo(st))
	sum, err := svc.Summarize(context.Background(), "acme", "2024-03-10", "2024-03-11")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.Calls != 2 {
		t.Fatalf("expected start-of-from and end-of-to days included, got %d calls", sum.Calls)
	}
	if !sum.From.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected resolved from: %v", sum.From)
	}
	if !sum.To.Equal(time.Date(2024, 3, 11, 23, 59, 59, int(999*time.Millisecond), time.UTC)) {
		t.Fatalf("unexpected resolved to: %v", sum.To)
	}
}

func TestSummarize_DefaultWindowIsLast24Hours(t *testing.T) {
	st := calls.NewMemoryStore()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	seedCall(t, st, "recent", "acme", now.Add(-time.Hour), 60, 10, 0)
	seedCall(t, st, "stale", "acme", now.Add(-25*time.Hour), 60, 10, 0)

	svc := NewService(NewMemoryRepo(st))
	svc.clock = func() time.Time { return now }

	sum, err := svc.Summarize(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.Calls != 1 {
		t.Fatalf("expected only the 1h-old call, got %d", sum.Calls)
	}
	if !sum.From.Equal(now.Add(-24 * time.Hour)) || !sum.To.Equal(now) {
		t.Fatalf("unexpected default window: %v .. %v", sum.From, sum.To)
	}
}

func TestSummarize_SingleDateFallsBackToDefaultWindow(t *testing.T) {
	st := calls.NewMemoryStore()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	seedCall(t, st, "recent", "acme", now.Add(-time.Hour), 60, 0, 0)

	svc := NewService(NewMemoryRepo(st))
	svc.clock = func() time.Time { return now }

	sum, err := svc.Summarize(context.Background(), "acme", "2024-01-01", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.Calls != 1 {
		t.Fatalf("expected default window when only one bound given, got %d calls", sum.Calls)
	}
}

func TestSummarize_NoMatchesReturnsZeros(t *testing.T) {
	svc := NewService(NewMemoryRepo(calls.NewMemoryStore()))
	sum, err := svc.Summarize(context.Background(), "acme", "2024-03-10", "2024-03-10")
	if err != nil {
		t.Fatalf("expected zero summary, got err %v", err)
	}
	if sum.Calls != 0 || sum.DurationSeconds != 0 || sum.Minutes != 0 || sum.Tokens != 0 || sum.Characters != 0 {
		t.Fatalf("expected all zeros, got %+v", sum)
	}
}

func TestSummarize_RequiresTenant(t *testing.T) {
	svc := NewService(NewMemoryRepo(calls.NewMemoryStore()))
	if _, err := svc.Summarize(context.Background(), "", "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSummarize_RejectsBadDates(t *testing.T) {
	svc := NewService(NewMemoryRepo(calls.NewMemoryStore()))
	if _, err := svc.Summarize(context.Background(), "acme", "03/10/2024", "2024-03-11"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCeilMinutes(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 59: 1, 60: 1, 61: 2, 75: 2, 120: 2}
	for seconds, want := range cases {
		if got := ceilMinutes(seconds); got != want {
			t.Fatalf("ceilMinutes(%d) = %d, want %d", seconds, got, want)
		}
	}
}
