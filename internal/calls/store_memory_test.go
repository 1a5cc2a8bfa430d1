package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedRecord(sessionID, tenantID string, startedAt time.Time) func() CallRecord {
	return func() CallRecord {
		return CallRecord{
			SessionID: sessionID,
			TenantID:  tenantID,
			Status:    CallStatusInitiated,
			StartedAt: startedAt,
			CreatedAt: startedAt,
			UpdatedAt: startedAt,
		}
	}
}

func TestMemoryStore_EnsureReportsCreation(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	_, created, err := st.EnsureAndMutate(ctx, "s1", seedRecord("s1", "acme", now), nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first ensure")
	}

	_, created, err = st.EnsureAndMutate(ctx, "s1", seedRecord("s1", "other", now), nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on existing record")
	}
}

func TestMemoryStore_MutatorErrorSurfaces(t *testing.T) {
	st := NewMemoryStore()
	boom := errors.New("boom")
	_, _, err := st.EnsureAndMutate(context.Background(), "s1", seedRecord("s1", "acme", time.Now().UTC()), func(rec *CallRecord) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
}

func TestMemoryStore_ReturnedRecordIsIsolated(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	rec, _, err := st.EnsureAndMutate(ctx, "s1", seedRecord("s1", "acme", now), func(rec *CallRecord) error {
		rec.Transcript = append(rec.Transcript, TranscriptEntry{TurnID: "t1", Role: SpeakerRoleCaller, Text: "hi", Timestamp: now})
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	rec.Transcript[0].Text = "tampered"
	rec.TenantID = "evil"

	stored, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Transcript[0].Text != "hi" || stored.TenantID != "acme" {
		t.Fatalf("store state leaked to caller: %+v", stored)
	}
}

func TestMemoryStore_GetUnknownIsNotFound(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_EmptySessionIDRejected(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := st.EnsureAndMutate(ctx, "", seedRecord("", "", time.Now()), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := st.Get(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMemoryStore_ListByTenantWindowInclusive(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	sessions := map[string]time.Time{
		"in-lo":  base,                     // window start
		"in-hi":  base.Add(48 * time.Hour), // window end
		"before": base.Add(-time.Second),
		"after":  base.Add(48*time.Hour + time.Second),
	}
	for id, ts := range sessions {
		if _, _, err := st.EnsureAndMutate(ctx, id, seedRecord(id, "acme", ts), nil); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	if _, _, err := st.EnsureAndMutate(ctx, "other-tenant", seedRecord("other-tenant", "umbrella", base), nil); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	got, err := st.ListByTenant(ctx, "acme", base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(got))
	}
	for _, r := range got {
		if r.SessionID != "in-lo" && r.SessionID != "in-hi" {
			t.Fatalf("unexpected record %q in window", r.SessionID)
		}
	}
}
