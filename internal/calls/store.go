package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store is the persistence contract for call records.
//
// Per-session serializability: EnsureAndMutate must behave as if the caller
// held an exclusive lock on the session's record for the whole
// read-modify-write. Mutations on different sessions must not block each
// other. Redelivered events lean on this: the mutator re-checks idempotency
// keys against current state while holding the lock.
type Store interface {
	// EnsureAndMutate creates the record via init if absent, then applies
	// mutate (which may be nil) to current state, atomically. It returns the
	// post-mutation record and whether the record was created by this call.
	// "Record already exists" is the common case, not an error.
	EnsureAndMutate(ctx context.Context, sessionID string, init func() CallRecord, mutate func(rec *CallRecord) error) (CallRecord, bool, error)

	// Get returns the record for sessionID, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (CallRecord, error)
}
