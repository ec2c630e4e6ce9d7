package callstate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no live session exists for a call id.
	ErrNotFound = errors.New("callstate: session not found")
	// ErrAlreadyExists is returned by Create when a live session exists.
	ErrAlreadyExists = errors.New("callstate: session already exists")
	// ErrUnavailable wraps backend failures. It is fatal for the call.
	ErrUnavailable = errors.New("callstate: store unavailable")
)

// DefaultTTL is the idle lifetime of a session record.
const DefaultTTL = time.Hour

// Mutation changes a session in place. Returning an error aborts the write.
// Compare-and-swap backends may invoke a mutation more than once, so it
// must not have side effects outside the session.
type Mutation func(*CallSession) error

// Store is bounded-lifetime storage of CallSession records with
// single-writer-per-key semantics.
type Store interface {
	// Get returns the live session for callID or ErrNotFound.
	Get(ctx context.Context, callID string) (CallSession, error)

	// Create starts a session in PhaseMenu. It fails with ErrAlreadyExists
	// if a non-expired session exists.
	Create(ctx context.Context, callID string) (CallSession, error)

	// Apply atomically reads the session, applies fn, writes the result back
	// and resets the idle TTL. Concurrent Apply calls for the same call id
	// are serialized; distinct call ids proceed in parallel.
	Apply(ctx context.Context, callID string, fn Mutation) (CallSession, error)

	// Sweep removes expired sessions and reports how many were removed.
	// Backends with native expiry return 0.
	Sweep(ctx context.Context) (int, error)

	Close() error
}

// GetOrCreate loads the session for callID, creating it when absent. A
// concurrent Create from another handler is tolerated.
func GetOrCreate(ctx context.Context, store Store, callID string) (CallSession, bool, error) {
	if store == nil {
		return CallSession{}, false, fmt.Errorf("%w: nil store", ErrUnavailable)
	}
	sess, err := store.Get(ctx, callID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CallSession{}, false, err
	}
	sess, err = store.Create(ctx, callID)
	if err == nil {
		return sess, true, nil
	}
	if errors.Is(err, ErrAlreadyExists) {
		sess, err = store.Get(ctx, callID)
		return sess, false, err
	}
	return CallSession{}, false, err
}

func applyMutation(sess *CallSession, fn Mutation, now time.Time) error {
	if fn != nil {
		if err := fn(sess); err != nil {
			return err
		}
	}
	sess.LastActivity = now
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
