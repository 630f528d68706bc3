// ABOUTME: Thread state fetcher that never hard-fails message display
// ABOUTME: Maps not-found to empty state and degrades other failures to empty state

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrStateUnavailable wraps fetch failures other than not-found.
var ErrStateUnavailable = errors.New("thread state unavailable")

// StateGetter reads persisted thread state.
type StateGetter interface {
	GetState(ctx context.Context, threadID string) (*ThreadState, error)
}

// Fetcher retrieves thread state for display.
type Fetcher struct {
	states StateGetter
	logger *slog.Logger
}

// NewFetcher creates a fetcher. Pass nil logger for default.
func NewFetcher(states StateGetter, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		states: states,
		logger: logger.With("component", "fetcher"),
	}
}

// Fetch returns the thread's persisted state. The returned state is never
// nil.
//
// A thread the service has never seen, and a placeholder id, both yield an
// empty state with a nil error. Any other failure also yields an empty
// state, together with an error wrapping ErrStateUnavailable so callers can
// tell the two apart.
func (f *Fetcher) Fetch(ctx context.Context, threadID string) (*ThreadState, error) {
	if threadID == "" || IsPendingID(threadID) {
		f.logger.Debug("no durable id, using empty state", "thread_id", threadID)
		return EmptyState(), nil
	}

	st, err := f.states.GetState(ctx, threadID)
	switch {
	case err == nil:
		if st == nil {
			st = EmptyState()
		}
		return st, nil
	case errors.Is(err, ErrNotFound):
		f.logger.Debug("thread has no state yet", "thread_id", threadID)
		return EmptyState(), nil
	default:
		f.logger.Warn("fetching thread state failed, showing empty state",
			"thread_id", threadID,
			"error", err)
		return EmptyState(), fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
}
