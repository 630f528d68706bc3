// ABOUTME: Send-message state machine states, updates, and errors
// ABOUTME: Shared by the driver, its subscribers, and the CLI

package chat

import (
	"errors"

	"github.com/2389/threadsync/internal/conversation"
)

var (
	// ErrSendInFlight means the thread already has a send streaming.
	ErrSendInFlight = errors.New("a send is already in flight for this thread")

	// ErrInterruptPending means the thread is suspended until its
	// interrupt is resolved.
	ErrInterruptPending = errors.New("thread is waiting on an interrupt")

	// ErrDuplicateSend means the idempotency key was used recently.
	ErrDuplicateSend = errors.New("duplicate send")

	// ErrEmptyMessage means there was nothing to send.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrIncompleteTurn means the stream ended without a finish,
	// interrupt, or error event.
	ErrIncompleteTurn = errors.New("stream ended before the turn finished")
)

// State is where a thread is in the send-message state machine.
type State int

const (
	Idle State = iota
	Initializing
	Streaming
	Completed
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a send is underway.
func (s State) Active() bool {
	return s == Initializing || s == Streaming
}

// UpdateKind discriminates Update.
type UpdateKind string

const (
	UpdateState     UpdateKind = "state"
	UpdateDelta     UpdateKind = "delta"
	UpdateMessage   UpdateKind = "message"
	UpdateInterrupt UpdateKind = "interrupt"
)

// Update is one piece of send progress published to subscribers.
type Update struct {
	Kind     UpdateKind
	LocalID  string
	ThreadID string
	State    State

	Delta      string
	Message    *conversation.Message
	Interrupts []conversation.Interrupt
	Err        error
}
