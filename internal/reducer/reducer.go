// ABOUTME: Folds decoded stream events for one send into a single assistant turn
// ABOUTME: Accumulates deltas, finalizes on finish, and surfaces interrupts and upstream errors

package reducer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/sse"
)

// Event types understood by the reducer. Anything else is ignored.
const (
	EventDelta     = "delta"
	EventFinish    = "finish"
	EventInterrupt = "interrupt"
	EventError     = "error"
)

var (
	// ErrTurnClosed is returned when an event arrives after the turn ended.
	ErrTurnClosed = errors.New("turn already closed")
	// ErrMalformedEvent marks a known event type whose data has the wrong shape.
	ErrMalformedEvent = errors.New("malformed event")
)

// UpstreamError is the failure reported by an error event.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "upstream reported an error"
	}
	return "upstream error: " + e.Message
}

// Kind classifies the state of the turn after an event.
type Kind int

const (
	// Pending means the turn is still open.
	Pending Kind = iota
	// Completed means a finish event finalized the assistant message.
	Completed
	// Interrupted means the turn is suspended on one or more interrupts.
	Interrupted
	// Failed means the turn ended with an error.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether the kind ends the turn.
func (k Kind) Terminal() bool {
	return k != Pending
}

// Outcome is the result of applying one event.
type Outcome struct {
	Kind Kind
	// Delta is the text this event appended. Pending only.
	Delta string
	// Message is the finalized assistant message. Completed only.
	Message *conversation.Message
	// Interrupts blocking the thread. Interrupted only.
	Interrupts []conversation.Interrupt
	// Err is why the turn failed. Failed only.
	Err error
}

// Reducer assembles one assistant turn. It is not safe for concurrent use;
// each send gets its own Reducer.
type Reducer struct {
	text   strings.Builder
	deltas int
	closed bool

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithClock sets the time source for finalized message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reducer) { r.now = now }
}

// WithIDGenerator sets how finalized message ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(r *Reducer) { r.newID = newID }
}

// WithLogger sets the logger for ignored events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reducer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a reducer for one turn.
func New(opts ...Option) *Reducer {
	r := &Reducer{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reducer")
	return r
}

// Partial returns the text accumulated so far.
func (r *Reducer) Partial() string {
	return r.text.String()
}

// Closed reports whether the turn has reached a terminal outcome.
func (r *Reducer) Closed() bool {
	return r.closed
}

// Apply folds ev into the turn. Events must be applied in arrival order.
// The only error returned is ErrTurnClosed; failures carried by the stream
// come back as a Failed outcome.
func (r *Reducer) Apply(ev sse.Event) (Outcome, error) {
	if r.closed {
		return Outcome{}, fmt.Errorf("%w: got %q", ErrTurnClosed, ev.Type)
	}

	var out Outcome
	switch ev.Type {
	case EventDelta:
		out = r.applyDelta(ev.Data)
	case EventFinish:
		out = r.finish(ev.Data)
	case EventInterrupt:
		out = r.interrupt(ev.Data)
	case EventError:
		out = Outcome{Kind: Failed, Err: &UpstreamError{Message: errorMessage(ev.Data)}}
	default:
		r.logger.Debug("ignoring event", "type", ev.Type)
		return Outcome{Kind: Pending}, nil
	}

	if out.Kind.Terminal() {
		r.closed = true
	}
	return out, nil
}

func (r *Reducer) applyDelta(data json.RawMessage) Outcome {
	text, err := payloadText(data)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: delta: %w", ErrMalformedEvent, err)}
	}
	r.text.WriteString(text)
	r.deltas++
	return Outcome{Kind: Pending, Delta: text}
}

func (r *Reducer) finish(data json.RawMessage) Outcome {
	content := r.text.String()
	if r.deltas == 0 {
		// Some turns carry their whole text on the finish event.
		if text, err := payloadText(data); err == nil {
			content = text
		}
	}

	ts := r.now()
	return Outcome{
		Kind: Completed,
		Message: &conversation.Message{
			ID:        r.newID(),
			Role:      conversation.RoleAssistant,
			Content:   content,
			Timestamp: &ts,
		},
	}
}

func (r *Reducer) interrupt(data json.RawMessage) Outcome {
	interrupts, err := decodeInterrupts(data)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: interrupt: %w", ErrMalformedEvent, err)}
	}
	return Outcome{Kind: Interrupted, Interrupts: interrupts}
}

// payloadText reads text from a JSON string or from an object's "content"
// or "text" member.
func payloadText(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return conversation.Text(data)
	}

	var obj struct {
		Content json.RawMessage `json:"content"`
		Text    *string         `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	if len(obj.Content) > 0 {
		return conversation.Text(obj.Content)
	}
	if obj.Text != nil {
		return *obj.Text, nil
	}
	return "", nil
}

func decodeInterrupts(data json.RawMessage) ([]conversation.Interrupt, error) {
	data = bytes.TrimSpace(data)

	var raws []json.RawMessage
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
	case len(data) > 0 && data[0] == '{':
		raws = []json.RawMessage{data}
	default:
		return nil, errors.New("expected an object or an array")
	}
	if len(raws) == 0 {
		return nil, errors.New("no interrupts")
	}

	out := make([]conversation.Interrupt, 0, len(raws))
	for _, raw := range raws {
		var in conversation.Interrupt
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		in.Raw = raw
		out = append(out, in)
	}
	return out, nil
}

// errorMessage extracts a readable message from an error event's data.
func errorMessage(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return ""
}
