// ABOUTME: Thread state types returned by the conversation-state service
// ABOUTME: Normalizes persisted messages and interrupts while keeping their raw payloads

package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PendingPrefix marks client-generated placeholder thread ids that the
// conversation-state service has never seen.
const PendingPrefix = "pending_"

// IsPendingID reports whether id is a placeholder rather than a durable id.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a thread.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Timestamp is nil when the service did not record one.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Raw is the message exactly as the service persisted it.
	Raw json.RawMessage `json:"-"`
}

// Interrupt is a suspension point that must be resolved out of band before
// the thread can continue generating.
type Interrupt struct {
	ID        string          `json:"id,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Resumable bool            `json:"resumable,omitempty"`
	When      string          `json:"when,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ThreadState is the persisted snapshot of a thread.
type ThreadState struct {
	Messages   []Message   `json:"messages"`
	Interrupts []Interrupt `json:"interrupts"`
}

// EmptyState returns a state with no messages and no interrupts.
func EmptyState() *ThreadState {
	return &ThreadState{Messages: []Message{}, Interrupts: []Interrupt{}}
}

// HasInterrupts reports whether the thread is blocked on an interrupt.
func (s *ThreadState) HasInterrupts() bool {
	return s != nil && len(s.Interrupts) > 0
}

// wireState is the GET /threads/{id} response body.
type wireState struct {
	Values *struct {
		Messages []json.RawMessage `json:"messages"`
	} `json:"values"`
	Tasks []struct {
		Interrupts []json.RawMessage `json:"interrupts"`
	} `json:"tasks"`
}

func (w *wireState) toState() (*ThreadState, error) {
	st := EmptyState()
	if w.Values != nil {
		msgs, err := decodeMessages(w.Values.Messages)
		if err != nil {
			return nil, err
		}
		st.Messages = msgs
	}
	for _, task := range w.Tasks {
		for i, raw := range task.Interrupts {
			var in Interrupt
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("decoding interrupt %d: %w", i, err)
			}
			in.Raw = raw
			st.Interrupts = append(st.Interrupts, in)
		}
	}
	return st, nil
}

// wireMessage accepts both {role, content} and the service's native
// {type: "human"|"ai", content} message shapes.
type wireMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
}

func decodeMessages(raws []json.RawMessage) ([]Message, error) {
	out := make([]Message, 0, len(raws))
	for i, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeMessage(raw json.RawMessage) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, err
	}
	text, err := Text(w.Content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        w.ID,
		Role:      roleOf(w.Role, w.Type),
		Content:   text,
		Timestamp: ParseTimestamp(w.Timestamp),
		Raw:       raw,
	}, nil
}

// roleOf maps the service's author markers onto Role. Anything that is not
// the human side of the conversation renders as the assistant.
func roleOf(role, typ string) Role {
	switch {
	case role == string(RoleUser), role == "human":
		return RoleUser
	case role != "":
		return RoleAssistant
	case typ == "human", typ == string(RoleUser):
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Text extracts plain text from a content payload. It accepts a JSON string,
// null, or an array of parts where each part is a string or an object with
// a "text" member.
func Text(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", err
		}
		var b strings.Builder
		for _, part := range parts {
			var s string
			if json.Unmarshal(part, &s) == nil {
				b.WriteString(s)
				continue
			}
			var obj struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(part, &obj); err != nil {
				return "", fmt.Errorf("content part: %w", err)
			}
			if obj.Type == "" || obj.Type == "text" {
				b.WriteString(obj.Text)
			}
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported content payload %.32q", raw)
	}
}

// ParseTimestamp parses an RFC 3339 timestamp. Empty or unparseable values
// yield nil so callers can render them as unknown.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// FormatTimestamp renders ts for display, or "unknown" when it is nil.
func FormatTimestamp(ts *time.Time, layout string) string {
	if ts == nil || ts.IsZero() {
		return "unknown"
	}
	return ts.Local().Format(layout)
}
