// ABOUTME: Renders a thread's messages as a Markdown or HTML transcript
// ABOUTME: Markdown is the canonical form; HTML converts message bodies with goldmark

package transcript

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/threadsync/internal/conversation"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))

// TimeLayout is used for message and export timestamps.
const TimeLayout = "2006-01-02 15:04:05 MST"

// Document is one thread ready for export.
type Document struct {
	ThreadID string
	Title    string
	State    *conversation.ThreadState
	Exported time.Time
}

// Markdown writes the transcript as Markdown. Message content is assumed to
// be Markdown already and is copied through unchanged.
func Markdown(w io.Writer, doc Document) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "_Thread %s, exported %s_\n", doc.ThreadID, doc.Exported.Format(TimeLayout))

	state := doc.state()
	for _, m := range state.Messages {
		fmt.Fprintf(&b, "\n## %s (%s)\n\n", roleLabel(m.Role), conversation.FormatTimestamp(m.Timestamp, TimeLayout))
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n")
	}
	for _, in := range state.Interrupts {
		fmt.Fprintf(&b, "\n> **Waiting on input:** `%s`\n", interruptText(in))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type htmlMessage struct {
	ID   string
	Role conversation.Role
	When string
	Body template.HTML
}

// HTML writes a standalone HTML page. Message bodies are rendered from
// Markdown; raw HTML inside a message is not passed through.
func HTML(w io.Writer, doc Document) error {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	state := doc.state()
	msgs := make([]htmlMessage, 0, len(state.Messages))
	for _, m := range state.Messages {
		var buf bytes.Buffer
		if err := md.Convert([]byte(m.Content), &buf); err != nil {
			return fmt.Errorf("rendering message %s: %w", m.ID, err)
		}
		msgs = append(msgs, htmlMessage{
			ID:   m.ID,
			Role: m.Role,
			When: conversation.FormatTimestamp(m.Timestamp, TimeLayout),
			Body: template.HTML(buf.String()),
		})
	}

	interrupts := make([]string, 0, len(state.Interrupts))
	for _, in := range state.Interrupts {
		interrupts = append(interrupts, interruptText(in))
	}

	data := struct {
		ThreadID   string
		Title      string
		Exported   string
		Messages   []htmlMessage
		Interrupts []string
	}{
		ThreadID:   doc.ThreadID,
		Title:      doc.Title,
		Exported:   doc.Exported.Format(TimeLayout),
		Messages:   msgs,
		Interrupts: interrupts,
	}
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}
	return nil
}

func (d Document) state() *conversation.ThreadState {
	if d.State == nil {
		return conversation.EmptyState()
	}
	return d.State
}

func roleLabel(r conversation.Role) string {
	if r == conversation.RoleUser {
		return "User"
	}
	return "Assistant"
}

func interruptText(in conversation.Interrupt) string {
	if len(in.Value) > 0 {
		return string(in.Value)
	}
	return string(in.Raw)
}
