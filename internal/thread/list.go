// ABOUTME: Admin listing of threads from the conversation-state service
// ABOUTME: Builds titled summaries with owner info, newest first

package thread

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/conversation"
)

const (
	defaultListLimit = 50
	titleLimit       = 50

	untitled     = "Untitled Thread"
	unknownEmail = "unknown@example.com"
	unknownUser  = "unknown"
)

// ListOptions filters List.
type ListOptions struct {
	Limit  int
	Offset int
	// UserID restricts the listing to one owner. Ignored for non-admins,
	// who only ever see their own threads.
	UserID string
}

// Summary describes one thread in a listing.
type Summary struct {
	ID           string
	Title        string
	Status       string
	MessageCount int
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	UserEmail    string
	UserID       string
	Metadata     map[string]any
	Messages     []conversation.Message
}

// Totals aggregates a listing.
type Totals struct {
	Threads  int
	Messages int
	Users    int
}

// List returns thread summaries sorted by last update, newest first.
func (c *Coordinator) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	search := conversation.SearchRequest{
		Limit:    cmp.Or(opts.Limit, defaultListLimit),
		Offset:   opts.Offset,
		Metadata: map[string]any{},
	}

	userID := opts.UserID
	if c.identity != nil {
		claims := c.identity.Claims()
		if claims == nil {
			return nil, auth.ErrUnauthenticated
		}
		if !c.identity.IsAdmin() {
			userID = claims.Subject
		}
	}
	if userID != "" {
		search.Metadata["user_id"] = userID
	}

	records, err := c.content.SearchThreads(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}

	slices.SortStableFunc(summaries, func(a, b Summary) int {
		if n := compareDesc(a.UpdatedAt, b.UpdatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return summaries, nil
}

// Tally computes totals over a listing.
func Tally(summaries []Summary) Totals {
	users := make(map[string]struct{})
	t := Totals{Threads: len(summaries)}
	for _, s := range summaries {
		t.Messages += s.MessageCount
		users[s.UserID] = struct{}{}
	}
	t.Users = len(users)
	return t
}

func summarize(rec conversation.ThreadRecord) Summary {
	s := Summary{
		ID:           rec.ThreadID,
		Title:        Title(rec.Messages),
		Status:       cmp.Or(rec.Status, "unknown"),
		MessageCount: len(rec.Messages),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		UserEmail:    unknownEmail,
		UserID:       unknownUser,
		Metadata:     rec.Metadata,
		Messages:     rec.Messages,
	}
	if v, ok := rec.Metadata["user_email"].(string); ok && v != "" {
		s.UserEmail = v
	}
	if v, ok := rec.Metadata["user_id"].(string); ok && v != "" {
		s.UserID = v
	}
	return s
}

// Title is the first user message cut to 50 characters, with "..." when
// cut.
func Title(messages []conversation.Message) string {
	for _, m := range messages {
		if m.Role != conversation.RoleUser {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > titleLimit {
			return string(runes[:titleLimit]) + "..."
		}
		return m.Content
	}
	return untitled
}

// compareDesc orders newer times first and nil last.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return b.Compare(*a)
}
