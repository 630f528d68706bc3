// Package conversation is the client side of the conversation-state service,
// the source of truth for thread content.
//
// # Client
//
// Client wraps the service's REST surface:
//
//	c := conversation.NewClient(baseURL,
//	    conversation.WithTokenSource(session),
//	    conversation.WithRequestTimeout(30*time.Second))
//
// Operations:
//
//   - CreateThread: POST /threads, returns the durable thread id
//   - GetState: GET /threads/{id}, returns messages and interrupts
//   - DeleteThread: DELETE /threads/{id}
//   - Stream: POST /threads/{id}/stream, returns the event-stream body
//   - SearchThreads: POST /threads/search, used by admin listings
//
// Every request carries "Authorization: Bearer <token>" when a TokenSource
// is configured. Non-2xx answers become *APIError; a 404 satisfies
// errors.Is(err, ErrNotFound).
//
// # Messages
//
// The service stores messages in its own shape ({"type":"human"|"ai"}).
// They are normalized to Message with a user or assistant Role, and the
// original payload is kept on Message.Raw. Missing timestamps stay nil and
// render as "unknown" through FormatTimestamp.
//
// # Fetching State
//
// Fetcher is the display-side reader. Threads that exist only in the
// registry have never been opened against this service, so a 404 is an
// ordinary empty thread rather than an error:
//
//	st, err := fetcher.Fetch(ctx, id)
//	// st is always usable; err is non-nil only for unexpected failures
//
// # Placeholder IDs
//
// Ids starting with PendingPrefix are minted locally before the service
// assigns a durable id. They are never sent to the service.
package conversation
