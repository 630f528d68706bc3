// ABOUTME: REST client for the conversation-state service
// ABOUTME: Creates, reads, deletes, searches, and streams threads with bearer auth

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/threadsync/internal/jsonapi"
)

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("thread not found")

// APIError is returned when the service answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TokenSource supplies the bearer token for each request.
type TokenSource = jsonapi.TokenSource

// Client talks to the conversation-state service.
type Client struct {
	api    jsonapi.Requester
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.api.HTTP = hc
		}
	}
}

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) { c.api.Tokens = ts }
}

// WithRequestTimeout bounds non-streaming requests. Streams are bounded by
// their idle timeout instead.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.api.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		api:    jsonapi.Requester{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "conversation")
	return c
}

type createThreadRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

type createThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

// CreateThread mints a new durable thread id.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]any) (string, error) {
	var out createThreadResponse
	if err := c.do(ctx, "create thread", http.MethodPost, "/threads", createThreadRequest{Metadata: metadata}, &out); err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", errors.New("create thread: response has no thread_id")
	}
	return out.ThreadID, nil
}

// GetState returns the persisted state of a thread. A thread the service
// has never seen yields an error matching ErrNotFound.
func (c *Client) GetState(ctx context.Context, threadID string) (*ThreadState, error) {
	var w wireState
	if err := c.do(ctx, "get thread state", http.MethodGet, threadPath(threadID), nil, &w); err != nil {
		return nil, err
	}
	st, err := w.toState()
	if err != nil {
		return nil, fmt.Errorf("get thread state: %w", err)
	}
	return st, nil
}

// DeleteThread removes a thread's content.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, "delete thread", http.MethodDelete, threadPath(threadID), nil, nil)
}

// StreamMessage is one entry of the stream request body.
type StreamMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type streamRequest struct {
	Messages []StreamMessage `json:"messages"`
}

// Stream posts messages to the thread's streaming endpoint and returns the
// event-stream body. The caller owns the body and must close it.
func (c *Client) Stream(ctx context.Context, threadID string, messages []StreamMessage) (io.ReadCloser, error) {
	const op = "open stream"

	req, err := c.newRequest(ctx, op, http.MethodPost, threadPath(threadID)+"/stream", streamRequest{Messages: messages})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.api.Send(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newAPIError(op, jsonapi.ReadStatusError(resp))
	}
	return resp.Body, nil
}

// SearchRequest filters POST /threads/search.
type SearchRequest struct {
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// ThreadRecord is one search result.
type ThreadRecord struct {
	ThreadID  string
	Status    string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Metadata  map[string]any
	Messages  []Message
}

type wireRecord struct {
	ThreadID  string         `json:"thread_id"`
	Status    string         `json:"status"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
	Values    *struct {
		Messages []json.RawMessage `json:"messages"`
	} `json:"values"`
}

// SearchThreads lists threads known to the service.
func (c *Client) SearchThreads(ctx context.Context, search SearchRequest) ([]ThreadRecord, error) {
	if search.Metadata == nil {
		search.Metadata = map[string]any{}
	}

	var wire []wireRecord
	if err := c.do(ctx, "search threads", http.MethodPost, "/threads/search", search, &wire); err != nil {
		return nil, err
	}

	records := make([]ThreadRecord, 0, len(wire))
	for _, w := range wire {
		rec := ThreadRecord{
			ThreadID:  w.ThreadID,
			Status:    w.Status,
			CreatedAt: ParseTimestamp(w.CreatedAt),
			UpdatedAt: ParseTimestamp(w.UpdatedAt),
			Metadata:  w.Metadata,
		}
		if w.Values != nil {
			msgs, err := decodeMessages(w.Values.Messages)
			if err != nil {
				// One bad history should not hide the rest of the listing.
				c.logger.Warn("skipping unreadable thread history", "thread_id", w.ThreadID, "error", err)
			} else {
				rec.Messages = msgs
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func threadPath(threadID string) string {
	return "/threads/" + url.PathEscape(threadID)
}

// do performs a JSON request and decodes a JSON response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	c.logger.Debug("request", "op", op, "method", method, "path", path)

	err := c.api.Do(ctx, method, path, in, out)
	var se *jsonapi.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return newAPIError(op, se)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (c *Client) newRequest(ctx context.Context, op, method, path string, in any) (*http.Request, error) {
	req, err := c.api.NewRequest(ctx, method, path, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("request", "op", op, "method", method, "path", path)
	return req, nil
}

func newAPIError(op string, se *jsonapi.StatusError) *APIError {
	return &APIError{Op: op, StatusCode: se.StatusCode, Body: se.Body}
}
