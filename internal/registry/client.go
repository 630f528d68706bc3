// ABOUTME: REST client for the cloud thread registry
// ABOUTME: Lists, creates, and deletes registry entries and maps durable ids to registry ids

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/threadsync/internal/jsonapi"
)

// ErrNotFound is matched by errors.Is for 404 responses and for lookups
// that find no entry.
var ErrNotFound = errors.New("registry thread not found")

// APIError is returned when the registry answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("registry %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Thread is one registry entry.
type Thread struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
}

// DurableID returns the conversation-state id this entry points at. Older
// entries carry it as metadata.externalId instead of external_id.
func (t Thread) DurableID() string {
	if t.ExternalID != "" {
		return t.ExternalID
	}
	if v, ok := t.Metadata["externalId"].(string); ok {
		return v
	}
	return ""
}

// listResponse is the one accepted shape of GET /v1/threads.
type listResponse struct {
	Threads []Thread `json:"threads"`
}

// TokenSource supplies the bearer token for each request.
type TokenSource = jsonapi.TokenSource

// Client talks to the registry.
type Client struct {
	api    jsonapi.Requester
	logger *slog.Logger

	// directLookup is cleared when the registry turns out not to support
	// filtering by external id.
	directLookup atomic.Bool
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

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.api.Timeout = d }
}

// WithDirectLookup enables GET /v1/threads?external_id= for
// FindByExternalID instead of scanning the full list.
func WithDirectLookup(enabled bool) ClientOption {
	return func(c *Client) { c.directLookup.Store(enabled) }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a registry client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		api:    jsonapi.Requester{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "registry")
	return c
}

// List returns every registry entry visible to the caller.
func (c *Client) List(ctx context.Context) ([]Thread, error) {
	return c.list(ctx, "list", "/v1/threads")
}

// Get returns a single entry by registry id.
func (c *Client) Get(ctx context.Context, registryID string) (*Thread, error) {
	var t Thread
	if err := c.do(ctx, "get", http.MethodGet, entryPath(registryID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateRequest registers a durable thread id.
type CreateRequest struct {
	ExternalID string         `json:"external_id"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Create registers a thread and returns the new entry.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Thread, error) {
	if req.ExternalID == "" {
		return nil, errors.New("registry create: external id is required")
	}
	var t Thread
	if err := c.do(ctx, "create", http.MethodPost, "/v1/threads", req, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, errors.New("registry create: response has no id")
	}
	return &t, nil
}

// Delete removes an entry by registry id.
func (c *Client) Delete(ctx context.Context, registryID string) error {
	return c.do(ctx, "delete", http.MethodDelete, entryPath(registryID), nil, nil)
}

// FindByExternalID returns the entry pointing at a durable thread id, or
// an error matching ErrNotFound.
func (c *Client) FindByExternalID(ctx context.Context, externalID string) (*Thread, error) {
	if c.directLookup.Load() {
		threads, err := c.list(ctx, "lookup", "/v1/threads?external_id="+url.QueryEscape(externalID))
		var apiErr *APIError
		switch {
		case err == nil:
			return pick(threads, externalID)
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
			c.logger.Debug("direct lookup found nothing, scanning list", "external_id", externalID)
		case errors.As(err, &apiErr) && unsupported(apiErr.StatusCode):
			c.logger.Warn("direct lookup unsupported, falling back to list scan", "status", apiErr.StatusCode)
			c.directLookup.Store(false)
		default:
			return nil, err
		}
	}

	threads, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return pick(threads, externalID)
}

// unsupported reports statuses that mean the registry has no filtered
// listing at all.
func unsupported(status int) bool {
	return status == http.StatusMethodNotAllowed ||
		status == http.StatusNotImplemented ||
		status == http.StatusBadRequest
}

// pick filters by durable id even on the direct path, since a registry
// that ignores the query parameter returns everything.
func pick(threads []Thread, externalID string) (*Thread, error) {
	for i := range threads {
		if threads[i].DurableID() == externalID {
			return &threads[i], nil
		}
	}
	return nil, fmt.Errorf("%w: external id %s", ErrNotFound, externalID)
}

func (c *Client) list(ctx context.Context, op, path string) ([]Thread, error) {
	var out listResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func entryPath(registryID string) string {
	return "/v1/threads/" + url.PathEscape(registryID)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	err := c.api.Do(ctx, method, path, in, out)
	var se *jsonapi.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return &APIError{Op: op, StatusCode: se.StatusCode, Body: se.Body}
	default:
		return fmt.Errorf("registry %s: %w", op, err)
	}
}
