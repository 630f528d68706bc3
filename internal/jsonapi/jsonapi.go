// ABOUTME: Shared JSON-over-HTTP plumbing for the conversation and registry clients
// ABOUTME: Builds bearer-authenticated requests, bounds them, and decodes JSON responses

package jsonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept on StatusError.
const maxErrorBody = 4 << 10

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is a non-2xx response. Callers translate it into their own
// error type.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ReadStatusError drains up to maxErrorBody of resp into a StatusError.
func ReadStatusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

// Requester sends JSON requests to one base URL.
type Requester struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	// Timeout bounds each Do call. Zero means no bound.
	Timeout time.Duration
}

// NewRequest builds a request with an optional JSON body and the bearer
// token, if a TokenSource is set.
func (r *Requester) NewRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if r.Tokens != nil {
		token, err := r.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Send performs req with the configured HTTP client.
func (r *Requester) Send(req *http.Request) (*http.Response, error) {
	hc := r.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return hc.Do(req)
}

// Do performs a JSON request and decodes the response into out when out is
// non-nil. A non-2xx answer is returned as *StatusError.
func (r *Requester) Do(ctx context.Context, method, path string, in, out any) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req, err := r.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := r.Send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ReadStatusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
