// Package jsonapi holds the request plumbing shared by the service
// clients: JSON bodies, bearer tokens, per-request timeouts, and bounded
// error bodies.
//
// Requester.Do returns *StatusError for any non-2xx answer. Each client
// maps that onto its own APIError so callers keep matching on
// conversation.ErrNotFound or registry.ErrNotFound.
package jsonapi
