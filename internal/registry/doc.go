// Package registry is the client for the cloud thread registry, which
// holds thread metadata for listings and multi-device sync.
//
// Registry entries have their own ids. Each entry points at a durable
// conversation-state id through external_id (or metadata.externalId on
// older entries); Thread.DurableID reads whichever is set.
//
// # Response Schema
//
// GET /v1/threads answers with exactly one shape:
//
//	{"threads": [{"id": "reg-1", "external_id": "t1", "title": "..."}]}
//
// Anything else is a decode error at this boundary.
//
// # Lookup
//
// FindByExternalID uses GET /v1/threads?external_id=<id> when direct lookup
// is enabled. If the registry rejects that query as unsupported the client
// switches to scanning the full list for the rest of its lifetime.
package registry
