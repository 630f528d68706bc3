// Package dedupe suppresses repeated sends that carry the same idempotency
// key within a configurable window.
package dedupe
