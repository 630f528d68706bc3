// ABOUTME: Store interface and data types for thread identifier persistence
// ABOUTME: Maps local thread ids to durable conversation ids and registry ids

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateLink is returned when a local, external, or registry id is
// already linked to another thread
var ErrDuplicateLink = errors.New("thread link already exists")

// LinkStatus tracks how far a thread has progressed through creation.
type LinkStatus string

const (
	// LinkPending threads exist only locally and have no durable id.
	LinkPending LinkStatus = "pending"
	// LinkActive threads have a durable id in the conversation-state service.
	LinkActive LinkStatus = "active"
	// LinkFailed threads never obtained a durable id.
	LinkFailed LinkStatus = "failed"
)

// ThreadLink associates the id shown locally with the ids assigned by the
// two remote services.
type ThreadLink struct {
	LocalID    string
	ExternalID string // durable conversation-state id, empty while pending
	RegistryID string // registry entry id, empty when not registered
	Title      string
	Status     LinkStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Resolved reports whether the link carries a durable id.
func (l *ThreadLink) Resolved() bool {
	return l.ExternalID != ""
}

// Store defines the interface for thread link persistence
type Store interface {
	CreateLink(ctx context.Context, link *ThreadLink) error
	GetLink(ctx context.Context, localID string) (*ThreadLink, error)
	GetLinkByExternalID(ctx context.Context, externalID string) (*ThreadLink, error)
	GetLinkByRegistryID(ctx context.Context, registryID string) (*ThreadLink, error)
	UpdateLink(ctx context.Context, link *ThreadLink) error
	ListLinks(ctx context.Context, limit int) ([]*ThreadLink, error)
	DeleteLink(ctx context.Context, localID string) error

	// Close releases any resources held by the store
	Close() error
}
