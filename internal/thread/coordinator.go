// ABOUTME: Thread lifecycle across the conversation-state service and the registry
// ABOUTME: Owns the local-to-durable id mapping and the create, select, and delete policies

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/registry"
	"github.com/2389/threadsync/internal/store"
)

var (
	// ErrNoDurableID means the thread was never created on the
	// conversation-state service.
	ErrNoDurableID = errors.New("thread has no durable id")

	// ErrUnknownThread means an id matched nothing locally or remotely.
	ErrUnknownThread = errors.New("unknown thread")
)

// Content is the conversation-state surface the coordinator drives.
type Content interface {
	CreateThread(ctx context.Context, metadata map[string]any) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	SearchThreads(ctx context.Context, search conversation.SearchRequest) ([]conversation.ThreadRecord, error)
}

// Registry is the cloud thread-registry surface the coordinator drives.
type Registry interface {
	Get(ctx context.Context, registryID string) (*registry.Thread, error)
	Create(ctx context.Context, req registry.CreateRequest) (*registry.Thread, error)
	Delete(ctx context.Context, registryID string) error
	FindByExternalID(ctx context.Context, externalID string) (*registry.Thread, error)
}

// StateFetcher loads a thread's persisted state.
type StateFetcher interface {
	Fetch(ctx context.Context, threadID string) (*conversation.ThreadState, error)
}

// Identity is the signed-in user, typically an *auth.Session.
type Identity interface {
	Claims() *auth.Claims
	IsAdmin() bool
}

// Coordinator creates, resolves, and deletes threads. It is the only
// writer of thread links.
type Coordinator struct {
	content  Content
	registry Registry
	states   StateFetcher
	links    store.Store
	identity Identity
	now      func() time.Time
	logger   *slog.Logger

	concurrency int
	perSecond   float64
	limiter     *rate.Limiter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRegistry enables registration and registry cleanup. Without it the
// coordinator only talks to the conversation-state service.
func WithRegistry(r Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// WithIdentity attaches the signed-in user. Created threads are tagged
// with their id and email, and non-admin listings are restricted to them.
func WithIdentity(id Identity) Option {
	return func(c *Coordinator) { c.identity = id }
}

// WithBulkConcurrency bounds parallel deletions in BulkDelete.
func WithBulkConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithBulkRate caps BulkDelete at perSecond deletions per second. Zero
// disables pacing.
func WithBulkRate(perSecond float64) Option {
	return func(c *Coordinator) { c.perSecond = perSecond }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Coordinator.
func New(content Content, states StateFetcher, links store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		content:     content,
		states:      states,
		links:       links,
		now:         time.Now,
		logger:      slog.Default(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "thread")

	if c.perSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.perSecond), c.concurrency)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return c
}

// NewPending records a placeholder thread that has no durable id yet.
func (c *Coordinator) NewPending(ctx context.Context, title string) (*store.ThreadLink, error) {
	now := c.now()
	link := &store.ThreadLink{
		LocalID:   NewPendingID(now),
		Title:     title,
		Status:    store.LinkPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.links.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("recording pending thread: %w", err)
	}
	return link, nil
}

// Create mints a durable id for localID. An empty localID creates a new
// pending thread first. A link that already has a durable id is returned
// unchanged.
//
// Failure to mint the id is returned as-is; there is no fallback. When a
// registry is configured the new thread is registered there, but a
// registration failure only leaves the registry id empty.
func (c *Coordinator) Create(ctx context.Context, localID string) (*store.ThreadLink, error) {
	link, err := c.pendingLink(ctx, localID)
	if err != nil {
		return nil, err
	}
	if link.Resolved() {
		return link, nil
	}

	externalID, err := c.content.CreateThread(ctx, c.ownerMetadata())
	if err != nil {
		link.Status = store.LinkFailed
		link.UpdatedAt = c.now()
		if uerr := c.links.UpdateLink(ctx, link); uerr != nil {
			c.logger.Warn("failed to mark thread creation failed", "local_id", link.LocalID, "error", uerr)
		}
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	link.ExternalID = externalID
	link.Status = store.LinkActive
	link.UpdatedAt = c.now()
	if err := c.links.UpdateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("recording durable id %s: %w", externalID, err)
	}
	c.logger.Info("thread created", "local_id", link.LocalID, "thread_id", externalID)

	c.register(ctx, link)
	return link, nil
}

func (c *Coordinator) pendingLink(ctx context.Context, localID string) (*store.ThreadLink, error) {
	if localID == "" {
		return c.NewPending(ctx, "")
	}

	link, err := c.links.GetLink(ctx, localID)
	switch {
	case err == nil:
		return link, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading thread %s: %w", localID, err)
	case !conversation.IsPendingID(localID):
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, localID)
	}

	// A placeholder minted elsewhere in the process.
	now := c.now()
	link = &store.ThreadLink{
		LocalID:   localID,
		Status:    store.LinkPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.links.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("recording pending thread: %w", err)
	}
	return link, nil
}

// register adds the thread to the registry. Failure is logged only.
func (c *Coordinator) register(ctx context.Context, link *store.ThreadLink) {
	if c.registry == nil {
		return
	}

	entry, err := c.registry.Create(ctx, registry.CreateRequest{
		ExternalID: link.ExternalID,
		Title:      link.Title,
		Metadata:   map[string]any{"externalId": link.ExternalID},
	})
	if err != nil {
		c.logger.Warn("registry registration failed",
			"thread_id", link.ExternalID,
			"error", err)
		return
	}

	link.RegistryID = entry.ID
	link.UpdatedAt = c.now()
	if err := c.links.UpdateLink(ctx, link); err != nil {
		c.logger.Warn("failed to record registry id",
			"thread_id", link.ExternalID,
			"registry_id", entry.ID,
			"error", err)
	}
}

// Resolve maps a local, registry, or durable id to its link. Ids found
// nowhere else are looked up in the registry, and failing that are taken
// to be durable ids themselves.
//
// A pending id with no link yields ErrNoDurableID. A pending link is
// returned with an empty ExternalID.
func (c *Coordinator) Resolve(ctx context.Context, id string) (*store.ThreadLink, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownThread)
	}

	lookups := []func(context.Context, string) (*store.ThreadLink, error){
		c.links.GetLink,
		c.links.GetLinkByRegistryID,
		c.links.GetLinkByExternalID,
	}
	for _, get := range lookups {
		link, err := get(ctx, id)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolving thread %s: %w", id, err)
		}
	}

	if conversation.IsPendingID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNoDurableID, id)
	}

	if c.registry != nil {
		entry, err := c.registry.Get(ctx, id)
		switch {
		case err == nil:
			if entry.DurableID() == "" {
				return nil, fmt.Errorf("%w: registry entry %s", ErrNoDurableID, id)
			}
			return c.remember(ctx, entry), nil
		case errors.Is(err, registry.ErrNotFound):
		default:
			return nil, fmt.Errorf("looking up registry entry %s: %w", id, err)
		}
	}

	return &store.ThreadLink{LocalID: id, ExternalID: id, Status: store.LinkActive}, nil
}

// remember stores the mapping for a registry entry seen for the first time.
func (c *Coordinator) remember(ctx context.Context, entry *registry.Thread) *store.ThreadLink {
	now := c.now()
	link := &store.ThreadLink{
		LocalID:    entry.ID,
		ExternalID: entry.DurableID(),
		RegistryID: entry.ID,
		Title:      entry.Title,
		Status:     store.LinkActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := c.links.CreateLink(ctx, link)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateLink):
		if existing, gerr := c.links.GetLinkByExternalID(ctx, link.ExternalID); gerr == nil {
			return existing
		}
	default:
		c.logger.Warn("failed to record registry mapping",
			"registry_id", entry.ID,
			"thread_id", link.ExternalID,
			"error", err)
	}
	return link
}

// SelectForDisplay resolves id and fetches the thread's state. Threads with
// no history, including pending ones, yield an empty state.
//
// When the state service fails the returned state is empty but non-nil
// and the error wraps conversation.ErrStateUnavailable, so callers can
// still render something.
func (c *Coordinator) SelectForDisplay(ctx context.Context, id string) (*conversation.ThreadState, error) {
	_, state, err := c.Open(ctx, id)
	return state, err
}

// Open is SelectForDisplay that also returns the resolved link. For an id
// with no durable id and no link, the returned link carries only LocalID.
func (c *Coordinator) Open(ctx context.Context, id string) (*store.ThreadLink, *conversation.ThreadState, error) {
	link, err := c.Resolve(ctx, id)
	switch {
	case errors.Is(err, ErrNoDurableID):
		return &store.ThreadLink{LocalID: id, Status: store.LinkPending}, conversation.EmptyState(), nil
	case err != nil:
		return nil, nil, err
	}
	if !link.Resolved() {
		return link, conversation.EmptyState(), nil
	}

	state, err := c.states.Fetch(ctx, link.ExternalID)
	return link, state, err
}

// Delete removes a thread from the conversation-state service and then
// from the registry.
//
// A content deletion failure fails the whole call and leaves the thread in
// place. A 404 there counts as already deleted. Registry cleanup is best
// effort: failures are logged as orphans and do not fail the call.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	link, err := c.Resolve(ctx, id)
	switch {
	case errors.Is(err, ErrNoDurableID):
		return c.forget(ctx, id)
	case err != nil:
		return err
	}
	if !link.Resolved() {
		return c.forget(ctx, link.LocalID)
	}

	if err := c.content.DeleteThread(ctx, link.ExternalID); err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			return fmt.Errorf("deleting thread %s: %w", link.ExternalID, err)
		}
		c.logger.Debug("thread already gone from state service", "thread_id", link.ExternalID)
	}

	c.deleteRegistryEntry(ctx, link)

	if err := c.forget(ctx, link.LocalID); err != nil {
		c.logger.Warn("failed to remove thread link", "local_id", link.LocalID, "error", err)
	}

	c.logger.Info("thread deleted", "thread_id", link.ExternalID, "actor", c.actor())
	return nil
}

func (c *Coordinator) deleteRegistryEntry(ctx context.Context, link *store.ThreadLink) {
	if c.registry == nil {
		return
	}

	registryID := link.RegistryID
	if registryID == "" {
		entry, err := c.registry.FindByExternalID(ctx, link.ExternalID)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			return
		case err != nil:
			c.logger.Warn("registry lookup failed, entry may be orphaned",
				"external_id", link.ExternalID,
				"error", err)
			return
		}
		registryID = entry.ID
	}

	if err := c.registry.Delete(ctx, registryID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		c.logger.Warn("registry entry orphaned",
			"external_id", link.ExternalID,
			"registry_id", registryID,
			"error", err)
	}
}

// forget drops the local link. A missing link is not an error.
func (c *Coordinator) forget(ctx context.Context, localID string) error {
	if err := c.links.DeleteLink(ctx, localID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("removing thread link %s: %w", localID, err)
	}
	return nil
}

func (c *Coordinator) ownerMetadata() map[string]any {
	md := map[string]any{}
	if c.identity == nil {
		return md
	}
	if claims := c.identity.Claims(); claims != nil {
		md["user_id"] = claims.Subject
		if claims.Email != "" {
			md["user_email"] = claims.Email
		}
	}
	return md
}

func (c *Coordinator) actor() string {
	if c.identity == nil {
		return ""
	}
	if claims := c.identity.Claims(); claims != nil {
		return claims.Subject
	}
	return ""
}
