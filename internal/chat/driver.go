// ABOUTME: Streaming session driver for sending a message and assembling the reply
// ABOUTME: Resolves or creates the thread, streams SSE through the reducer, and tracks per-thread state

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/dedupe"
	"github.com/2389/threadsync/internal/reducer"
	"github.com/2389/threadsync/internal/sse"
	"github.com/2389/threadsync/internal/store"
	"github.com/2389/threadsync/internal/thread"
)

// Threads is the lifecycle surface the driver needs, typically a
// *thread.Coordinator.
type Threads interface {
	Open(ctx context.Context, id string) (*store.ThreadLink, *conversation.ThreadState, error)
	Resolve(ctx context.Context, id string) (*store.ThreadLink, error)
	Create(ctx context.Context, localID string) (*store.ThreadLink, error)
}

// Streamer opens the SSE stream for one send.
type Streamer interface {
	Stream(ctx context.Context, threadID string, messages []conversation.StreamMessage) (io.ReadCloser, error)
}

// TokenSource is the signed-in session, typically an *auth.Session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SendRequest is one user-submitted message.
type SendRequest struct {
	// ThreadID is a local, registry, or durable id. Empty starts a new
	// thread.
	ThreadID string
	Content  string
	// IdempotencyKey, when set, rejects a repeat of the same send within
	// the dedupe window.
	IdempotencyKey string
}

// Result is the terminal outcome of a send.
type Result struct {
	LocalID    string
	ThreadID   string
	State      State
	Message    *conversation.Message
	Interrupts []conversation.Interrupt
}

// View is the currently displayed thread.
type View struct {
	LocalID    string
	ThreadID   string
	Messages   []conversation.Message
	Interrupts []conversation.Interrupt
	// Partial is the assistant text streamed so far. It is never
	// persisted and is dropped when the turn ends.
	Partial string
	State   State
}

func (v *View) clone() *View {
	c := *v
	c.Messages = slices.Clone(v.Messages)
	c.Interrupts = slices.Clone(v.Interrupts)
	return &c
}

type block struct {
	keys       []string
	interrupts []conversation.Interrupt
}

// Driver runs send-message interactions. At most one send streams per
// thread at a time.
type Driver struct {
	threads     Threads
	streamer    Streamer
	session     TokenSource
	dedupe      *dedupe.Cache
	updates     *Broadcaster
	idleTimeout time.Duration
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*turn
	states   map[string]State
	blocked  map[string]*block
	view     *View
}

// Option configures a Driver.
type Option func(*Driver)

// WithSession requires an authenticated session before any send.
func WithSession(s TokenSource) Option {
	return func(d *Driver) { d.session = s }
}

// WithDedupe enables idempotency-key checks.
func WithDedupe(c *dedupe.Cache) Option {
	return func(d *Driver) { d.dedupe = c }
}

// WithIdleTimeout fails a stream that goes quiet for d. Zero disables it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.idleTimeout = timeout }
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithIDGenerator sets how message ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(d *Driver) { d.newID = newID }
}

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Driver.
func New(threads Threads, streamer Streamer, opts ...Option) *Driver {
	d := &Driver{
		threads:  threads,
		streamer: streamer,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
		inflight: make(map[string]*turn),
		states:   make(map[string]State),
		blocked:  make(map[string]*block),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.updates = NewBroadcaster(d.logger)
	d.logger = d.logger.With("component", "chat")
	return d
}

// Close ends all subscriptions.
func (d *Driver) Close() {
	d.updates.Close()
}

// Subscribe follows updates for a thread by local or durable id until ctx
// is done.
func (d *Driver) Subscribe(ctx context.Context, id string) <-chan *Update {
	ch, _ := d.updates.Subscribe(ctx, id)
	return ch
}

// State returns the last state recorded for a thread id. Completed is
// published to subscribers but the recorded state returns to Idle once
// the reply is appended.
func (d *Driver) State(id string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[id]
}

// View returns a copy of the displayed thread, or nil before Select.
func (d *Driver) View() *View {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.view == nil {
		return nil
	}
	return d.view.clone()
}

// Select makes id the displayed thread, loading its state fresh.
//
// When the state service is unavailable the view is still switched, with
// no messages, and the error is returned alongside it.
func (d *Driver) Select(ctx context.Context, id string) (*View, error) {
	link, state, err := d.threads.Open(ctx, id)
	if state == nil {
		return nil, err
	}

	v := &View{
		LocalID:    link.LocalID,
		ThreadID:   link.ExternalID,
		Messages:   slices.Clone(state.Messages),
		Interrupts: slices.Clone(state.Interrupts),
	}
	keys := linkKeys(link)

	d.mu.Lock()
	if err == nil {
		if state.HasInterrupts() {
			d.blockLocked(keys, state.Interrupts)
		} else {
			d.unblockLocked(keys)
		}
	}
	for _, k := range keys {
		if _, busy := d.inflight[k]; busy {
			v.State = d.states[k]
			break
		}
		if _, blocked := d.blocked[k]; blocked {
			v.State = Interrupted
		}
	}
	d.view = v
	out := v.clone()
	d.mu.Unlock()

	return out, err
}

// ResolveInterrupt unblocks a thread suspended on an interrupt. It reports
// whether the thread was blocked.
func (d *Driver) ResolveInterrupt(id string) bool {
	d.mu.Lock()
	b, ok := d.blocked[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.unblockLocked(b.keys)
	for _, k := range b.keys {
		d.states[k] = Idle
	}
	if v := d.view; v != nil && (slices.Contains(b.keys, v.LocalID) || slices.Contains(b.keys, v.ThreadID)) {
		v.Interrupts = nil
		v.State = Idle
	}
	d.mu.Unlock()

	for _, k := range b.keys {
		d.updates.Publish(k, &Update{Kind: UpdateState, State: Idle})
	}
	d.logger.Info("interrupt resolved", "thread_id", id, "interrupts", len(b.interrupts))
	return true
}

func (d *Driver) blockLocked(keys []string, interrupts []conversation.Interrupt) {
	b := &block{keys: keys, interrupts: slices.Clone(interrupts)}
	for _, k := range keys {
		d.blocked[k] = b
	}
}

func (d *Driver) unblockLocked(keys []string) {
	for _, k := range keys {
		if b, ok := d.blocked[k]; ok {
			for _, alias := range b.keys {
				delete(d.blocked, alias)
			}
		}
	}
}

// Send delivers one user message and streams the assistant reply.
//
// A thread without a durable id is created first; a failure there fails
// the send. Nothing is retried. A Failed result comes with a non-nil
// error; Completed and Interrupted results do not.
func (d *Driver) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyMessage
	}
	if d.session != nil {
		if _, err := d.session.Token(ctx); err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}
	}

	key := req.IdempotencyKey
	if key != "" && d.dedupe != nil && !d.dedupe.Reserve(key) {
		return nil, ErrDuplicateSend
	}

	t := &turn{d: d}
	res, err := t.run(ctx, req)
	if err != nil && key != "" && d.dedupe != nil {
		d.dedupe.Forget(key)
	}
	return res, err
}

// turn is one send in progress. It holds the in-flight reservation for
// every id the thread is known by.
//
// A turn first reserves the id it was addressed by, then claims every
// alias at once after resolution. Until that claim succeeds the turn is
// uncommitted, and an older turn claiming the same thread may take its
// first reservation away. Two sends that reach one thread through
// different ids therefore cannot reject each other.
type turn struct {
	d         *Driver
	seq       uint64
	committed bool
	keys      []string
	localID   string
	threadID  string
}

func (t *turn) run(ctx context.Context, req SendRequest) (*Result, error) {
	defer t.release()

	t.localID = req.ThreadID
	if err := t.acquire(req.ThreadID); err != nil {
		return nil, err
	}
	t.set(Initializing)

	link, err := t.resolve(ctx, req.ThreadID)
	if err != nil {
		return t.fail(fmt.Errorf("resolving thread: %w", err))
	}
	t.localID, t.threadID = link.LocalID, link.ExternalID
	if err := t.claim(linkKeys(link)); err != nil {
		t.abandon(err)
		return nil, err
	}
	t.attachView()

	body, err := t.d.streamer.Stream(ctx, t.threadID, []conversation.StreamMessage{
		{Role: conversation.RoleUser, Content: req.Content},
	})
	if err != nil {
		return t.fail(fmt.Errorf("opening stream: %w", err))
	}

	t.set(Streaming)
	ts := t.d.now()
	t.appendMessage(conversation.Message{
		ID:        t.d.newID(),
		Role:      conversation.RoleUser,
		Content:   req.Content,
		Timestamp: &ts,
	}, Streaming)

	r := reducer.New(
		reducer.WithClock(t.d.now),
		reducer.WithIDGenerator(t.d.newID),
		reducer.WithLogger(t.d.logger))

	events := sse.Decode(ctx, body,
		sse.WithIdleTimeout(t.d.idleTimeout),
		sse.WithLogger(t.d.logger))

	for ev, err := range events {
		if err != nil {
			return t.fail(fmt.Errorf("streaming: %w", err))
		}

		out, err := r.Apply(ev)
		if err != nil {
			return t.fail(err)
		}

		switch out.Kind {
		case reducer.Pending:
			if out.Delta != "" {
				t.delta(out.Delta, r.Partial())
			}
		case reducer.Completed:
			return t.complete(out.Message), nil
		case reducer.Interrupted:
			return t.interrupt(out.Interrupts), nil
		case reducer.Failed:
			return t.fail(out.Err)
		}
	}

	return t.fail(ErrIncompleteTurn)
}

// resolve returns a link with a durable id, creating the thread when
// needed.
func (t *turn) resolve(ctx context.Context, id string) (*store.ThreadLink, error) {
	if id == "" {
		return t.d.threads.Create(ctx, "")
	}

	link, err := t.d.threads.Resolve(ctx, id)
	switch {
	case errors.Is(err, thread.ErrNoDurableID):
		return t.d.threads.Create(ctx, id)
	case err != nil:
		return nil, err
	case !link.Resolved():
		return t.d.threads.Create(ctx, link.LocalID)
	}
	return link, nil
}

// acquire reserves the id the send was addressed by.
func (t *turn) acquire(key string) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	t.d.seq++
	t.seq = t.d.seq
	if key == "" {
		return nil
	}
	if _, busy := t.d.inflight[key]; busy {
		return ErrSendInFlight
	}
	if _, blocked := t.d.blocked[key]; blocked {
		return ErrInterruptPending
	}
	t.d.inflight[key] = t
	t.keys = append(t.keys, key)
	return nil
}

// claim reserves every alias of the resolved thread in one step.
func (t *turn) claim(keys []string) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	for _, k := range keys {
		if owner, busy := t.d.inflight[k]; busy && owner != t && (owner.committed || owner.seq < t.seq) {
			return ErrSendInFlight
		}
		if _, blocked := t.d.blocked[k]; blocked {
			return ErrInterruptPending
		}
	}
	for _, k := range keys {
		t.d.inflight[k] = t
		if !slices.Contains(t.keys, k) {
			t.keys = append(t.keys, k)
		}
	}
	t.committed = true
	return nil
}

func (t *turn) release() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	for _, k := range t.ownedLocked() {
		delete(t.d.inflight, k)
	}
}

// ownedLocked returns the keys this turn still holds.
func (t *turn) ownedLocked() []string {
	var keys []string
	for _, k := range t.keys {
		if t.d.inflight[k] == t {
			keys = append(keys, k)
		}
	}
	return keys
}

// viewLocked returns the view when it shows this turn's thread.
func (t *turn) viewLocked() *View {
	v := t.d.view
	if v == nil {
		return nil
	}
	owned := t.ownedLocked()
	if slices.Contains(owned, v.LocalID) || (v.ThreadID != "" && slices.Contains(owned, v.ThreadID)) {
		return v
	}
	return nil
}

// attachView records the durable id on a view that was showing the
// thread by its placeholder.
func (t *turn) attachView() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if v := t.viewLocked(); v != nil {
		v.LocalID, v.ThreadID = t.localID, t.threadID
	}
}

func (t *turn) set(state State) {
	t.setWithErr(state, nil)
}

func (t *turn) setWithErr(state State, err error) {
	t.d.mu.Lock()
	keys := t.ownedLocked()
	for _, k := range keys {
		t.d.states[k] = state
	}
	if v := t.viewLocked(); v != nil {
		v.State = state
		if !state.Active() {
			v.Partial = ""
		}
	}
	t.d.mu.Unlock()

	t.publish(keys, &Update{Kind: UpdateState, State: state, Err: err})
}

func (t *turn) publish(keys []string, u *Update) {
	u.LocalID, u.ThreadID = t.localID, t.threadID
	for _, k := range keys {
		t.d.updates.Publish(k, u)
	}
}

// appendMessage extends the displayed thread in place. The view is not
// re-fetched after a send; the next Select loads persisted state.
func (t *turn) appendMessage(m conversation.Message, state State) {
	t.d.mu.Lock()
	keys := t.ownedLocked()
	if v := t.viewLocked(); v != nil {
		v.Messages = append(v.Messages, m)
	}
	t.d.mu.Unlock()

	t.publish(keys, &Update{Kind: UpdateMessage, State: state, Message: &m})
}

func (t *turn) delta(text, partial string) {
	t.d.mu.Lock()
	keys := t.ownedLocked()
	if v := t.viewLocked(); v != nil {
		v.Partial = partial
	}
	t.d.mu.Unlock()

	t.publish(keys, &Update{Kind: UpdateDelta, State: Streaming, Delta: text})
}

func (t *turn) complete(msg *conversation.Message) *Result {
	t.appendMessage(*msg, Completed)
	t.set(Completed)
	t.set(Idle)

	t.d.logger.Debug("send completed", "thread_id", t.threadID, "message_id", msg.ID)
	return &Result{LocalID: t.localID, ThreadID: t.threadID, State: Completed, Message: msg}
}

func (t *turn) interrupt(interrupts []conversation.Interrupt) *Result {
	t.d.mu.Lock()
	keys := t.ownedLocked()
	t.d.blockLocked(slices.Clone(keys), interrupts)
	if v := t.viewLocked(); v != nil {
		v.Interrupts = slices.Clone(interrupts)
	}
	t.d.mu.Unlock()

	t.publish(keys, &Update{Kind: UpdateInterrupt, State: Interrupted, Interrupts: interrupts})
	t.set(Interrupted)

	t.d.logger.Info("send interrupted", "thread_id", t.threadID, "interrupts", len(interrupts))
	return &Result{LocalID: t.localID, ThreadID: t.threadID, State: Interrupted, Interrupts: interrupts}
}

func (t *turn) fail(err error) (*Result, error) {
	t.setWithErr(Failed, err)

	t.d.logger.Error("send failed",
		"local_id", t.localID,
		"thread_id", t.threadID,
		"error", err)
	return &Result{LocalID: t.localID, ThreadID: t.threadID, State: Failed}, err
}

// abandon backs out of Initializing when another reservation blocks the
// send.
func (t *turn) abandon(err error) {
	if errors.Is(err, ErrInterruptPending) {
		t.set(Interrupted)
		return
	}
	t.set(Idle)
}

func linkKeys(link *store.ThreadLink) []string {
	var keys []string
	for _, k := range []string{link.LocalID, link.ExternalID, link.RegistryID} {
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}
