// ABOUTME: Tests for the streaming session driver against the in-memory fake services
// ABOUTME: Covers the send state machine, thread creation, interrupts, single flight, dedupe, and updates

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/dedupe"
	"github.com/2389/threadsync/internal/fakeapi"
	"github.com/2389/threadsync/internal/reducer"
	"github.com/2389/threadsync/internal/sse"
	"github.com/2389/threadsync/internal/store"
	"github.com/2389/threadsync/internal/thread"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

type harness struct {
	driver *Driver
	srv    *fakeapi.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	srv := fakeapi.New(fakeapi.WithToken("tok"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	content := conversation.NewClient(ts.URL, conversation.WithTokenSource(staticToken("tok")))
	coord := thread.New(content, conversation.NewFetcher(content, nil), store.NewMockStore())
	return newHarnessWith(t, srv, coord, content, opts...)
}

func newHarnessWith(t *testing.T, srv *fakeapi.Server, coord *thread.Coordinator, streamer Streamer, opts ...Option) *harness {
	t.Helper()

	all := append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
		WithIdleTimeout(5 * time.Second),
	}, opts...)
	d := New(coord, streamer, all...)
	t.Cleanup(d.Close)

	return &harness{driver: d, srv: srv}
}

func TestDriver_SendCreatesThreadAndAssemblesReply(t *testing.T) {
	h := newHarness(t)
	h.srv.SetScript("t1",
		`{"type":"delta","data":"Hi "}`,
		`{"type":"delta","data":"there"}`,
		`{"type":"finish","data":{}}`,
		`[DONE]`)

	res, err := h.driver.Send(t.Context(), SendRequest{Content: "Hello"})
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, "t1", res.ThreadID)
	assert.True(t, conversation.IsPendingID(res.LocalID))
	require.NotNil(t, res.Message)
	assert.Equal(t, "Hi there", res.Message.Content)
	assert.Equal(t, conversation.RoleAssistant, res.Message.Role)
	assert.NotEmpty(t, res.Message.ID)

	assert.Equal(t, []string{"POST /threads", "POST /threads/t1/stream"}, h.srv.Calls())
	assert.Equal(t, Idle, h.driver.State("t1"), "a completed turn returns the thread to idle")
	assert.Equal(t, Idle, h.driver.State(res.LocalID))

	persisted := h.srv.Messages("t1")
	require.Len(t, persisted, 1)
	assert.Equal(t, "Hello", persisted[0].Content)
	assert.Equal(t, "human", persisted[0].Type, "the message is posted with the user role")
}

func TestDriver_SendOnSelectedThreadUpdatesView(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.srv.SeedThread("t5", nil, []fakeapi.Message{
		{ID: "m1", Type: "human", Content: "Earlier"},
		{ID: "m2", Type: "ai", Content: "Echo: Earlier"},
	})

	view, err := h.driver.Select(ctx, "t5")
	require.NoError(t, err)
	assert.Len(t, view.Messages, 2)
	assert.Equal(t, Idle, view.State)

	res, err := h.driver.Send(ctx, SendRequest{ThreadID: "t5", Content: "Again"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: Again", res.Message.Content)

	view = h.driver.View()
	require.Len(t, view.Messages, 4)
	assert.Equal(t, conversation.RoleUser, view.Messages[2].Role)
	assert.Equal(t, "Again", view.Messages[2].Content)
	assert.Equal(t, "Echo: Again", view.Messages[3].Content)
	assert.Empty(t, view.Partial)
	assert.Equal(t, Idle, view.State)

	// Re-entering the thread reloads persisted state.
	view, err = h.driver.Select(ctx, "t5")
	require.NoError(t, err)
	require.Len(t, view.Messages, 4)
	assert.Equal(t, "Echo: Again", view.Messages[3].Content)
}

func TestDriver_SendFromPendingView(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	pending := thread.NewPendingID(fixedNow)
	view, err := h.driver.Select(ctx, pending)
	require.NoError(t, err)
	assert.Empty(t, view.Messages)
	assert.Empty(t, h.srv.Calls(), "a placeholder is never fetched")

	res, err := h.driver.Send(ctx, SendRequest{ThreadID: pending, Content: "First"})
	require.NoError(t, err)
	assert.Equal(t, pending, res.LocalID)
	assert.Equal(t, "t1", res.ThreadID)

	view = h.driver.View()
	assert.Equal(t, pending, view.LocalID)
	assert.Equal(t, "t1", view.ThreadID)
	assert.Len(t, view.Messages, 2)
}

func TestDriver_CreateFailureFailsSend(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail(http.MethodPost, "/threads", http.StatusServiceUnavailable)

	pending := thread.NewPendingID(fixedNow)
	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: pending, Content: "Hello"})
	require.Error(t, err)
	assert.Equal(t, Failed, res.State)
	assert.Empty(t, res.ThreadID)
	assert.Equal(t, Failed, h.driver.State(pending))
	assert.Equal(t, []string{"POST /threads"}, h.srv.Calls(), "nothing is streamed without a durable id")
}

func TestDriver_StreamOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedThread("t1", nil, nil)
	h.srv.Fail(http.MethodPost, "/threads/t1/stream", http.StatusBadGateway)

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "Hello"})
	require.Error(t, err)
	assert.Equal(t, Failed, res.State)

	var apiErr *conversation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestDriver_UpstreamErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1",
		`{"type":"delta","data":"partial"}`,
		`{"type":"error","data":{"message":"model overloaded"}}`)

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "Hello"})
	require.Error(t, err)
	assert.Equal(t, Failed, res.State)

	var upstream *reducer.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "model overloaded", upstream.Message)
}

func TestDriver_StreamEndingWithoutFinishFails(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1", `{"type":"delta","data":"Hi"}`, `[DONE]`)

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "Hello"})
	assert.ErrorIs(t, err, ErrIncompleteTurn)
	assert.Equal(t, Failed, res.State)
}

func TestDriver_MalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1",
		`{"type":"delta","data":"A"}`,
		`{not json`,
		`{"type":"delta","data":"B"}`,
		`{"type":"finish","data":{}}`)

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "AB", res.Message.Content)
}

func TestDriver_EmptyReplyIsKept(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1", `{"type":"finish","data":{}}`, `[DONE]`)

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "run the tool"})
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	require.NotNil(t, res.Message)
	assert.Empty(t, res.Message.Content)
}

func TestDriver_InterruptBlocksUntilResolved(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1", `{"type":"interrupt","data":{"value":{"question":"approve?"},"resumable":true}}`)

	res, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Delete my files"})
	require.NoError(t, err)
	assert.Equal(t, Interrupted, res.State)
	require.Len(t, res.Interrupts, 1)
	assert.True(t, res.Interrupts[0].Resumable)
	assert.Nil(t, res.Message)
	assert.Equal(t, Interrupted, h.driver.State("t1"))

	_, err = h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello?"})
	assert.ErrorIs(t, err, ErrInterruptPending)

	assert.True(t, h.driver.ResolveInterrupt("t1"))
	assert.False(t, h.driver.ResolveInterrupt("t1"))
	assert.Equal(t, Idle, h.driver.State("t1"))

	h.srv.SetScript("t1", `{"type":"delta","data":"ok"}`, `{"type":"finish","data":{}}`)
	res, err = h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Approved"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Message.Content)
}

func TestDriver_SelectWithPersistedInterruptBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.srv.SeedThread("t1", nil, nil, json.RawMessage(`{"value":"confirm","resumable":true}`))

	view, err := h.driver.Select(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, Interrupted, view.State)
	require.Len(t, view.Interrupts, 1)

	_, err = h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello"})
	assert.ErrorIs(t, err, ErrInterruptPending)
	assert.NotContains(t, h.srv.Calls(), "POST /threads/t1/stream")
}

func TestDriver_SelectServiceFailureStillSwitches(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail(http.MethodGet, "/threads/t9", http.StatusInternalServerError)

	view, err := h.driver.Select(t.Context(), "t9")
	assert.ErrorIs(t, err, conversation.ErrStateUnavailable)
	require.NotNil(t, view)
	assert.Equal(t, "t9", view.ThreadID)
	assert.Empty(t, view.Messages)
}

// pipeStreamer hands out a pipe per stream so tests control frame timing.
type pipeStreamer struct {
	mu      sync.Mutex
	writers map[string]*io.PipeWriter
	opened  chan string
}

func newPipeStreamer() *pipeStreamer {
	return &pipeStreamer{writers: make(map[string]*io.PipeWriter), opened: make(chan string, 8)}
}

func (p *pipeStreamer) Stream(_ context.Context, threadID string, _ []conversation.StreamMessage) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	p.mu.Lock()
	p.writers[threadID] = pw
	p.mu.Unlock()
	p.opened <- threadID
	return pr, nil
}

func (p *pipeStreamer) write(threadID, frame string) {
	p.mu.Lock()
	pw := p.writers[threadID]
	p.mu.Unlock()
	fmt.Fprintf(pw, "data: %s\n\n", frame)
}

func newPipeHarness(t *testing.T, opts ...Option) (*harness, *pipeStreamer) {
	t.Helper()

	srv := fakeapi.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	content := conversation.NewClient(ts.URL)
	coord := thread.New(content, conversation.NewFetcher(content, nil), store.NewMockStore())
	streamer := newPipeStreamer()
	return newHarnessWith(t, srv, coord, streamer, opts...), streamer
}

func waitOpened(t *testing.T, p *pipeStreamer) string {
	t.Helper()
	select {
	case id := <-p.opened:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
		return ""
	}
}

func TestDriver_RejectsConcurrentSendOnSameThread(t *testing.T) {
	h, pipes := newPipeHarness(t)
	ctx := t.Context()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "first"})
		done <- outcome{res, err}
	}()
	require.Equal(t, "t1", waitOpened(t, pipes))
	require.Eventually(t, func() bool {
		return h.driver.State("t1") == Streaming
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "second"})
	assert.ErrorIs(t, err, ErrSendInFlight)

	// Other threads are unaffected.
	other := make(chan outcome, 1)
	go func() {
		res, err := h.driver.Send(ctx, SendRequest{ThreadID: "t2", Content: "elsewhere"})
		other <- outcome{res, err}
	}()
	require.Equal(t, "t2", waitOpened(t, pipes))
	pipes.write("t2", `{"type":"finish","data":"done"}`)
	got := <-other
	require.NoError(t, got.err)
	assert.Equal(t, "done", got.res.Message.Content)

	pipes.write("t1", `{"type":"delta","data":"one"}`)
	pipes.write("t1", `{"type":"finish","data":{}}`)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "one", first.res.Message.Content)

	// The reservation is released once the turn ends.
	go func() {
		res, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "third"})
		done <- outcome{res, err}
	}()
	waitOpened(t, pipes)
	pipes.write("t1", `{"type":"finish","data":{}}`)
	third := <-done
	require.NoError(t, third.err)
}

func TestDriver_IdleTimeoutFailsSend(t *testing.T) {
	h, pipes := newPipeHarness(t, WithIdleTimeout(50*time.Millisecond))

	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "anyone?"})
	<-pipes.opened
	assert.ErrorIs(t, err, sse.ErrIdleTimeout)
	assert.ErrorIs(t, err, sse.ErrTransport)
	assert.Equal(t, Failed, res.State)
}

func TestDriver_CancelDiscardsPartial(t *testing.T) {
	h, pipes := newPipeHarness(t)
	ctx, cancel := context.WithCancel(t.Context())

	_, err := h.driver.Select(ctx, "t1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "long answer please"})
		done <- err
	}()
	waitOpened(t, pipes)
	pipes.write("t1", `{"type":"delta","data":"Once upon"}`)

	require.Eventually(t, func() bool {
		return h.driver.View().Partial == "Once upon"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	err = <-done
	require.Error(t, err)

	view := h.driver.View()
	assert.Equal(t, Failed, view.State)
	assert.Empty(t, view.Partial)
	require.Len(t, view.Messages, 1, "only the user message remains")
	assert.Equal(t, conversation.RoleUser, view.Messages[0].Role)
}

func TestDriver_DuplicateSendSuppressed(t *testing.T) {
	cache := dedupe.New(time.Minute, 10)
	t.Cleanup(cache.Close)
	h := newHarness(t, WithDedupe(cache))
	ctx := t.Context()
	h.srv.SeedThread("t1", nil, nil)

	_, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello", IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello", IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrDuplicateSend)
	assert.Len(t, h.srv.Messages("t1"), 2, "the duplicate never reached the service")
}

func TestDriver_FailedSendReleasesIdempotencyKey(t *testing.T) {
	cache := dedupe.New(time.Minute, 10)
	t.Cleanup(cache.Close)
	h := newHarness(t, WithDedupe(cache))
	ctx := t.Context()
	h.srv.SeedThread("t1", nil, nil)
	h.srv.Fail(http.MethodPost, "/threads/t1/stream", http.StatusInternalServerError)

	_, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello", IdempotencyKey: "k1"})
	require.Error(t, err)

	h.srv.Recover(http.MethodPost, "/threads/t1/stream")
	_, err = h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello", IdempotencyKey: "k1"})
	require.NoError(t, err)
}

func TestDriver_RequiresSession(t *testing.T) {
	session := auth.NewSession()
	h := newHarness(t, WithSession(session))

	_, err := h.driver.Send(t.Context(), SendRequest{Content: "Hello"})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Empty(t, h.srv.Calls())
}

func TestDriver_RejectsEmptyMessage(t *testing.T) {
	h := newHarness(t)

	_, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t1", Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDriver_PublishesUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.srv.SeedThread("t1", nil, nil)
	h.srv.SetScript("t1",
		`{"type":"delta","data":"Hi "}`,
		`{"type":"delta","data":"there"}`,
		`{"type":"finish","data":{}}`)

	updates := h.driver.Subscribe(ctx, "t1")

	_, err := h.driver.Send(ctx, SendRequest{ThreadID: "t1", Content: "Hello"})
	require.NoError(t, err)

	var kinds []string
	var assistant *conversation.Message
	for len(kinds) < 8 {
		select {
		case u := <-updates:
			kinds = append(kinds, fmt.Sprintf("%s:%s", u.Kind, u.State))
			if u.Kind == UpdateMessage && u.Message.Role == conversation.RoleAssistant {
				assistant = u.Message
			}
			assert.Equal(t, "t1", u.LocalID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after updates %v", kinds)
		}
	}

	assert.Equal(t, []string{
		"state:initializing",
		"state:streaming",
		"message:streaming",
		"delta:streaming",
		"delta:streaming",
		"message:completed",
		"state:completed",
		"state:idle",
	}, kinds)
	require.NotNil(t, assistant)
	assert.Equal(t, "Hi there", assistant.Content)
}

func TestDriver_UnknownDurableIDFailsAtStream(t *testing.T) {
	h := newHarness(t)

	// Unknown ids are taken as durable, so the service decides.
	res, err := h.driver.Send(t.Context(), SendRequest{ThreadID: "t404", Content: "x"})
	var apiErr *conversation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, Failed, h.driver.State("t404"))
}

// gatedThreads serves one fixed link and holds every Resolve until all
// expected callers have arrived.
type gatedThreads struct {
	link    store.ThreadLink
	arrived sync.WaitGroup
}

func (g *gatedThreads) Open(context.Context, string) (*store.ThreadLink, *conversation.ThreadState, error) {
	link := g.link
	return &link, &conversation.ThreadState{}, nil
}

func (g *gatedThreads) Resolve(context.Context, string) (*store.ThreadLink, error) {
	g.arrived.Done()
	g.arrived.Wait()
	link := g.link
	return &link, nil
}

func (g *gatedThreads) Create(context.Context, string) (*store.ThreadLink, error) {
	link := g.link
	return &link, nil
}

func newGatedDriver(t *testing.T, callers int) (*Driver, *pipeStreamer) {
	t.Helper()

	threads := &gatedThreads{link: store.ThreadLink{LocalID: "local-1", ExternalID: "t1", RegistryID: "reg-1"}}
	threads.arrived.Add(callers)
	streamer := newPipeStreamer()
	d := New(threads, streamer, WithIdleTimeout(5*time.Second))
	t.Cleanup(d.Close)
	return d, streamer
}

func TestDriver_ReservesRegistryAlias(t *testing.T) {
	d, pipes := newGatedDriver(t, 1)
	ctx := t.Context()

	done := make(chan error, 1)
	go func() {
		_, err := d.Send(ctx, SendRequest{ThreadID: "local-1", Content: "first"})
		done <- err
	}()
	require.Equal(t, "t1", waitOpened(t, pipes))
	require.Eventually(t, func() bool {
		return d.State("reg-1") == Streaming
	}, 2*time.Second, 5*time.Millisecond)

	_, err := d.Send(ctx, SendRequest{ThreadID: "reg-1", Content: "second"})
	assert.ErrorIs(t, err, ErrSendInFlight)

	pipes.write("t1", `{"type":"finish","data":{}}`)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, d.State("reg-1"))
}

func TestDriver_CrossedAliasSendsLetOneThrough(t *testing.T) {
	d, pipes := newGatedDriver(t, 2)
	ctx := t.Context()

	errs := make(chan error, 2)
	for _, id := range []string{"local-1", "t1"} {
		go func() {
			_, err := d.Send(ctx, SendRequest{ThreadID: id, Content: "via " + id})
			errs <- err
		}()
	}

	// Both sends hold their first reservation before either resolves, so
	// exactly one must win the thread.
	first := <-errs
	assert.ErrorIs(t, first, ErrSendInFlight)

	require.Equal(t, "t1", waitOpened(t, pipes))
	pipes.write("t1", `{"type":"finish","data":{}}`)
	assert.NoError(t, <-errs)
	assert.Equal(t, Idle, d.State("local-1"))
	assert.Equal(t, Idle, d.State("t1"))
}
