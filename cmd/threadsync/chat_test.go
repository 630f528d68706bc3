// ABOUTME: Tests for the chat REPL and the presentation helpers against the fake backend
// ABOUTME: Builds the app by hand so no config file or token file is needed

package main

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/chat"
	"github.com/2389/threadsync/internal/config"
	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/dedupe"
	"github.com/2389/threadsync/internal/fakeapi"
	"github.com/2389/threadsync/internal/store"
	"github.com/2389/threadsync/internal/thread"
)

func newTestApp(t *testing.T) (*app, *fakeapi.Server) {
	t.Helper()

	verifier := auth.NewJWTVerifier([]byte("test-secret"), "")
	token, err := verifier.Generate("user-1", "ada@example.com", "member", time.Hour)
	require.NoError(t, err)

	session := auth.NewSession(auth.WithVerifier(verifier))
	require.NoError(t, session.SignIn(token))

	srv := fakeapi.New(fakeapi.WithToken(token))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	links, err := store.NewSQLiteStore(t.TempDir() + "/threads.db")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	content := conversation.NewClient(ts.URL, conversation.WithTokenSource(session))
	threads := thread.New(content, conversation.NewFetcher(content, logger), links,
		thread.WithIdentity(session), thread.WithLogger(logger))
	cache := dedupe.New(time.Minute, 100)

	a := &app{
		cfg:     config.Defaults(),
		logger:  logger,
		session: session,
		links:   links,
		content: content,
		threads: threads,
		dedupe:  cache,
		driver:  chat.New(threads, content, chat.WithSession(session), chat.WithDedupe(cache), chat.WithLogger(logger)),
	}
	t.Cleanup(a.Close)
	return a, srv
}

func TestREPL_SendsAndStreamsReply(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := t.Context()

	var out bytes.Buffer
	r := &repl{app: a, out: &out}
	defer r.stop()
	require.NoError(t, r.newThread(ctx))

	require.NoError(t, r.run(ctx, strings.NewReader("Hello\n/quit\n")))

	assert.Contains(t, out.String(), "Echo: Hello")
	assert.True(t, srv.HasThread("t1"))
	assert.Equal(t, "t1", a.driver.View().ThreadID)
}

func TestREPL_SecondSendReusesThread(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := t.Context()

	var out bytes.Buffer
	r := &repl{app: a, out: &out}
	defer r.stop()
	require.NoError(t, r.newThread(ctx))

	require.NoError(t, r.run(ctx, strings.NewReader("one\ntwo\n")))

	assert.False(t, srv.HasThread("t2"))
	assert.Len(t, srv.Messages("t1"), 4)
	assert.Contains(t, out.String(), "Echo: two")
}

func TestREPL_UseExistingThread(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := t.Context()
	srv.SeedThread("t7", nil, []fakeapi.Message{{ID: "m1", Type: "human", Content: "remember me"}})

	var out bytes.Buffer
	r := &repl{app: a, out: &out}
	defer r.stop()

	quit, err := r.handle(ctx, "/use t7")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "remember me")
	assert.Equal(t, "t7", r.current)
}

func TestREPL_InterruptAndResolve(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := t.Context()
	srv.SeedThread("t3", nil, nil)
	srv.SetScript("t3", `{"type":"interrupt","data":{"value":"approve?","resumable":true}}`)

	var out bytes.Buffer
	r := &repl{app: a, out: &out}
	defer r.stop()
	require.NoError(t, r.open(ctx, "t3"))

	_, err := r.handle(ctx, "do it")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/resolve")

	_, err = r.handle(ctx, "again")
	assert.ErrorIs(t, err, chat.ErrInterruptPending)

	_, err = r.handle(ctx, "/resolve")
	require.NoError(t, err)
	assert.Equal(t, chat.Idle, a.driver.State("t3"))
}

func TestREPL_UnknownCommand(t *testing.T) {
	a, _ := newTestApp(t)

	r := &repl{app: a, out: &bytes.Buffer{}}
	_, err := r.handle(t.Context(), "/frobnicate")
	assert.Error(t, err)
}

func TestPrintSummaries(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	var out bytes.Buffer
	printSummaries(&out, []thread.Summary{
		{ID: "t1", Title: "Hello", MessageCount: 2, UpdatedAt: &updated, UserEmail: "ada@example.com", UserID: "u1", Status: "idle"},
	})
	assert.Contains(t, out.String(), "Hello")
	assert.Contains(t, out.String(), "1 threads, 2 messages, 1 users")

	out.Reset()
	printSummaries(&out, nil)
	assert.Equal(t, "No threads.\n", out.String())
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "thread_id", "t1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"thread_id":"t1"`)

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.With("component", "chat").Debug("send failed", "error", "boom")
	assert.Contains(t, buf.String(), "send failed")
	assert.Contains(t, buf.String(), "component=")
	assert.Contains(t, buf.String(), "boom")
}

func TestColorHandler_GroupsQualifyAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.With("component", "chat").WithGroup("req").With("id", "r1").Info("sent", "path", "/threads")

	out := buf.String()
	assert.Contains(t, out, " component=")
	assert.NotContains(t, out, "req.component=")
	assert.Contains(t, out, "req.id=")
	assert.Contains(t, out, "req.path=")
}
