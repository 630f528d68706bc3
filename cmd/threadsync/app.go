// ABOUTME: Wires config, session, service clients, link store, coordinator, and driver
// ABOUTME: Every subcommand starts from newApp and closes it on exit

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/chat"
	"github.com/2389/threadsync/internal/config"
	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/dedupe"
	"github.com/2389/threadsync/internal/registry"
	"github.com/2389/threadsync/internal/store"
	"github.com/2389/threadsync/internal/thread"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *auth.Session
	links   store.Store
	content *conversation.Client
	threads *thread.Coordinator
	dedupe  *dedupe.Cache
	driver  *chat.Driver
}

func newApp() (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	var sessionOpts []auth.SessionOption
	if cfg.Auth.JWTSecret != "" {
		sessionOpts = append(sessionOpts, auth.WithVerifier(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)))
	}
	session := auth.NewSession(append(sessionOpts, auth.WithLogger(logger))...)

	session.Begin()
	token := getToken()
	if token == "" {
		session.SignOut()
		return nil, errors.New("THREADSYNC_TOKEN is required (or a token in ~/.config/threadsync/token)")
	}
	if err := session.SignIn(token); err != nil {
		return nil, err
	}

	links, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening link store: %w", err)
	}

	content := conversation.NewClient(cfg.Conversation.BaseURL,
		conversation.WithTokenSource(session),
		conversation.WithRequestTimeout(cfg.Conversation.RequestTimeout),
		conversation.WithLogger(logger))

	threadOpts := []thread.Option{
		thread.WithIdentity(session),
		thread.WithBulkConcurrency(cfg.Lifecycle.BulkConcurrency),
		thread.WithBulkRate(cfg.Lifecycle.BulkRatePerSecond),
		thread.WithLogger(logger),
	}
	if cfg.Registry.Enabled {
		reg := registry.NewClient(cfg.Registry.BaseURL,
			registry.WithTokenSource(session),
			registry.WithRequestTimeout(cfg.Registry.RequestTimeout),
			registry.WithDirectLookup(cfg.Registry.DirectLookup),
			registry.WithLogger(logger))
		threadOpts = append(threadOpts, thread.WithRegistry(reg))
	}
	threads := thread.New(content, conversation.NewFetcher(content, logger), links, threadOpts...)

	cache := dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeSize)
	driver := chat.New(threads, content,
		chat.WithSession(session),
		chat.WithDedupe(cache),
		chat.WithIdleTimeout(cfg.Conversation.StreamIdleTimeout),
		chat.WithLogger(logger))

	return &app{
		cfg:     cfg,
		logger:  logger,
		session: session,
		links:   links,
		content: content,
		threads: threads,
		dedupe:  cache,
		driver:  driver,
	}, nil
}

func (a *app) Close() {
	a.driver.Close()
	a.dedupe.Close()
	if err := a.links.Close(); err != nil {
		a.logger.Warn("closing link store", "error", err)
	}
}
