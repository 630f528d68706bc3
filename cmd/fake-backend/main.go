// ABOUTME: Local stand-in for the conversation-state service and the thread registry
// ABOUTME: Usage: fake-backend [-addr localhost:2024] [-secret S] [-email E] [-role member|admin]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/threadsync/internal/auth"
	"github.com/2389/threadsync/internal/fakeapi"
)

func main() {
	addr := flag.String("addr", "localhost:2024", "Listen address")
	secret := flag.String("secret", "dev-secret", "HS256 secret for the minted token; empty disables auth")
	subject := flag.String("subject", "dev-user", "Token subject")
	email := flag.String("email", "dev@example.com", "Token email")
	role := flag.String("role", "member", "Token role (member or admin)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if err := run(*addr, *secret, *subject, *email, *role, *ttl); err != nil {
		log.Fatal(err)
	}
}

func run(addr, secret, subject, email, role string, ttl time.Duration) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts := []fakeapi.Option{fakeapi.WithLogger(logger)}
	if secret != "" {
		verifier := auth.NewJWTVerifier([]byte(secret), "")
		token, err := verifier.Generate(subject, email, role, ttl)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}
		opts = append(opts, fakeapi.WithVerifier(verifier))
		fmt.Printf("export THREADSYNC_TOKEN=%s\n", token)
		fmt.Printf("export THREADSYNC_JWT_SECRET=%s\n", secret)
	}
	fmt.Printf("export THREADSYNC_CONVERSATION_URL=http://%s\n", addr)
	fmt.Printf("export THREADSYNC_REGISTRY_URL=http://%s\n", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           fakeapi.New(opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
