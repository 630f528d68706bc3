// ABOUTME: Body wrapper enforcing an idle timeout between reads
// ABOUTME: Closes the underlying stream when the timer fires so blocked reads return

package sse

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// idleReader closes its body when a single Read blocks longer than timeout.
type idleReader struct {
	rc       io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
	once     sync.Once
	closeErr error
}

func newIdleReader(rc io.ReadCloser, timeout time.Duration) *idleReader {
	r := &idleReader{rc: rc, timeout: timeout}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			r.timedOut.Store(true)
			r.Close()
		})
		r.timer.Stop()
	}
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timer != nil {
		r.timer.Reset(r.timeout)
		defer r.timer.Stop()
	}
	return r.rc.Read(p)
}

// Close releases the body. Safe to call more than once and from the timer goroutine.
func (r *idleReader) Close() error {
	r.once.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.closeErr = r.rc.Close()
	})
	return r.closeErr
}

// classify maps a read failure onto the decoder's error taxonomy.
func (r *idleReader) classify(ctx context.Context, err error) error {
	if r.timedOut.Load() {
		return fmt.Errorf("%w after %s", ErrIdleTimeout, r.timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("reading stream: %w", ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
