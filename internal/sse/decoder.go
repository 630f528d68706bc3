// ABOUTME: Incremental SSE frame decoder yielding typed events from a byte stream
// ABOUTME: Buffers partial lines across chunks, skips malformed frames, stops on [DONE]

package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"
)

const (
	// doneSentinel terminates the stream when it appears as a data payload.
	doneSentinel = "[DONE]"

	defaultReadSize    = 4096
	defaultMaxLineSize = 1 << 20
)

var dataPrefix = []byte("data:")

// Decoder errors
var (
	// ErrTransport marks failures of the underlying byte stream.
	ErrTransport = errors.New("stream transport failed")
	// ErrIdleTimeout is returned when no bytes arrive within the idle timeout.
	ErrIdleTimeout = fmt.Errorf("%w: idle timeout", ErrTransport)
	// ErrLineTooLong is returned when a single line exceeds the configured maximum.
	ErrLineTooLong = errors.New("stream line exceeds maximum size")
)

// Event is one decoded payload from the stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type options struct {
	logger      *slog.Logger
	idleTimeout time.Duration
	readSize    int
	maxLineSize int
}

// Option configures Decode.
type Option func(*options)

// WithLogger sets the logger used to report dropped frames.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIdleTimeout fails the stream with ErrIdleTimeout when no data arrives
// for d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithReadSize sets the size of each read from the body.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithMaxLineSize bounds the bytes buffered for a single unterminated line.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// Decode returns an iterator over the events carried by body. The body is
// always closed before the iterator returns.
func Decode(ctx context.Context, body io.ReadCloser, opts ...Option) iter.Seq2[Event, error] {
	cfg := options{
		logger:      slog.Default(),
		readSize:    defaultReadSize,
		maxLineSize: defaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("component", "sse")

	return func(yield func(Event, error) bool) {
		r := newIdleReader(body, cfg.idleTimeout)
		defer r.Close()

		// Cancellation unblocks a pending Read by closing the body.
		stop := context.AfterFunc(ctx, func() { r.Close() })
		defer stop()

		var buf []byte
		chunk := make([]byte, cfg.readSize)

		for {
			n, err := r.Read(chunk)
			if err != nil && !errors.Is(err, io.EOF) {
				yield(Event{}, r.classify(ctx, err))
				return
			}

			if n > 0 {
				buf = append(buf, chunk[:n]...)

				start := 0
				for {
					i := bytes.IndexByte(buf[start:], '\n')
					if i < 0 {
						break
					}
					line := buf[start : start+i]
					start += i + 1

					ev, res := parseLine(line, logger)
					switch res {
					case lineDone:
						return
					case lineEvent:
						if !yield(ev, nil) {
							return
						}
					}
				}
				buf = buf[:copy(buf, buf[start:])]

				if len(buf) > cfg.maxLineSize {
					yield(Event{}, fmt.Errorf("%w: %d bytes", ErrLineTooLong, len(buf)))
					return
				}
			}

			if err != nil {
				// EOF: an unterminated trailing line is not a complete frame.
				if len(bytes.TrimSpace(buf)) > 0 {
					logger.Debug("discarding unterminated trailing line", "bytes", len(buf))
				}
				return
			}
		}
	}
}

type lineResult int

const (
	lineSkip lineResult = iota
	lineEvent
	lineDone
)

// parseLine interprets a single complete line.
func parseLine(line []byte, logger *slog.Logger) (Event, lineResult) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, lineSkip
	}

	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))

	if string(payload) == doneSentinel {
		return Event{}, lineDone
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Debug("dropping malformed frame", "error", err, "bytes", len(payload))
		return Event{}, lineSkip
	}
	if ev.Type == "" {
		logger.Debug("dropping frame without type", "bytes", len(payload))
		return Event{}, lineSkip
	}

	return ev, lineEvent
}
