// ABOUTME: In-memory fan-out of send progress to views following a thread
// ABOUTME: Publishes Updates to every subscriber of a thread key

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for Updates. Subscribers register
// for a thread key (local or durable id) and receive updates as the driver
// produces them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // threadKey -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for updates on threadKey. It returns
// the update channel and a subscription id for Unsubscribe. The
// subscription ends when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, threadKey string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[threadKey]; !ok {
		b.subscribers[threadKey] = make(map[string]chan *Update)
	}
	b.subscribers[threadKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"thread_key", threadKey,
		"sub_id", subID)

	context.AfterFunc(ctx, func() {
		b.Unsubscribe(threadKey, subID)
	})

	return ch, subID
}

// Publish sends an update to all subscribers of threadKey.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(threadKey string, update *Update) {
	// The read lock is held across sends so Unsubscribe cannot close a
	// channel mid-send. Sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[threadKey] {
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"thread_key", threadKey,
				"kind", update.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(threadKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadKey]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, threadKey)
	}

	b.logger.Debug("subscriber removed",
		"thread_key", threadKey,
		"sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
