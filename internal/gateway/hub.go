// ABOUTME: In-memory fan-out of push events to connected operator sockets
// ABOUTME: Per-subscriber buffers; slow consumers drop events instead of blocking the webhook path

package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

const subscriberBufferSize = 64

// Hub broadcasts wire envelopes to every attached operator. All operators
// see the whole inbox, so there is one broadcast domain, not per-
// conversation rooms.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan *wire.Envelope
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]chan *wire.Envelope),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is cleaned up automatically when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *wire.Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan *wire.Envelope, subscriberBufferSize)

	h.mu.Lock()
	h.subscribers[subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(subID string) {
	h.mu.Lock()
	ch, ok := h.subscribers[subID]
	if ok {
		delete(h.subscribers, subID)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
		h.logger.Debug("subscriber removed", "sub_id", subID)
	}
}

// Publish sends an envelope to all subscribers. Non-blocking: subscribers
// whose buffers are full miss the event; they re-sync from the next full
// snapshot on reconnect.
func (h *Hub) Publish(env *wire.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for subID, ch := range h.subscribers {
		select {
		case ch <- env:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				"sub_id", subID,
				"event_type", string(env.Type))
		}
	}
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
