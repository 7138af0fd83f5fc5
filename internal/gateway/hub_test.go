// ABOUTME: Tests for the push-event hub
// ABOUTME: Covers fan-out, unsubscribe, context cleanup, and slow-consumer drops

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

func recvEnvelope(t *testing.T, ch <-chan *wire.Envelope) *wire.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(nil)
	ctx := t.Context()

	ch1, _ := h.Subscribe(ctx)
	ch2, _ := h.Subscribe(ctx)

	h.Publish(&wire.Envelope{Type: wire.EventReady})

	assert.Equal(t, wire.EventReady, recvEnvelope(t, ch1).Type)
	assert.Equal(t, wire.EventReady, recvEnvelope(t, ch2).Type)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)

	ch, subID := h.Subscribe(context.Background())
	require.Equal(t, 1, h.Count())

	h.Unsubscribe(subID)
	assert.Equal(t, 0, h.Count())

	_, open := <-ch
	assert.False(t, open, "channel closed on unsubscribe")

	// Safe to call again.
	h.Unsubscribe(subID)
}

func TestHub_ContextCancelCleansUp(t *testing.T) {
	h := NewHub(nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.Subscribe(ctx)
	require.Equal(t, 1, h.Count())

	cancel()

	deadline := time.Now().Add(time.Second)
	for h.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, h.Count())
}

func TestHub_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)

	ch, _ := h.Subscribe(context.Background())

	// Fill the buffer and then some; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			h.Publish(&wire.Envelope{Type: wire.EventReady})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow consumer")
	}

	assert.Len(t, ch, subscriberBufferSize)
}
