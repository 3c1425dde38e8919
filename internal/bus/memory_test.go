// ABOUTME: Tests for the in-memory bus
// ABOUTME: Covers self-delivery, fan-out, ordering and subscription lifecycle

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEnvelope(t *testing.T, ch <-chan *Envelope) *Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestMemory_SelfDelivery(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Envelope, 1)
	b.Subscribe(ctx, func(env *Envelope) { got <- env })

	err := b.Publish(ctx, &Envelope{ID: 1, Content: "hi", Kind: KindMessage})
	require.NoError(t, err)

	env := waitEnvelope(t, got)
	assert.Equal(t, int64(1), env.ID)
	assert.Equal(t, "hi", env.Content)
}

func TestMemory_FanOutToAllSubscribers(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan *Envelope, 1)
	second := make(chan *Envelope, 1)
	b.Subscribe(ctx, func(env *Envelope) { first <- env })
	b.Subscribe(ctx, func(env *Envelope) { second <- env })

	require.NoError(t, b.Publish(ctx, &Envelope{ID: 7, Content: "fan", Kind: KindMessage}))

	assert.Equal(t, int64(7), waitEnvelope(t, first).ID)
	assert.Equal(t, int64(7), waitEnvelope(t, second).ID)
}

func TestMemory_PreservesPublishOrder(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Envelope, 16)
	b.Subscribe(ctx, func(env *Envelope) { got <- env })

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, b.Publish(ctx, &Envelope{ID: i, Kind: KindMessage}))
	}

	for i := int64(1); i <= 10; i++ {
		assert.Equal(t, i, waitEnvelope(t, got).ID)
	}
}

func TestMemory_UnsubscribeOnContextCancel(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan *Envelope, 1)
	b.Subscribe(ctx, func(env *Envelope) { got <- env })

	cancel()

	// Wait for the unsubscribe goroutine to run
	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subscribers) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), &Envelope{ID: 1, Kind: KindMessage}))

	select {
	case <-got:
		t.Fatal("cancelled subscriber must not receive envelopes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemory_PublishAfterClose(t *testing.T) {
	b := NewMemory(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Envelope, 1)
	b.Subscribe(ctx, func(env *Envelope) { got <- env })

	require.NoError(t, b.Close())

	// No panic, no delivery
	require.NoError(t, b.Publish(ctx, &Envelope{ID: 1, Kind: KindMessage}))

	select {
	case <-got:
		t.Fatal("closed bus must not deliver")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemory_SubscribeAfterCloseIsNoop(t *testing.T) {
	b := NewMemory(nil)
	require.NoError(t, b.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Subscribe(ctx, func(env *Envelope) { t.Fatal("must not be invoked") })
	require.NoError(t, b.Publish(ctx, &Envelope{ID: 1, Kind: KindMessage}))
	time.Sleep(50 * time.Millisecond)
}
