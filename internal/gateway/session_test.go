// ABOUTME: Tests for session lifecycle and replay/live interleaving
// ABOUTME: Exercises pending buffering, dedup overlap and the dropped flag

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/store"
)

func TestSession_LiveBufferedDuringReplay(t *testing.T) {
	sess := newSession(0, false, 8)
	sess.beginReplay()
	require.Equal(t, StateReplaying, sess.State())

	// Live traffic arrives mid-replay: parked, not emitted
	sess.deliver(Delivery{ID: 5, Content: "live"})
	select {
	case d := <-sess.Out():
		t.Fatalf("live delivery escaped during replay: %+v", d)
	default:
	}

	require.True(t, sess.replayDeliver(&store.Message{ID: 4, Content: "old"}))
	sess.finishReplay()
	assert.Equal(t, StateActive, sess.State())

	// History first, then the parked live delivery
	assert.Equal(t, int64(4), (<-sess.Out()).ID)
	assert.Equal(t, int64(5), (<-sess.Out()).ID)
}

func TestSession_ReplayLiveOverlapCollapsed(t *testing.T) {
	sess := newSession(0, false, 8)
	sess.beginReplay()

	// id 3 arrives both over the bus (parked) and from the store snapshot
	sess.deliver(Delivery{ID: 3, Content: "dup"})
	require.True(t, sess.replayDeliver(&store.Message{ID: 3, Content: "dup"}))
	sess.finishReplay()

	assert.Equal(t, int64(3), (<-sess.Out()).ID)
	select {
	case d := <-sess.Out():
		t.Fatalf("overlap not collapsed: %+v", d)
	default:
	}
}

func TestSession_DroppedFlagOnFullBuffer(t *testing.T) {
	sess := newSession(0, true, 2)
	sess.setActive()

	sess.deliver(Delivery{ID: 1})
	sess.deliver(Delivery{ID: 2})
	assert.False(t, sess.Dropped())

	sess.deliver(Delivery{ID: 3})
	assert.True(t, sess.Dropped())
}

func TestSession_ReplayDeliverAfterDetach(t *testing.T) {
	sess := newSession(0, false, 2)
	sess.beginReplay()
	sess.detach()

	assert.False(t, sess.replayDeliver(&store.Message{ID: 1}))
	assert.Equal(t, StateDisconnected, sess.State())

	// Deliveries after detach are swallowed
	sess.deliver(Delivery{ID: 2})
	select {
	case d := <-sess.Out():
		t.Fatalf("delivery after detach: %+v", d)
	default:
	}
}

func TestSession_SystemNoticesSkipDedup(t *testing.T) {
	sess := newSession(0, true, 8)
	sess.setActive()

	sess.deliver(Delivery{Content: "user connected", System: true})
	sess.deliver(Delivery{Content: "user connected", System: true})

	assert.Equal(t, "user connected", (<-sess.Out()).Content)
	assert.Equal(t, "user connected", (<-sess.Out()).Content)
}

func TestSession_MarkDropped(t *testing.T) {
	sess := newSession(0, true, 4)
	sess.setActive()
	assert.False(t, sess.Dropped())

	sess.MarkDropped()
	assert.True(t, sess.Dropped())
}

func TestSession_ActivationFlushesParkedDeliveries(t *testing.T) {
	sess := newSession(0, true, 8)

	// A broadcast lands after registration but before activation
	sess.deliver(Delivery{ID: 1, Content: "early"})
	sess.setActive()

	select {
	case d := <-sess.Out():
		assert.Equal(t, int64(1), d.ID)
		assert.Equal(t, "early", d.Content)
	default:
		t.Fatal("delivery parked before activation was never flushed")
	}
	assert.False(t, sess.Dropped())
}
