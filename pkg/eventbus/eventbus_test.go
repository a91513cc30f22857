package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Change-event order (spec.md §8, property 11): listeners observe events
// in strictly increasing per-server sequence number.
func TestSequenceNumbersStrictlyIncreasing(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var seen []uint64
	b.Register(ListenerFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Seq)
	}))

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: Change})
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestAllListenersReceiveEachEvent(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var a, c int
	b.Register(ListenerFunc(func(Event) { mu.Lock(); a++; mu.Unlock() }))
	b.Register(ListenerFunc(func(Event) { mu.Lock(); c++; mu.Unlock() }))

	b.Publish(Event{Kind: InstanceStored})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, c)
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	b := New()
	var secondCalled bool
	b.Register(ListenerFunc(func(Event) { panic("boom") }))
	b.Register(ListenerFunc(func(Event) { secondCalled = true }))

	assert.NotPanics(t, func() { b.Publish(Event{Kind: Change}) })
	assert.True(t, secondCalled)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	var calls int
	token := b.Register(ListenerFunc(func(Event) { calls++ }))
	b.Publish(Event{Kind: Change})
	b.Unregister(token)
	b.Publish(Event{Kind: Change})
	assert.Equal(t, 1, calls)
}

func TestDrainWaitsForInFlightPublish(t *testing.T) {
	b := New()
	b.Register(ListenerFunc(func(Event) {}))
	b.Publish(Event{Kind: Change})
	b.Drain() // must return promptly once no Publish is in flight
}
