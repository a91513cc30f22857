package chunkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5 from spec.md §8.
func TestS5ChunkStore(t *testing.T) {
	s := New(DefaultBound)

	o, body := s.Store("F", 10, []byte("abc"))
	assert.Equal(t, Pending, o)
	assert.Nil(t, body)

	o, body = s.Store("F", 10, []byte("de"))
	assert.Equal(t, Pending, o)
	assert.Nil(t, body)

	o, body = s.Store("F", 10, []byte("fghij"))
	require.Equal(t, Success, o)
	assert.Equal(t, "abcdefghij", string(body))
}

func TestNoLengthOnMissingTotal(t *testing.T) {
	s := New(DefaultBound)
	o, _ := s.Store("F", 0, []byte("abc"))
	assert.Equal(t, NoLength, o)
	assert.Equal(t, 0, s.Len())
}

// Overflow resolves to Failure per spec.md's Open Question decision.
func TestOverflowIsFailure(t *testing.T) {
	s := New(DefaultBound)
	o, body := s.Store("F", 3, []byte("abcdef"))
	assert.Equal(t, Failure, o)
	assert.Nil(t, body)
	assert.Equal(t, 0, s.Len())
}

func TestEvictionMarksDiscardedAndFailsFast(t *testing.T) {
	s := New(2)
	o, _ := s.Store("a", 10, []byte("x"))
	assert.Equal(t, Pending, o)
	o, _ = s.Store("b", 10, []byte("x"))
	assert.Equal(t, Pending, o)

	// Store is full: inserting "c" evicts "a".
	o, _ = s.Store("c", 10, []byte("x"))
	assert.Equal(t, Pending, o)
	assert.Equal(t, 2, s.Len())

	o, body := s.Store("a", 10, []byte("y"))
	assert.Equal(t, Failure, o)
	assert.Nil(t, body)

	// The discarded marker is consumed on touch: a further Store for "a"
	// starts a fresh record.
	o, _ = s.Store("a", 10, []byte("z"))
	assert.Equal(t, Pending, o)
}

// Chunk store conservation (spec.md §8, property 5): for a filename never
// evicted, the concatenation of accepted chunks in arrival order equals the
// completed body.
func TestConservationOfArrivalOrder(t *testing.T) {
	s := New(DefaultBound)
	parts := []string{"he", "ll", "o, ", "wor", "ld!"}
	var total int64
	for _, p := range parts {
		total += int64(len(p))
	}
	var last Outcome
	var body []byte
	for _, p := range parts {
		last, body = s.Store("F", total, []byte(p))
	}
	require.Equal(t, Success, last)
	assert.Equal(t, "hello, world!", string(body))
}
