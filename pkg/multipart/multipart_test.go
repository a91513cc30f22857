package multipart

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoundary = "123456789123456789"

type collected struct {
	headers Headers
	body    string
}

func buildStream(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("--" + testBoundary + "\r\n")
		if i%2 == 0 {
			body := fmt.Sprintf("hello %d", i)
			b.WriteString(fmt.Sprintf("content-length: %d\r\n", len(body)))
			b.WriteString("\r\n")
			b.WriteString(body)
			b.WriteString("\r\n")
		} else {
			b.WriteString("\r\n")
			b.WriteString(fmt.Sprintf("hello %d", i))
			b.WriteString("\r\n")
		}
	}
	b.WriteString("--" + testBoundary + "--\r\n")
	return b.String()
}

func collect(t *testing.T, feed func(r *Reader)) []collected {
	var parts []collected
	r := New(testBoundary)
	r.SetHandler(HandlerFunc(func(headers Headers, part []byte) {
		parts = append(parts, collected{headers: headers, body: string(part)})
	}))
	feed(r)
	r.CloseStream()
	return parts
}

// S4 from spec.md §8.
func TestS4MultipartParsingWholeStream(t *testing.T) {
	stream := buildStream(10)
	parts := collect(t, func(r *Reader) {
		r.AddChunk([]byte(stream))
	})
	require.Len(t, parts, 10)
	for i, p := range parts {
		assert.Equal(t, fmt.Sprintf("hello %d", i), p.body)
		if i%2 == 0 {
			assert.Contains(t, p.headers, "content-length")
		}
	}
}

// S4 fed one byte at a time must yield the identical part sequence
// (spec.md §8, property 6: multipart equivalence).
func TestS4MultipartParsingByteByByte(t *testing.T) {
	stream := buildStream(10)
	parts := collect(t, func(r *Reader) {
		r.SetBlockSize(1)
		for i := 0; i < len(stream); i++ {
			r.AddChunk([]byte{stream[i]})
		}
	})
	require.Len(t, parts, 10)
	for i, p := range parts {
		assert.Equal(t, fmt.Sprintf("hello %d", i), p.body)
	}
}

// Multipart equivalence across arbitrary chunk sizes (spec.md §8, property 6).
func TestMultipartEquivalenceAcrossChunkSizes(t *testing.T) {
	stream := buildStream(5)
	whole := collect(t, func(r *Reader) { r.AddChunk([]byte(stream)) })

	chunked := collect(t, func(r *Reader) {
		sizes := []int{3, 7, 1, 50, 1000}
		pos := 0
		for _, sz := range sizes {
			end := pos + sz
			if end > len(stream) {
				end = len(stream)
			}
			r.AddChunk([]byte(stream[pos:end]))
			pos = end
			if pos >= len(stream) {
				break
			}
		}
		if pos < len(stream) {
			r.AddChunk([]byte(stream[pos:]))
		}
	})

	require.Equal(t, len(whole), len(chunked))
	for i := range whole {
		assert.Equal(t, whole[i].body, chunked[i].body)
	}
}

// Multipart ordering (spec.md §8, property 7): parts are emitted in wire order.
func TestPartsEmittedInWireOrder(t *testing.T) {
	stream := buildStream(6)
	parts := collect(t, func(r *Reader) { r.AddChunk([]byte(stream)) })
	for i, p := range parts {
		assert.Equal(t, fmt.Sprintf("hello %d", i), p.body)
	}
}

func TestDoneDiscardsFurtherInput(t *testing.T) {
	stream := buildStream(2)
	var calls int
	r := New(testBoundary)
	r.SetHandler(HandlerFunc(func(Headers, []byte) { calls++ }))
	r.AddChunk([]byte(stream))
	r.CloseStream()
	require.Equal(t, 2, calls)

	r.AddChunk([]byte("garbage after done"))
	r.CloseStream()
	assert.Equal(t, 2, calls)
}

func TestParseMultipartContentType(t *testing.T) {
	subType, boundary, ok := ParseMultipartContentType(`multipart/form-data; boundary="123456789123456789"`)
	require.True(t, ok)
	assert.Equal(t, "form-data", subType)
	assert.Equal(t, testBoundary, boundary)
}
