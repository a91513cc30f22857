// Package multipart implements the multipart stream reader (spec.md C5): an
// incremental parser that feeds on append-only byte chunks and emits
// (headers, part bytes) events as soon as a full part is buffered, without
// ever holding more than one pass's worth of undecided tail in memory.
package multipart

import (
	"bytes"
	"strings"
)

// Headers is a part's header block, lowercased and deduplicated the same way
// spec.md's HTTP request context treats header maps.
type Headers map[string]string

// Handler receives one multipart part as it is parsed out of the stream.
type Handler interface {
	HandlePart(headers Headers, part []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(headers Headers, part []byte)

func (f HandlerFunc) HandlePart(headers Headers, part []byte) { f(headers, part) }

// DefaultBlockSize is how much buffered input accumulates before a parse
// pass runs, when no explicit size is set.
const DefaultBlockSize = 10 << 20 // 10 MiB

type state int

const (
	stateUnusedArea state = iota
	stateContent
	stateDone
)

var crlfcrlf = []byte("\r\n\r\n")

// Reader is a streaming multipart/form-data (or multipart/related) parser.
// The zero value is not usable; use New.
type Reader struct {
	boundary   []byte // "--" + boundary
	handler    Handler
	blockSize  int
	buf        bytes.Buffer
	state      state
	sinceParse int
}

// New returns a Reader for the given boundary string (without the leading
// "--": that is added here, matching the wire encoding).
func New(boundary string) *Reader {
	return &Reader{
		boundary:  []byte("--" + boundary),
		blockSize: DefaultBlockSize,
	}
}

// SetBlockSize overrides how much input is buffered between parse passes.
func (r *Reader) SetBlockSize(size int) { r.blockSize = size }

// GetBlockSize returns the current block size.
func (r *Reader) GetBlockSize() int { return r.blockSize }

// SetHandler installs the part handler. Must be called before AddChunk.
func (r *Reader) SetHandler(handler Handler) { r.handler = handler }

// AddChunk appends chunk to the internal buffer and runs parse passes until
// the buffer stops yielding progress. Chunks may be of any size, including
// one byte at a time: the result is identical to feeding the same bytes in
// a single call (spec.md §8, property 6).
func (r *Reader) AddChunk(chunk []byte) {
	if r.state == stateDone {
		return
	}
	r.buf.Write(chunk)
	r.sinceParse += len(chunk)
	if r.sinceParse >= r.blockSize {
		r.parse()
		r.sinceParse = 0
	}
}

// CloseStream signals end of input and runs a final parse pass over
// whatever remains buffered.
func (r *Reader) CloseStream() {
	if r.state == stateDone {
		return
	}
	r.parse()
}

func (r *Reader) parse() {
	for r.step() {
	}
}

// step runs one transition and reports whether further progress might be
// possible without more input (true = try again immediately).
func (r *Reader) step() bool {
	switch r.state {
	case stateUnusedArea:
		return r.stepUnusedArea()
	case stateContent:
		return r.stepContent()
	default:
		return false
	}
}

func (r *Reader) stepUnusedArea() bool {
	data := r.buf.Bytes()
	idx := bytes.Index(data, r.boundary)
	if idx < 0 {
		// Keep at most (boundary length - 1) trailing bytes: a boundary
		// could still be straddling the next chunk.
		keep := len(r.boundary) - 1
		if keep < 0 {
			keep = 0
		}
		if len(data) > keep {
			r.discard(len(data) - keep)
		}
		return false
	}
	// Drop up to and including the boundary marker itself. Its line CRLF
	// (or, for a header-less part, the CRLF CRLF blank line) is left for
	// the Content state's header-block search to consume as part of the
	// CRLF CRLF pattern.
	r.discard(idx + len(r.boundary))
	r.state = stateContent
	return true
}

func (r *Reader) stepContent() bool {
	data := r.buf.Bytes()

	headerEnd := bytes.Index(data, crlfcrlf)
	if headerEnd < 0 {
		return false
	}
	headerBlock := data[:headerEnd]
	bodyStart := headerEnd + len(crlfcrlf)

	nextBoundary := bytes.Index(data[bodyStart:], r.boundary)
	if nextBoundary < 0 {
		return false
	}
	partEnd := bodyStart + nextBoundary
	after := partEnd + len(r.boundary)

	// The part body is terminated by CRLF immediately before the boundary.
	body := bytes.TrimSuffix(data[bodyStart:partEnd], []byte("\r\n"))
	headers := parseHeaders(headerBlock)
	if r.handler != nil {
		r.handler.HandlePart(headers, append([]byte(nil), body...))
	}
	r.discard(after)

	// A boundary immediately followed by "--" ends the multipart stream.
	// If those two bytes haven't arrived yet, stay in Content: the next
	// header-block search simply won't find one, and CloseStream will
	// leave the remainder unconsumed, which is harmless.
	remaining := r.buf.Bytes()
	if len(remaining) >= 2 && remaining[0] == '-' && remaining[1] == '-' {
		r.discard(2)
		r.state = stateDone
		return false
	}
	return true
}

func (r *Reader) discard(n int) {
	r.buf.Next(n)
}

func parseHeaders(block []byte) Headers {
	headers := Headers{}
	lines := strings.Split(string(block), "\r\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		headers[key] = value
	}
	return headers
}
