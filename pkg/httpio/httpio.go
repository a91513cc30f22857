// Package httpio implements the HTTP output sink (spec.md C3): a thin
// wrapper over http.ResponseWriter that enforces "exactly one status line
// per request", buffers the first two multipart items to decide between a
// single write and a chunked stream, and applies content-encoding
// negotiated out of Accept-Encoding.
package httpio

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pacsd/pkg/pacserr"
)

// Encoding is the content-encoding chosen for a response body.
type Encoding int

const (
	EncodingIdentity Encoding = iota
	EncodingGzip
	EncodingDeflate
)

// NegotiateEncoding parses an Accept-Encoding header and picks gzip over
// deflate when both are offered, per spec.md §4.3. enabled gates whether
// compression is considered at all (a global server switch).
func NegotiateEncoding(acceptEncoding string, enabled bool) Encoding {
	if !enabled {
		return EncodingIdentity
	}
	offered := map[string]bool{}
	for _, tok := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(tok, ";", 2)[0])
		offered[strings.ToLower(name)] = true
	}
	switch {
	case offered["gzip"]:
		return EncodingGzip
	case offered["deflate"]:
		return EncodingDeflate
	default:
		return EncodingIdentity
	}
}

func (e Encoding) headerValue() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingDeflate:
		return "deflate"
	default:
		return ""
	}
}

// multipartItem is one buffered item of a multipart answer awaiting the
// ≤2-vs-≥3 decision.
type multipartItem struct {
	bytes   []byte
	headers map[string]string
}

// multipartMode tracks which strategy StartMultipart settled into.
type multipartMode int

const (
	multipartBuffering multipartMode = iota // fewer than 3 items seen so far
	multipartChunked                        // 3rd item arrived: switched to chunked
)

// Sink is the HTTP output sink for a single request. The zero value is not
// usable; use New.
type Sink struct {
	w        http.ResponseWriter
	encoding Encoding

	statusSent bool

	multipartActive   bool
	multipartMode     multipartMode
	multipartSub      string
	multipartCT       string
	multipartBoundary string
	buffered          []multipartItem
	bodyWriter        io.Writer
	closer            io.Closer
}

// New returns a Sink wrapping w, with encoding already negotiated (pass
// EncodingIdentity to disable compression for this response).
func New(w http.ResponseWriter, encoding Encoding) *Sink {
	return &Sink{w: w, encoding: encoding}
}

// Answer sends body as a single, fully-buffered 200 OK response with the
// given MIME type. It is exactly-one-of the C3 contract's terminal calls.
func (s *Sink) Answer(body []byte, mime string) error {
	s.w.Header().Set("Content-Type", mime)
	if err := s.beginStatus(http.StatusOK); err != nil {
		return err
	}
	return s.writeCompressed(body)
}

// SendStatus emits code with an optional body (nil for none).
func (s *Sink) SendStatus(code int, body []byte) error {
	if err := s.beginStatus(code); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	return s.writeCompressed(body)
}

// Redirect emits a 302 Found to location.
func (s *Sink) Redirect(location string) error {
	s.w.Header().Set("Location", location)
	return s.beginStatus(http.StatusFound)
}

// SendUnauthorized emits a 401 with a WWW-Authenticate challenge for realm.
func (s *Sink) SendUnauthorized(realm string) error {
	s.w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	return s.beginStatus(http.StatusUnauthorized)
}

// SendMethodNotAllowed emits a 405 with the Allow header listing allowed.
func (s *Sink) SendMethodNotAllowed(allowed []string) error {
	s.w.Header().Set("Allow", strings.Join(allowed, ", "))
	return s.beginStatus(http.StatusMethodNotAllowed)
}

// StartMultipart begins a multipart/subtype answer. contentType is the
// per-part Content-Type value applied when a part doesn't declare its own.
func (s *Sink) StartMultipart(subtype, contentType, boundary string) error {
	if s.statusSent {
		return pacserr.New(pacserr.BadSequenceOfCalls, "multipart answer started after a status line was already sent")
	}
	s.multipartActive = true
	s.multipartSub = subtype
	s.multipartCT = contentType
	s.multipartBoundary = boundary
	return nil
}

// SendMultipartItem adds one part. The first two items are buffered; the
// third forces a switch to chunked transfer-encoding (spec.md §4.3).
func (s *Sink) SendMultipartItem(body []byte, headers map[string]string) error {
	if !s.multipartActive {
		return pacserr.New(pacserr.BadSequenceOfCalls, "SendMultipartItem called without StartMultipart")
	}
	item := multipartItem{bytes: body, headers: headers}

	if s.multipartMode == multipartBuffering {
		s.buffered = append(s.buffered, item)
		if len(s.buffered) < 3 {
			return nil
		}
		// Third item arrived: switch to chunked and flush everything
		// buffered so far, then this item, as parts.
		if err := s.beginChunkedMultipart(); err != nil {
			return err
		}
		for _, it := range s.buffered {
			if err := s.writeMultipartPart(it); err != nil {
				return err
			}
		}
		s.buffered = nil
		return nil
	}

	return s.writeMultipartPart(item)
}

// CloseMultipart finalizes the multipart answer: if 2 or fewer items were
// ever sent, the whole thing is emitted now as one non-chunked write;
// otherwise the closing boundary is written to the already-open stream.
func (s *Sink) CloseMultipart() error {
	if !s.multipartActive {
		return pacserr.New(pacserr.BadSequenceOfCalls, "CloseMultipart called without StartMultipart")
	}
	defer func() { s.multipartActive = false }()

	if s.multipartMode == multipartBuffering {
		var buf strings.Builder
		for _, it := range s.buffered {
			writeMultipartPartTo(&buf, s.multipartBoundary, s.multipartCT, it)
		}
		buf.WriteString("--" + s.multipartBoundary + "--\r\n")
		s.w.Header().Set("Content-Type", fmt.Sprintf("multipart/%s; boundary=%s", s.multipartSub, s.multipartBoundary))
		if err := s.beginStatus(http.StatusOK); err != nil {
			return err
		}
		return s.writeCompressed([]byte(buf.String()))
	}

	_, err := io.WriteString(s.bodyWriter, "--"+s.multipartBoundary+"--\r\n")
	if err != nil {
		return err
	}
	return s.closeCompression()
}

func (s *Sink) beginChunkedMultipart() error {
	s.multipartMode = multipartChunked
	s.w.Header().Set("Content-Type", fmt.Sprintf("multipart/%s; boundary=%s", s.multipartSub, s.multipartBoundary))
	s.w.Header().Set("Transfer-Encoding", "chunked")
	if err := s.beginStatus(http.StatusOK); err != nil {
		return err
	}
	return s.openCompression()
}

func (s *Sink) writeMultipartPart(it multipartItem) error {
	var buf strings.Builder
	writeMultipartPartTo(&buf, s.multipartBoundary, s.multipartCT, it)
	_, err := io.WriteString(s.bodyWriter, buf.String())
	return err
}

func writeMultipartPartTo(buf *strings.Builder, boundary, defaultContentType string, it multipartItem) {
	buf.WriteString("--" + boundary + "\r\n")
	ct, hasCT := it.headers["content-type"]
	if !hasCT && defaultContentType != "" {
		ct = defaultContentType
		hasCT = true
	}
	if hasCT {
		buf.WriteString("content-type: " + ct + "\r\n")
	}
	for k, v := range it.headers {
		if k == "content-type" {
			continue
		}
		buf.WriteString(k + ": " + v + "\r\n")
	}
	fmt.Fprintf(buf, "content-length: %d\r\n\r\n", len(it.bytes))
	buf.Write(it.bytes)
	buf.WriteString("\r\n")
}

// beginStatus enforces the one-status-line invariant and writes the header.
func (s *Sink) beginStatus(code int) error {
	if s.statusSent {
		return pacserr.New(pacserr.BadSequenceOfCalls, "a status line was already sent for this request")
	}
	s.statusSent = true
	if enc := s.encoding.headerValue(); enc != "" {
		s.w.Header().Set("Content-Encoding", enc)
	}
	s.w.WriteHeader(code)
	return nil
}

func (s *Sink) writeCompressed(body []byte) error {
	w, closer := s.wrapEncoding(s.w)
	if _, err := w.Write(body); err != nil {
		return err
	}
	if closer != nil {
		return closer.Close()
	}
	return nil
}

func (s *Sink) openCompression() error {
	s.bodyWriter, s.closer = s.wrapEncoding(s.w)
	return nil
}

func (s *Sink) closeCompression() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Sink) wrapEncoding(w io.Writer) (io.Writer, io.Closer) {
	switch s.encoding {
	case EncodingGzip:
		gz := gzip.NewWriter(w)
		return gz, gz
	case EncodingDeflate:
		fw, _ := flate.NewWriter(w, flate.DefaultCompression)
		return fw, fw
	default:
		return w, nil
	}
}
