package httpio

import (
	"compress/gzip"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerSendsOneStatusLine(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.Answer([]byte("hello"), "text/plain"))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	err := s.SendStatus(404, nil)
	assert.Error(t, err)
}

func TestSendStatusThenRedirectRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.SendStatus(204, nil))
	err := s.Redirect("/elsewhere")
	assert.Error(t, err)
}

func TestSendUnauthorizedSetsChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.SendUnauthorized("Orthanc Secure Area"))
	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, `Basic realm="Orthanc Secure Area"`, rec.Header().Get("WWW-Authenticate"))
}

func TestSendMethodNotAllowedListsAllow(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.SendMethodNotAllowed([]string{"GET", "HEAD"}))
	assert.Equal(t, 405, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestGzipNegotiationPrefersGzipOverDeflate(t *testing.T) {
	assert.Equal(t, EncodingGzip, NegotiateEncoding("gzip, deflate", true))
	assert.Equal(t, EncodingDeflate, NegotiateEncoding("deflate", true))
	assert.Equal(t, EncodingIdentity, NegotiateEncoding("gzip", false))
	assert.Equal(t, EncodingIdentity, NegotiateEncoding("br", true))
}

func TestAnswerAppliesGzipWhenNegotiated(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingGzip)
	require.NoError(t, s.Answer([]byte("hello, world"), "text/plain"))
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(out))
}

// Multipart optimization (spec.md §4.3): ≤2 items emits a single
// non-chunked write.
func TestMultipartTwoItemsIsNonChunked(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.StartMultipart("related", "application/octet-stream", "BOUND"))
	require.NoError(t, s.SendMultipartItem([]byte("one"), map[string]string{}))
	require.NoError(t, s.SendMultipartItem([]byte("two"), map[string]string{}))
	require.NoError(t, s.CloseMultipart())

	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
	assert.Contains(t, rec.Body.String(), "one")
	assert.Contains(t, rec.Body.String(), "two")
	assert.Contains(t, rec.Body.String(), "--BOUND--")
}

// ≥3 items forces chunked transfer-encoding.
func TestMultipartThreeItemsIsChunked(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	require.NoError(t, s.StartMultipart("related", "application/octet-stream", "BOUND"))
	require.NoError(t, s.SendMultipartItem([]byte("one"), map[string]string{}))
	require.NoError(t, s.SendMultipartItem([]byte("two"), map[string]string{}))
	require.NoError(t, s.SendMultipartItem([]byte("three"), map[string]string{}))
	require.NoError(t, s.SendMultipartItem([]byte("four"), map[string]string{}))
	require.NoError(t, s.CloseMultipart())

	assert.Equal(t, "chunked", rec.Header().Get("Transfer-Encoding"))
	body := rec.Body.String()
	assert.Contains(t, body, "one")
	assert.Contains(t, body, "four")
	assert.Contains(t, body, "--BOUND--")
}

func TestSendMultipartItemWithoutStartIsBadSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(rec, EncodingIdentity)
	err := s.SendMultipartItem([]byte("x"), nil)
	assert.Error(t, err)
}
