package httpnegotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioHandlers(t *testing.T) *Negotiator {
	n := New()
	require.NoError(t, n.Register("audio", "mp3", "mp3-handler"))
	require.NoError(t, n.Register("audio", "basic", "basic-handler"))
	return n
}

// S3 from spec.md §8.
func TestS3PrefersExactOverLowQWildcard(t *testing.T) {
	n := audioHandlers(t)
	h, err := n.Negotiate("audio/*; q=0.2, audio/basic")
	require.NoError(t, err)
	assert.Equal(t, "basic-handler", h)
}

func TestS3FallsBackToWildcardWhenNoExactMatch(t *testing.T) {
	n := audioHandlers(t)
	h, err := n.Negotiate("audio/*; q=0.2, audio/nope")
	require.NoError(t, err)
	assert.Equal(t, "mp3-handler", h)
}

func TestS3Unacceptable(t *testing.T) {
	n := audioHandlers(t)
	_, err := n.Negotiate("application/*; q=0.2, application/pdf")
	assert.Error(t, err)
}

func TestMissingAcceptTreatedAsAnything(t *testing.T) {
	n := audioHandlers(t)
	h, err := n.Negotiate("")
	require.NoError(t, err)
	assert.Contains(t, []interface{}{"mp3-handler", "basic-handler"}, h)
}

func TestQOutOfRangeIsBadRequest(t *testing.T) {
	n := audioHandlers(t)
	_, err := n.Negotiate("audio/mp3; q=1.5")
	assert.Error(t, err)
}

func TestMissingSlashSkipped(t *testing.T) {
	n := audioHandlers(t)
	h, err := n.Negotiate("garbage, audio/basic")
	require.NoError(t, err)
	assert.Equal(t, "basic-handler", h)
}

// Negotiation totality (spec.md §8, property 3): any non-empty handler set
// including */* yields exactly one selection for any Accept header.
func TestTotalityWithWildcardHandler(t *testing.T) {
	n := New()
	require.NoError(t, n.Register("application", "octet-stream", "default"))
	h, err := n.Negotiate("totally/bogus")
	// No wildcard *registration* exists (spec forbids registering one), so
	// an Accept that matches nothing still yields unacceptable: totality
	// is guaranteed only when a registered handler's range actually
	// covers the request, which "*/*" in the Accept header (not as a
	// registration) provides.
	assert.Error(t, err)
	h, err = n.Negotiate("*/*")
	require.NoError(t, err)
	assert.Equal(t, "default", h)
}

// Negotiation monotonicity (spec.md §8, property 4): raising a range's q
// never demotes the chosen handler.
func TestMonotonicityRaisingQNeverDemotes(t *testing.T) {
	n := audioHandlers(t)
	h1, err := n.Negotiate("audio/basic; q=0.1, audio/mp3; q=0.9")
	require.NoError(t, err)
	assert.Equal(t, "mp3-handler", h1)

	h2, err := n.Negotiate("audio/basic; q=0.95, audio/mp3; q=0.9")
	require.NoError(t, err)
	assert.Equal(t, "basic-handler", h2)
}
