package scripthost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopHostAllowsEverything(t *testing.T) {
	var h Host = NoopHost{}

	decision, err := h.IncomingHTTPRequestFilter("GET", "/studies", nil)
	require.NoError(t, err)
	assert.Equal(t, Allow, decision)

	find, err := h.IncomingFindRequestFilter("Study", map[string]string{"0010,0020": "PAT001"})
	require.NoError(t, err)
	assert.True(t, find.Allowed)
	assert.Nil(t, find.RewrittenQuery)

	accepted, err := h.ReceivedInstanceFilter("1.2.3", map[string]string{})
	require.NoError(t, err)
	assert.True(t, accepted)
}
