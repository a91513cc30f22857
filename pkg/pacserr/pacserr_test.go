package pacserr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{UnknownResource, http.StatusNotFound},
		{ReadOnly, http.StatusForbidden},
		{BadFileFormat, http.StatusBadRequest},
		{InternalError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		require.Error(t, err)
		assert.Equal(t, c.want, HTTPStatus(err))
	}
}

func TestKindOfRoundTrip(t *testing.T) {
	err := New(UnknownResource, "no such study %s", "abc")
	assert.Equal(t, UnknownResource, KindOf(err))
	assert.Equal(t, "UnknownResource", Name(KindOf(err)))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := New(BadRequest, "malformed")
	wrapped := Wrap(Timeout, cause)
	require.Error(t, wrapped)
	assert.Equal(t, Timeout, KindOf(wrapped))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(Timeout, nil))
}
