package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 from spec.md §8.
func TestS1CoucouTemplate(t *testing.T) {
	r, err := Compile("/coucou/{abc}/d/*")
	require.NoError(t, err)

	captures, trailing, ok := r.Match(SplitPath("/coucou/moi/d/e/f/g"))
	require.True(t, ok)
	assert.Equal(t, map[string]string{"abc": "moi"}, captures)
	assert.Equal(t, []string{"e", "f", "g"}, trailing)

	_, _, ok = r.Match(SplitPath("/coucou/moi"))
	assert.False(t, ok)
}

func TestS1BareWildcard(t *testing.T) {
	r, err := Compile("/*")
	require.NoError(t, err)
	captures, trailing, ok := r.Match(SplitPath("/a/b/c"))
	require.True(t, ok)
	assert.Empty(t, captures)
	assert.Equal(t, []string{"a", "b", "c"}, trailing)
}

func TestEmptyTemplateMatchesRootOnly(t *testing.T) {
	r, err := Compile("")
	require.NoError(t, err)
	_, _, ok := r.Match(nil)
	assert.True(t, ok)
	_, _, ok = r.Match(SplitPath("/anything"))
	assert.False(t, ok)
}

func TestCompileRejectsMisplacedTrailing(t *testing.T) {
	_, err := Compile("/a/*/b")
	assert.Error(t, err)
}

func TestCompileRejectsDuplicateCaptureName(t *testing.T) {
	_, err := Compile("/{id}/sub/{id}")
	assert.Error(t, err)
}

// Router round-trip invariant (spec.md §8, property 2).
func TestRoundTripCaptureAnyValue(t *testing.T) {
	r := MustCompile("/studies/{id}/instances/{instanceId}")
	for _, v := range []string{"abc", "123", "a-b_c", "UUID-like-1234"} {
		captures, _, ok := r.Match(SplitPath("/studies/" + v + "/instances/" + v))
		require.True(t, ok)
		assert.Equal(t, v, captures["id"])
		assert.Equal(t, v, captures["instanceId"])
	}
}

// Router determinism invariant (spec.md §8, property 1).
func TestMatchIsDeterministic(t *testing.T) {
	r := MustCompile("/coucou/{abc}/d/*")
	path := SplitPath("/coucou/moi/d/e/f")
	first, firstTrailing, firstOK := r.Match(path)
	for i := 0; i < 10; i++ {
		c, tr, ok := r.Match(path)
		assert.Equal(t, firstOK, ok)
		assert.Equal(t, first, c)
		assert.Equal(t, firstTrailing, tr)
	}
}

// S6 from spec.md §8.
func TestS6MethodNotAllowed(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("/studies", MethodGet, "list-studies"))

	_, _, _, matched, allowed := tbl.Lookup(SplitPath("/studies"), MethodPost)
	assert.True(t, matched)
	assert.Equal(t, []Method{MethodGet}, allowed)
}

func TestLookupNoPathMatch(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("/studies", MethodGet, "list-studies"))
	_, _, _, matched, _ := tbl.Lookup(SplitPath("/series"), MethodGet)
	assert.False(t, matched)
}

func TestLookupReturnsHandler(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("/studies/{id}", MethodGet, "get-study"))
	h, captures, _, matched, _ := tbl.Lookup(SplitPath("/studies/42"), MethodGet)
	require.True(t, matched)
	assert.Equal(t, "get-study", h)
	assert.Equal(t, "42", captures["id"])
}
