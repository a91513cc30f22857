package storagearea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArea(t *testing.T) *DiskArea {
	da, err := New(t.TempDir())
	require.NoError(t, err)
	return da
}

func TestCreateReadRoundTrip(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("dicom-bytes"), "application/dicom"))

	content, err := da.Read("inst1")
	require.NoError(t, err)
	assert.Equal(t, []byte("dicom-bytes"), content)

	mime, err := da.MimeType("inst1")
	require.NoError(t, err)
	assert.Equal(t, "application/dicom", mime)
}

func TestCreateDuplicateFails(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("a"), "application/dicom"))
	err := da.Create("inst1", []byte("b"), "application/dicom")
	assert.Error(t, err)
}

func TestReadMissingFails(t *testing.T) {
	da := newTestArea(t)
	_, err := da.Read("nope")
	assert.Error(t, err)
}

func TestReadRangeReturnsSlice(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("0123456789"), "application/dicom"))

	chunk, err := da.ReadRange("inst1", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), chunk)
}

func TestReadRangePastEndTruncates(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("0123"), "application/dicom"))

	chunk, err := da.ReadRange("inst1", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("23"), chunk)
}

func TestRemoveIsIdempotent(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("a"), "application/dicom"))
	require.NoError(t, da.Remove("inst1"))
	require.NoError(t, da.Remove("inst1"))

	_, err := da.Read("inst1")
	assert.Error(t, err)
}

func TestDistinctIDsDoNotCollide(t *testing.T) {
	da := newTestArea(t)
	require.NoError(t, da.Create("inst1", []byte("a"), "application/dicom"))
	require.NoError(t, da.Create("inst2", []byte("b"), "application/dicom"))

	c1, err := da.Read("inst1")
	require.NoError(t, err)
	c2, err := da.Read("inst2")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), c1)
	assert.Equal(t, []byte("b"), c2)
}
