package dicomtoolkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacsd/pkg/matcher"
)

func TestFakeToolkitEncodeDecodeRoundTrip(t *testing.T) {
	tk := NewFake()
	dataset := matcher.Dataset{"0010,0020": {Str: "PAT001"}}

	raw, err := tk.Encode(dataset, ExplicitVRLittleEndian)
	require.NoError(t, err)

	got, err := tk.Decode(raw, ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, dataset, got)
}

func TestFakeToolkitDecodeUnknownBytesFails(t *testing.T) {
	tk := NewFake()
	_, err := tk.Decode([]byte("not-ours"), ExplicitVRLittleEndian)
	assert.Error(t, err)
}

func TestFakeToolkitTranscodePreservesDataset(t *testing.T) {
	tk := NewFake()
	dataset := matcher.Dataset{"0008,0060": {Str: "CT"}}
	raw, err := tk.Encode(dataset, ImplicitVRLittleEndian)
	require.NoError(t, err)

	transcoded, err := tk.Transcode(raw, ImplicitVRLittleEndian, ExplicitVRLittleEndian)
	require.NoError(t, err)

	got, err := tk.Decode(transcoded, ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, dataset, got)
}

func TestLookupTagKnownEntry(t *testing.T) {
	tk := NewFake()
	entry, ok := tk.LookupTag("0010,0010")
	require.True(t, ok)
	assert.Equal(t, "PatientName", entry.Name)
	assert.Equal(t, "PN", entry.VR)
}

func TestLookupTagUnknownEntry(t *testing.T) {
	tk := NewFake()
	_, ok := tk.LookupTag("9999,9999")
	assert.False(t, ok)
}
