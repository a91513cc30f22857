package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniversalConstraintMatchesAnything(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0020": {Str: ""}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0010,0020": {Str: "ANY-ID"}}))
	assert.True(t, m.Match(Dataset{}))
}

func TestExactConstraintRequiresMatch(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0020": {Str: "PAT001"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0010,0020": {Str: "PAT001"}}))
	assert.False(t, m.Match(Dataset{"0010,0020": {Str: "PAT002"}}))
	assert.False(t, m.Match(Dataset{}))
}

func TestPersonNameTagIsCaseInsensitiveByDefault(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0010": {Str: "Doe^John"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0010,0010": {Str: "DOE^JOHN"}}))
}

func TestCaseSensitivePNOverride(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0010": {Str: "Doe^John"}}, true)
	require.NoError(t, err)
	assert.False(t, m.Match(Dataset{"0010,0010": {Str: "DOE^JOHN"}}))
}

func TestWildcardConstraint(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0010": {Str: "DOE^*"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0010,0010": {Str: "DOE^JOHN"}}))
	assert.False(t, m.Match(Dataset{"0010,0010": {Str: "SMITH^JOHN"}}))
}

func TestRangeConstraint(t *testing.T) {
	m, err := FromQuery(Dataset{"0008,0020": {Str: "20200101-20201231"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0008,0020": {Str: "20200615"}}))
	assert.False(t, m.Match(Dataset{"0008,0020": {Str: "20210101"}}))
}

func TestOpenEndedRangeConstraint(t *testing.T) {
	m, err := FromQuery(Dataset{"0008,0020": {Str: "20200101-"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0008,0020": {Str: "20991231"}}))
	assert.False(t, m.Match(Dataset{"0008,0020": {Str: "20100101"}}))
}

func TestMultiValueConstraint(t *testing.T) {
	m, err := FromQuery(Dataset{"0008,0060": {Str: "CT\\MR"}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0008,0060": {Str: "CT"}}))
	assert.True(t, m.Match(Dataset{"0008,0060": {Str: "MR"}}))
	assert.False(t, m.Match(Dataset{"0008,0060": {Str: "US"}}))
}

func TestGroupLengthAndCharacterSetTagsAreIgnored(t *testing.T) {
	m, err := FromQuery(Dataset{
		"0008,0000": {Str: "100"},
		"0008,0005": {Str: "ISO_IR 100"},
	}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{}))
}

func TestUniversalSequenceMatchesAnySequencePresence(t *testing.T) {
	m, err := FromQuery(Dataset{"0008,1110": {IsSequence: true, Sequence: nil}}, false)
	require.NoError(t, err)
	assert.True(t, m.Match(Dataset{"0008,1110": {IsSequence: true, Sequence: Dataset{"0008,1150": {Str: "1.2.3"}}}}))
}

func TestNestedSequenceMatcher(t *testing.T) {
	query := Dataset{
		"0008,1110": {IsSequence: true, Sequence: Dataset{"0008,1150": {Str: "1.2.840.10008.5.1.4.1.1.2"}}},
	}
	m, err := FromQuery(query, false)
	require.NoError(t, err)

	matching := Dataset{"0008,1110": {IsSequence: true, Sequence: Dataset{"0008,1150": {Str: "1.2.840.10008.5.1.4.1.1.2"}}}}
	nonMatching := Dataset{"0008,1110": {IsSequence: true, Sequence: Dataset{"0008,1150": {Str: "1.2.840.10008.5.1.4.1.1.4"}}}}

	assert.True(t, m.Match(matching))
	assert.False(t, m.Match(nonMatching))
}

func TestExtractProjectsOnlyQueriedTags(t *testing.T) {
	m, err := FromQuery(Dataset{"0010,0010": {Str: ""}, "0010,0020": {Str: ""}}, false)
	require.NoError(t, err)

	dicom := Dataset{
		"0010,0010": {Str: "Doe^John"},
		"0010,0020": {Str: "PAT001"},
		"0008,0060": {Str: "CT"}, // not in the query, must be dropped
	}
	projected := m.Extract(dicom)
	assert.Equal(t, Dataset{
		"0010,0010": {Str: "Doe^John"},
		"0010,0020": {Str: "PAT001"},
	}, projected)
}

func TestFormatRendersConstraintsAndSequences(t *testing.T) {
	m, err := FromQuery(Dataset{
		"0010,0020": {Str: "PAT001"},
		"0008,1110": {IsSequence: true, Sequence: nil},
	}, false)
	require.NoError(t, err)
	out := m.Format("")
	assert.Contains(t, out, "0010,0020 == PAT001")
	assert.Contains(t, out, "0008,1110 *")
}
