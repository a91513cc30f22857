package dicomnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacsd/pkg/dicomtoolkit"
	"pacsd/pkg/eventbus"
	"pacsd/pkg/index"
	"pacsd/pkg/matcher"
	"pacsd/pkg/sorted"
	"pacsd/pkg/storagearea"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	ix := index.New(sorted.NewMemoryKeyValue())
	area, err := storagearea.New(t.TempDir())
	require.NoError(t, err)
	d := New("PACSD", ix, area, dicomtoolkit.NewFake())
	d.Bus = eventbus.New()
	return d
}

func sampleInstance(patientID, studyUID, seriesUID, sopInstanceUID, sopClassUID, modality string) matcher.Dataset {
	return matcher.Dataset{
		tagPatientID:         {Str: patientID},
		tagStudyInstanceUID:  {Str: studyUID},
		tagSeriesInstanceUID: {Str: seriesUID},
		tagSOPInstanceUID:    {Str: sopInstanceUID},
		tagSOPClassUID:       {Str: sopClassUID},
		tagModality:          {Str: modality},
	}
}

func TestHandleCEchoAlwaysSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, StatusSuccess, d.handleCEcho())
}

func TestHandleCStoreFilesInstanceAndAncestry(t *testing.T) {
	d := newTestDispatcher(t)
	ds := sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP1", "1.2.840.10008.5.1.4.1.1.2", "CT")

	status := d.handleCStore("1.2.840.10008.5.1.4.1.1.2", "SOP1", ds)
	assert.Equal(t, StatusSuccess, status)

	level, parent, tags, err := d.Index.GetResource("SOP1")
	require.NoError(t, err)
	assert.Equal(t, index.LevelInstance, level)
	assert.Equal(t, "SERIES1", parent)
	assert.NotEmpty(t, tags["StorageID"])

	_, _, _, err = d.Index.GetResource("STUDY1")
	require.NoError(t, err)
	_, _, _, err = d.Index.GetResource("PAT1")
	require.NoError(t, err)
}

func TestHandleCStoreDuplicateIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)
	ds := sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP1", "1.2.840.10008.5.1.4.1.1.2", "CT")

	require.Equal(t, StatusSuccess, d.handleCStore("1.2.840.10008.5.1.4.1.1.2", "SOP1", ds))
	assert.Equal(t, StatusSuccess, d.handleCStore("1.2.840.10008.5.1.4.1.1.2", "SOP1", ds))
}

func TestHandleCStoreMissingIdentifiersFails(t *testing.T) {
	d := newTestDispatcher(t)
	ds := matcher.Dataset{tagSOPInstanceUID: {Str: "SOP1"}}
	assert.Equal(t, StatusUnableToProcess, d.handleCStore("1.2.840.10008.5.1.4.1.1.2", "SOP1", ds))
}

func TestHandleCFindStudyLevelReturnsCardinality(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, StatusSuccess, d.handleCStore("c", "SOP1", sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP1", "CT-SOP", "CT")))
	require.Equal(t, StatusSuccess, d.handleCStore("c", "SOP2", sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP2", "CT-SOP", "CT")))

	query := matcher.Dataset{tagStudyInstanceUID: {Str: ""}}
	ch := d.handleCFind("STUDY", query)

	var results []CFindResult
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "2", results[0].Dataset["0020,1208"].Str)
	assert.Equal(t, "CT", results[0].Dataset["0008,0061"].Str)
}

func TestHandleCFindUnsupportedLevelReportsError(t *testing.T) {
	d := newTestDispatcher(t)
	ch := d.handleCFind("BOGUS", matcher.Dataset{})
	result := <-ch
	assert.Error(t, result.Err)
}

func TestHandleCMoveStreamsMatchingInstancesWithDecreasingRemaining(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, StatusSuccess, d.handleCStore("c", "SOP1", sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP1", "CT-SOP", "CT")))
	require.Equal(t, StatusSuccess, d.handleCStore("c", "SOP2", sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP2", "CT-SOP", "CT")))

	ch := d.handleCMove("STUDY", matcher.Dataset{tagStudyInstanceUID: {Str: "STUDY1"}})

	var results []CMoveResult
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Remaining)
	assert.Equal(t, 0, results[1].Remaining)
}

func TestHandleNActionUnknownInstanceFails(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, StatusUnableToProcess, d.HandleNAction("1.2.3", []string{"nonexistent"}))
}

func TestHandleNActionKnownInstanceSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, StatusSuccess, d.handleCStore("c", "SOP1", sampleInstance("PAT1", "STUDY1", "SERIES1", "SOP1", "CT-SOP", "CT")))
	assert.Equal(t, StatusSuccess, d.HandleNAction("1.2.3", []string{"SOP1"}))
}

func TestFilterQueryTagDropsGroupLengthTags(t *testing.T) {
	assert.False(t, filterQueryTag("0008,0000", manufacturerGeneric))
	assert.True(t, filterQueryTag("0008,0018", manufacturerGeneric))
}

func TestFilterQueryTagDropsVitreaPrivateCreator(t *testing.T) {
	assert.False(t, filterQueryTag(vitreaPrivateCreator, manufacturerVitrea))
	assert.True(t, filterQueryTag(vitreaPrivateCreator, manufacturerGeneric))
}
