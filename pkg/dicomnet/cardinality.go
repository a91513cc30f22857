package dicomnet

import (
	"sort"
	"strings"

	"pacsd/pkg/index"
)

// tag keys main tags are indexed under, matching the "GGGG,EEEE" form
// matcher.Tag uses elsewhere in this module.
const (
	tagModality    = "0008,0060"
	tagSOPClassUID = "0008,0016"
)

// studyCardinality is the set of SUPPLEMENTED counters
// OrthancFindRequestHandler.cpp attaches to a STUDY-level C-FIND answer:
// the instance count plus the distinct modalities and SOP classes found
// anywhere under the study.
type studyCardinality struct {
	NumberOfStudyRelatedInstances int
	ModalitiesInStudy             []string
	SOPClassesInStudy             []string
}

// computeStudyCardinality walks studyID's series and their instances via
// ix, accumulating the counters above. Grounded on
// OrthancFindRequestHandler.cpp's recursive lookup of child resources when
// answering a STUDY-level C-FIND with these tags requested.
func computeStudyCardinality(ix *index.Index, studyID string) (studyCardinality, error) {
	var c studyCardinality

	seriesIDs, err := ix.Children(studyID)
	if err != nil {
		return c, err
	}

	modalities := map[string]bool{}
	sopClasses := map[string]bool{}

	for _, seriesID := range seriesIDs {
		_, _, seriesTags, err := ix.GetResource(seriesID)
		if err != nil {
			return c, err
		}
		if m := seriesTags[tagModality]; m != "" {
			modalities[m] = true
		}

		instanceIDs, err := ix.Children(seriesID)
		if err != nil {
			return c, err
		}
		for _, instanceID := range instanceIDs {
			_, _, instanceTags, err := ix.GetResource(instanceID)
			if err != nil {
				return c, err
			}
			c.NumberOfStudyRelatedInstances++
			if sc := instanceTags[tagSOPClassUID]; sc != "" {
				sopClasses[sc] = true
			}
		}
	}

	c.ModalitiesInStudy = sortedKeys(modalities)
	c.SOPClassesInStudy = sortedKeys(sopClasses)
	return c, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// backslashJoin renders a multi-valued DICOM tag per the value-multiplicity
// convention matcher.Value.Str also uses.
func backslashJoin(values []string) string {
	return strings.Join(values, "\\")
}
