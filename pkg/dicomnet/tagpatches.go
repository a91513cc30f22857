package dicomnet

import "pacsd/pkg/matcher"

// manufacturer identifies the remote modality's vendor, used only to pick a
// tag patch set for incoming C-FIND identifiers. Grounded on
// original_source/OrthancServer/OrthancFindRequestHandler.cpp's
// ModalityManufacturer enum and its FilterQueryTag switch.
type manufacturer string

const (
	manufacturerGeneric manufacturer = ""
	manufacturerVitrea  manufacturer = "Vitrea"
)

// vitreaPrivateCreator is "PrivateCreator = Vital Images SW 3.4", stripped
// per Denis Nesterov's 2015-11-30 report referenced in the grounding file.
const vitreaPrivateCreator matcher.Tag = "5653,0010"

// filterQueryTag reports whether tag should survive into the C-FIND
// identifier used to build the matcher, mirroring FilterQueryTag's two
// rules: drop every group-length tag (element 0x0000) regardless of
// manufacturer, then apply the manufacturer-specific private-tag patch.
func filterQueryTag(tag matcher.Tag, m manufacturer) bool {
	if isGroupLengthTag(tag) {
		return false
	}
	switch m {
	case manufacturerVitrea:
		if tag == vitreaPrivateCreator {
			return false
		}
	}
	return true
}

func isGroupLengthTag(tag matcher.Tag) bool {
	s := string(tag)
	return len(s) == 9 && s[5:] == "0000"
}

// patchIdentifier drops every tag filterQueryTag rejects, returning a new
// dataset that is safe to hand to matcher.FromQuery.
func patchIdentifier(identifier matcher.Dataset, m manufacturer) matcher.Dataset {
	out := make(matcher.Dataset, len(identifier))
	for tag, v := range identifier {
		if filterQueryTag(tag, m) {
			out[tag] = v
		}
	}
	return out
}
