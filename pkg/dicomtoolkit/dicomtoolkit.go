// Package dicomtoolkit defines the opaque DICOM toolkit collaborator
// (spec.md §1): dataset parsing/encoding, transfer-syntax transcoding, and
// tag dictionary lookup, kept behind an interface so the core's DICOM PDU
// semantics (pkg/dicomnet) stay independent of which concrete toolkit
// parses bytes on the wire. Grounded on the request-handler shape of
// other_examples/096187f0_yasushi-saito-go-netdicom__serviceprovider.go.go,
// whose callbacks already receive and return parsed DICOM datasets rather
// than raw bytes.
package dicomtoolkit

import "pacsd/pkg/matcher"

// TransferSyntax identifies a DICOM transfer syntax UID.
type TransferSyntax string

const (
	ImplicitVRLittleEndian TransferSyntax = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian TransferSyntax = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    TransferSyntax = "1.2.840.10008.1.2.2"
)

// TagDictionaryEntry describes one DICOM data element in the standard's
// tag dictionary.
type TagDictionaryEntry struct {
	Tag  matcher.Tag
	Name string
	VR   string // value representation, e.g. "PN", "DA", "SQ"
}

// Toolkit is the opaque DICOM-toolkit contract.
type Toolkit interface {
	// Decode parses raw DICOM Part 10 bytes (or an implicit dataset for
	// network transfer) into a matcher.Dataset.
	Decode(raw []byte, syntax TransferSyntax) (matcher.Dataset, error)

	// Encode serializes a dataset back to wire bytes under syntax.
	Encode(dataset matcher.Dataset, syntax TransferSyntax) ([]byte, error)

	// Transcode re-encodes raw from one transfer syntax to another.
	Transcode(raw []byte, from, to TransferSyntax) ([]byte, error)

	// LookupTag returns the dictionary entry for tag, if known.
	LookupTag(tag matcher.Tag) (TagDictionaryEntry, bool)
}

// well-known tags the dictionary always carries, grounded on spec.md §3's
// own references to them (SOP instance/class UID, specific character set).
var builtinDictionary = map[matcher.Tag]TagDictionaryEntry{
	"0008,0018": {Tag: "0008,0018", Name: "SOPInstanceUID", VR: "UI"},
	"0008,0016": {Tag: "0008,0016", Name: "SOPClassUID", VR: "UI"},
	"0008,0005": {Tag: "0008,0005", Name: "SpecificCharacterSet", VR: "CS"},
	"0010,0010": {Tag: "0010,0010", Name: "PatientName", VR: "PN"},
	"0010,0020": {Tag: "0010,0020", Name: "PatientID", VR: "LO"},
	"0020,000D": {Tag: "0020,000D", Name: "StudyInstanceUID", VR: "UI"},
	"0020,000E": {Tag: "0020,000E", Name: "SeriesInstanceUID", VR: "UI"},
	"0008,0060": {Tag: "0008,0060", Name: "Modality", VR: "CS"},
	"0008,0020": {Tag: "0008,0020", Name: "StudyDate", VR: "DA"},
	"0008,1110": {Tag: "0008,1110", Name: "ReferencedStudySequence", VR: "SQ"},
	"0008,1150": {Tag: "0008,1150", Name: "ReferencedSOPClassUID", VR: "UI"},
}

// FakeToolkit is a minimal in-memory Toolkit used by tests: it treats
// "encoded" bytes as an opaque token mapping back to the dataset that
// produced them, rather than implementing any real DICOM wire format.
type FakeToolkit struct {
	encoded map[string]matcher.Dataset
}

// NewFake returns an empty FakeToolkit.
func NewFake() *FakeToolkit {
	return &FakeToolkit{encoded: map[string]matcher.Dataset{}}
}

func (f *FakeToolkit) Encode(dataset matcher.Dataset, syntax TransferSyntax) ([]byte, error) {
	token := fakeToken(len(f.encoded))
	f.encoded[token] = dataset
	return []byte(token), nil
}

func (f *FakeToolkit) Decode(raw []byte, syntax TransferSyntax) (matcher.Dataset, error) {
	dataset, ok := f.encoded[string(raw)]
	if !ok {
		return nil, errNotEncodedByThisToolkit
	}
	return dataset, nil
}

func (f *FakeToolkit) Transcode(raw []byte, from, to TransferSyntax) ([]byte, error) {
	dataset, err := f.Decode(raw, from)
	if err != nil {
		return nil, err
	}
	return f.Encode(dataset, to)
}

func (f *FakeToolkit) LookupTag(tag matcher.Tag) (TagDictionaryEntry, bool) {
	entry, ok := builtinDictionary[tag]
	return entry, ok
}

func fakeToken(n int) string {
	const alphabet = "0123456789abcdef"
	if n == 0 {
		return "tok-0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{alphabet[n%16]}, digits...)
		n /= 16
	}
	return "tok-" + string(digits)
}

var errNotEncodedByThisToolkit = fakeDecodeError("dicomtoolkit: raw bytes were not produced by this FakeToolkit instance")

type fakeDecodeError string

func (e fakeDecodeError) Error() string { return string(e) }
