// Package dicomnet implements the C8 DICOM dispatcher (spec.md §2/§6):
// C-FIND/C-MOVE/C-GET/C-STORE/C-ECHO request handlers plus an N-ACTION
// storage-commitment stub, with an iterator-driven sub-operation pump for
// C-MOVE/C-GET over pkg/matcher and pkg/index. Grounded directly on
// other_examples/096187f0_yasushi-saito-go-netdicom__serviceprovider.go.go's
// ServiceProviderParams/callback/channel-streaming shape: each DIMSE verb
// is a callback returning a channel of results, closed by the callback
// once exhausted, exactly as that file's CFindCallback/CMoveCallback do.
package dicomnet

import "pacsd/pkg/matcher"

// Status mirrors the small slice of DIMSE status codes this dispatcher
// actually produces; the full DICOM status-code space is the toolkit's
// concern, not the core's.
type Status int

const (
	StatusSuccess Status = iota
	StatusPending
	StatusUnableToProcess
	StatusUnrecognizedOperation
	StatusCancelled
)

// CEchoCallback answers a C-ECHO. When it is nil, Provider logs a warning
// and closes the connection; no status is produced.
type CEchoCallback func() Status

// CStoreCallback persists one instance. sopClassUID/sopInstanceUID are
// pulled from the command, dataset is the decoded payload.
type CStoreCallback func(sopClassUID, sopInstanceUID string, dataset matcher.Dataset) Status

// CFindResult is one streamed C-FIND match, or a terminal error.
type CFindResult struct {
	Dataset matcher.Dataset
	Err     error
}

// CFindCallback returns a channel of matches for query at level
// ("PATIENT"|"STUDY"|"SERIES"|"IMAGE"); the callback closes the channel
// once every match has been sent.
type CFindCallback func(level string, query matcher.Dataset) chan CFindResult

// CMoveResult is one streamed C-MOVE/C-GET sub-operation outcome.
type CMoveResult struct {
	Dataset   matcher.Dataset
	Remaining int
	Err       error
}

// CMoveCallback returns a channel of sub-operation outcomes for query,
// destined for destinationAET (C-MOVE) or back over the requesting
// association (C-GET, destinationAET == "").
type CMoveCallback func(level string, query matcher.Dataset, destinationAET string) chan CMoveResult

// ServiceProviderParams configures a Dispatcher, mirroring
// ServiceProviderParams's shape in the grounding file: a set of optional
// per-verb callbacks plus the AE title and known remote AEs.
type ServiceProviderParams struct {
	AETitle   string
	RemoteAEs map[string]string // AET -> host:port, used by C-MOVE

	CEcho  CEchoCallback
	CFind  CFindCallback
	CMove  CMoveCallback
	CGet   CMoveCallback
	CStore CStoreCallback
}
