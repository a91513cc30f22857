// Package index implements the opaque Index collaborator (spec.md §2): the
// patient/study/series/instance hierarchy, main-tag retrieval, and the
// change journal, stored as rows in a pkg/sorted.KeyValue store. Grounded
// on the teacher's own index-over-sorted.KeyValue composition (e.g.
// postgres.newFromConfig building index.New(kv) over a
// sorted/postgres.KeyValue), adapted from Perkeep's blob/claim domain to
// the DICOM resource-hierarchy domain this spec describes.
package index

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"pacsd/pkg/jsonconfig"
	"pacsd/pkg/matcher"
	"pacsd/pkg/pacserr"
	"pacsd/pkg/sorted"
	"pacsd/pkg/sorted/buffer"
)

// Level is a position in the patient/study/series/instance hierarchy.
type Level int

const (
	LevelPatient Level = iota
	LevelStudy
	LevelSeries
	LevelInstance
)

func (l Level) String() string {
	switch l {
	case LevelPatient:
		return "Patient"
	case LevelStudy:
		return "Study"
	case LevelSeries:
		return "Series"
	case LevelInstance:
		return "Instance"
	default:
		return "Level(?)"
	}
}

// key prefixes, pipe-delimited in the style of the teacher's keys.go
// keyType.Key builder, simplified to plain fmt.Sprintf since this index has
// far fewer row shapes than Perkeep's blob-metadata schema.
const (
	prefixResource = "res"  // res|<id> -> resourceRow JSON
	prefixChild    = "chld" // chld|<parentID>|<childID> -> ""
	prefixJournal  = "jrnl" // jrnl|<zero-padded-seq> -> changeEventRow JSON
	prefixJob      = "job"  // job|<id> -> raw persisted job JSON (opaque to Index)
	prefixSeq      = "seq"  // seq -> next journal sequence number, decimal
)

func resourceKey(id string) string { return prefixResource + "|" + id }
func childKey(parentID, childID string) string {
	return prefixChild + "|" + parentID + "|" + childID
}
func childPrefix(parentID string) string { return prefixChild + "|" + parentID + "|" }
func journalKey(seq uint64) string       { return fmt.Sprintf("%s|%020d", prefixJournal, seq) }
func jobKey(id string) string            { return prefixJob + "|" + id }

// resourceRow is the persisted JSON shape of one resource.
type resourceRow struct {
	ID        string          `json:"ID"`
	Level     Level           `json:"Level"`
	ParentID  string          `json:"ParentID,omitempty"`
	MainTags  json.RawMessage `json:"MainTags"`
	Stable    bool            `json:"Stable"`
}

// ChangeEvent mirrors spec.md §3's change event: kind, target, timestamp,
// sequence number.
type ChangeEvent struct {
	Seq        uint64 `json:"Seq"`
	Kind       string `json:"Kind"`
	ResourceID string `json:"ResourceID"`
	Level      Level  `json:"Level"`
	Timestamp  string `json:"Timestamp"`
}

// Index wraps a sorted.KeyValue with the DICOM resource hierarchy.
type Index struct {
	mu sync.Mutex
	kv sorted.KeyValue
}

// New wraps an already-constructed sorted.KeyValue, matching the teacher's
// index.New(kv) composition point.
func New(kv sorted.KeyValue) *Index {
	return &Index{kv: kv}
}

// NewFromConfig builds the underlying sorted.KeyValue from cfg (same
// {"type": "postgres"|"mysql"|"leveldb"|"memory", ...} shape
// sorted.NewKeyValue expects) and wraps it. An optional
// "writeBufferBytes" integer wraps the backing store behind a
// pkg/sorted/buffer.KeyValue, batching writes in memory and flushing
// them once the buffer grows past that size (and on Close): useful
// during a burst of C-STORE ingestion against a remote database
// backend, where round-tripping every single row write is the
// bottleneck. 0 (the default) leaves the backing store unbuffered.
func NewFromConfig(cfg jsonconfig.Obj) (*Index, error) {
	writeBufferBytes := cfg.OptionalInt("writeBufferBytes", 0)
	kv, err := sorted.NewKeyValue(cfg)
	if err != nil {
		return nil, err
	}
	if writeBufferBytes > 0 {
		kv = buffer.New(sorted.NewMemoryKeyValue(), kv, int64(writeBufferBytes))
	}
	return New(kv), nil
}

// Close releases the underlying store.
func (ix *Index) Close() error { return ix.kv.Close() }

// CreateResource inserts id at level under parentID (empty for Patient),
// with the given main tags, if it does not already exist. It returns
// whether the resource was newly created.
func (ix *Index) CreateResource(id string, level Level, parentID string, mainTags map[string]string) (created bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.kv.Get(resourceKey(id)); err == nil {
		return false, nil
	}

	tagsJSON, err := json.Marshal(mainTags)
	if err != nil {
		return false, err
	}
	row := resourceRow{ID: id, Level: level, ParentID: parentID, MainTags: tagsJSON}
	raw, err := json.Marshal(row)
	if err != nil {
		return false, err
	}

	batch := sorted.NewBatchMutation()
	batch.Set(resourceKey(id), string(raw))
	if parentID != "" {
		batch.Set(childKey(parentID, id), "")
	}
	if err := ix.kv.CommitBatch(batch); err != nil {
		return false, err
	}
	return true, nil
}

// GetResource returns id's row and main tags.
func (ix *Index) GetResource(id string) (level Level, parentID string, mainTags map[string]string, err error) {
	raw, err := ix.kv.Get(resourceKey(id))
	if err != nil {
		return 0, "", nil, pacserr.New(pacserr.InexistentItem, "no such resource %q", id)
	}
	var row resourceRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return 0, "", nil, err
	}
	var tags map[string]string
	if err := json.Unmarshal(row.MainTags, &tags); err != nil {
		return 0, "", nil, err
	}
	return row.Level, row.ParentID, tags, nil
}

// Children returns the direct child ids of parentID, in key order.
func (ix *Index) Children(parentID string) ([]string, error) {
	prefix := childPrefix(parentID)
	it := ix.kv.Find(prefix, prefixUpperBound(prefix))
	defer it.Close()

	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(it.Key(), prefix))
	}
	return out, it.Close()
}

func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

// Delete removes id and its resource row; callers are responsible for
// recursing over Children first (mirroring StorageArea cleanup ordering in
// spec.md §4, child-before-parent).
func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.kv.Delete(resourceKey(id))
}

// AppendChangeEvent appends e to the journal with a freshly allocated,
// strictly increasing sequence number (spec.md §3's "sequence number:
// monotonic per server"), overwriting e.Seq.
func (ix *Index) AppendChangeEvent(e ChangeEvent) (ChangeEvent, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	seq, err := ix.nextSeqLocked()
	if err != nil {
		return ChangeEvent{}, err
	}
	e.Seq = seq

	raw, err := json.Marshal(e)
	if err != nil {
		return ChangeEvent{}, err
	}
	if err := ix.kv.Set(journalKey(seq), string(raw)); err != nil {
		return ChangeEvent{}, err
	}
	return e, nil
}

func (ix *Index) nextSeqLocked() (uint64, error) {
	raw, err := ix.kv.Get(prefixSeq)
	var current uint64
	if err == nil {
		fmt.Sscanf(raw, "%d", &current)
	}
	next := current + 1
	if err := ix.kv.Set(prefixSeq, fmt.Sprintf("%d", next)); err != nil {
		return 0, err
	}
	return next, nil
}

// ChangesSince returns every change event with Seq > afterSeq, in
// Index-sequence order (spec.md §4: "change events from the Index are
// delivered to listeners in Index-sequence order").
func (ix *Index) ChangesSince(afterSeq uint64) ([]ChangeEvent, error) {
	it := ix.kv.Find(journalKey(afterSeq+1), prefixJournal+"~")
	defer it.Close()

	var out []ChangeEvent
	for it.Next() {
		var e ChangeEvent
		if err := json.Unmarshal([]byte(it.Value()), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Close()
}

// SaveJob persists raw (a job's whole-queue JSON blob, opaque to Index) for
// restart, per spec.md §6's "jobs are serialized as JSON blobs in the
// Index".
func (ix *Index) SaveJob(id string, raw json.RawMessage) error {
	return ix.kv.Set(jobKey(id), string(raw))
}

// DeleteJob removes a persisted job blob.
func (ix *Index) DeleteJob(id string) error {
	return ix.kv.Delete(jobKey(id))
}

// LoadJobs returns every persisted job blob, keyed by id, for
// (*jobs.Engine).Unserialize to consume at startup.
func (ix *Index) LoadJobs() (map[string]json.RawMessage, error) {
	it := ix.kv.Find(prefixJob+"|", prefixJob+"~")
	defer it.Close()

	out := map[string]json.RawMessage{}
	prefix := prefixJob + "|"
	for it.Next() {
		id := strings.TrimPrefix(it.Key(), prefix)
		out[id] = json.RawMessage(append([]byte(nil), it.Value()...))
	}
	return out, it.Close()
}

// Apply runs m against every instance-level resource in the store,
// invoking visit for each match. Grounded on spec.md §4.7's "Runs the Index's Apply with
// the lookup and an inline visitor."
func (ix *Index) Apply(m *matcher.Matcher, datasetOf func(id string) (matcher.Dataset, error), visit func(id string, dataset matcher.Dataset) error) error {
	ids, err := ix.allInstances()
	if err != nil {
		return err
	}
	for _, id := range ids {
		dataset, err := datasetOf(id)
		if err != nil {
			return err
		}
		if m.Match(dataset) {
			if err := visit(id, dataset); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ix *Index) allInstances() ([]string, error) {
	return ix.ResourcesAtLevel(LevelInstance)
}

// ResourcesAtLevel returns every resource id stored at level, in key order.
// Used by C-FIND (pkg/dicomnet) to enumerate the candidate set for a query
// issued at an arbitrary hierarchy level, since Apply is instance-only.
func (ix *Index) ResourcesAtLevel(level Level) ([]string, error) {
	it := ix.kv.Find(prefixResource+"|", prefixResource+"~")
	defer it.Close()

	var out []string
	prefix := prefixResource + "|"
	for it.Next() {
		var row resourceRow
		if err := json.Unmarshal([]byte(it.Value()), &row); err != nil {
			return nil, err
		}
		if row.Level == level {
			out = append(out, strings.TrimPrefix(it.Key(), prefix))
		}
	}
	return out, it.Close()
}
