package jobs

import (
	"container/heap"
	"encoding/json"

	"pacsd/pkg/logging"
)

// Serialize returns the whole queue's persisted JSON form (spec.md §4.10,
// §6): one persistedRecord per job still known to the engine, regardless
// of status, keyed by id.
func (e *Engine) Serialize() (map[string]json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := map[string]json.RawMessage{}
	for id, rec := range e.byID {
		content, err := json.Marshal(rec.Job.Content())
		if err != nil {
			return nil, err
		}
		pr := persistedRecord{
			Type:         rec.TypeTag,
			Content:      content,
			State:        rec.Status.String(),
			Priority:     rec.Priority,
			Progress:     rec.Progress,
			CreationTime: rec.CreationTime,
			SubOpsDone:   rec.SubOpsDone,
			SubOpsTotal:  rec.SubOpsTotal,
			RetryCount:   rec.RetryCount,
		}
		raw, err := json.Marshal(pr)
		if err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return out, nil
}

// Unserialize rebuilds the queue from blobs previously produced by
// Serialize. Jobs whose type tag has no registered Unserializer are
// skipped with a warning, per spec.md §4.10. Only jobs that had not
// reached a terminal state are re-enqueued; terminal jobs are restored as
// inert bookkeeping entries (visible to GetState, not runnable again).
func (e *Engine) Unserialize(blobs map[string]json.RawMessage) error {
	for id, raw := range blobs {
		var pr persistedRecord
		if err := json.Unmarshal(raw, &pr); err != nil {
			return err
		}

		registryMu.RLock()
		unserialize, ok := registry[pr.Type]
		registryMu.RUnlock()
		if !ok {
			logging.Warnf("jobs: no unserializer registered for type %q (job %s), skipping", pr.Type, id)
			continue
		}

		job, err := unserialize(pr.Content)
		if err != nil {
			logging.Warnf("jobs: failed to unserialize job %s of type %q: %v", id, pr.Type, err)
			continue
		}

		status := statusFromString(pr.State)

		e.mu.Lock()
		e.nextSubmit++
		rec := &Record{
			ID:           id,
			TypeTag:      pr.Type,
			Job:          job,
			Priority:     pr.Priority,
			Status:       status,
			Progress:     pr.Progress,
			CreationTime: pr.CreationTime,
			SubOpsDone:   pr.SubOpsDone,
			SubOpsTotal:  pr.SubOpsTotal,
			RetryCount:   pr.RetryCount,
			submission:   e.nextSubmit,
		}
		e.byID[id] = rec
		if status == StatusPending || status == StatusRunning {
			rec.Status = StatusPending
			heap.Push(&e.queue, rec)
		}
		e.mu.Unlock()
	}
	return nil
}

func statusFromString(s string) Status {
	for _, st := range []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailure, StatusPaused, StatusCancelled} {
		if st.String() == s {
			return st
		}
	}
	return StatusPending
}
