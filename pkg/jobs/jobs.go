// Package jobs implements the job engine surface (spec.md C10): a single
// priority queue, a worker pool, and whole-queue persistence through a
// sorted.KeyValue-shaped store, modeled on the teacher's
// perkeep-perkeep/pkg/sorted.KeyValue registry pattern and its
// perkeep-perkeep/pkg/importer background-task shape.
package jobs

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pacsd/pkg/logging"
	"pacsd/pkg/pacserr"
)

// Status is a job's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSuccess
	StatusFailure
	StatusPaused
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusPaused:
		return "Paused"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Status(?)"
	}
}

// StepResult is what a Job's Step method returns on every call.
type StepResult int

const (
	StepContinue StepResult = iota
	StepSuccess
	StepFailure
	StepRetry
)

// Job is the contract every job type implements. TypeTag identifies the
// concrete type for Serialize/Unserialize round-tripping.
type Job interface {
	TypeTag() string
	Step(ctx context.Context) StepResult
	Progress() float64
	Content() interface{} // the public, JSON-serializable view
}

// Unserializer rebuilds a Job from its persisted content. Registered per
// type tag; an unknown tag at Unserialize time is skipped with a warning
// (spec.md §4.10).
type Unserializer func(content json.RawMessage) (Job, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Unserializer{}
)

// RegisterType installs the Unserializer for typeTag, for use by
// (*Registry).Unserialize.
func RegisterType(typeTag string, u Unserializer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeTag] = u
}

// Record is one job's full bookkeeping state, as returned by GetState and
// as persisted by Serialize.
type Record struct {
	ID           string
	TypeTag      string
	Job          Job
	Priority     int
	Status       Status
	Progress     float64
	SubOpsDone   int
	SubOpsTotal  int
	CreationTime time.Time
	RetryCount   int
	submission   uint64 // tie-break order, not persisted
	cancel       bool
}

// persistedRecord is Record's JSON shape (spec.md §6): Type, Content,
// State, Priority, CreationTime, plus counters.
type persistedRecord struct {
	Type         string          `json:"Type"`
	Content      json.RawMessage `json:"Content"`
	State        string          `json:"State"`
	Priority     int             `json:"Priority"`
	Progress     float64         `json:"Progress"`
	CreationTime time.Time       `json:"CreationTime"`
	SubOpsDone   int             `json:"SubOpsDone"`
	SubOpsTotal  int             `json:"SubOpsTotal"`
	RetryCount   int             `json:"RetryCount"`
}

// Observer receives lifecycle notifications, per spec.md §4.10; the engine
// uses these to update the change journal via pkg/eventbus.
type Observer interface {
	SignalJobSubmitted(id string)
	SignalJobSuccess(id string)
	SignalJobFailure(id string)
}

// priorityQueue orders Records by (Priority desc, submission asc) — ties
// broken by submission order (spec.md §8, property 9).
type priorityQueue []*Record

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].submission < q[j].submission
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x interface{}) { *q = append(*q, x.(*Record)) }
func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Engine is the job engine: one priority queue, one worker pool.
type Engine struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       priorityQueue
	byID        map[string]*Record
	nextSubmit  uint64
	observer    Observer
	workerCount int
	retryCfg    RetryConfig

	group    *errgroup.Group
	stopping bool
}

// RetryConfig controls StepRetry backoff (spec.md §4.10).
type RetryConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	MaxCount  int
}

// DefaultRetryConfig returns a 100ms base delay, a 30s cap and 10 retries.
// These differ from serverconfig's JobsConfig defaults (500ms, 60s, 5),
// which are what pacsd passes to NewEngine.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second, MaxCount: 10}
}

// NewEngine returns an Engine with workerCount workers, not yet started.
func NewEngine(workerCount int, observer Observer, retryCfg RetryConfig) *Engine {
	if workerCount <= 0 {
		workerCount = 1
	}
	e := &Engine{
		byID:        map[string]*Record{},
		observer:    observer,
		workerCount: workerCount,
		retryCfg:    retryCfg,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the worker pool as an errgroup.Group, grounded on the
// teacher's worker-pool shape but using golang.org/x/sync/errgroup so a
// worker's terminal error (were one ever to bubble out of runWorker)
// cancels its sibling workers' shared context instead of leaking a
// goroutine; today runWorker never returns a non-nil error, so Wait only
// ever observes the ctx cancellation Stop/ctx.Done triggers.
func (e *Engine) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	e.group = g
	for i := 0; i < e.workerCount; i++ {
		g.Go(func() error {
			e.runWorker(gctx)
			return nil
		})
	}
}

// Stop signals every worker to exit after its current step and waits for
// them to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopping = true
	e.cond.Broadcast()
	e.mu.Unlock()
	if e.group != nil {
		_ = e.group.Wait()
	}
}

func newID(seed uint64) string {
	// A process-local id built from the current time and seed. Submit
	// takes its id from the caller, and nothing in the module calls
	// newID; no job id anywhere is minted with uuid.
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + itoa(seed)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Submit enqueues job at priority and returns its id immediately.
func (e *Engine) Submit(id string, job Job, priority int) string {
	e.mu.Lock()
	e.nextSubmit++
	rec := &Record{
		ID:           id,
		TypeTag:      job.TypeTag(),
		Job:          job,
		Priority:     priority,
		Status:       StatusPending,
		CreationTime: time.Now().UTC(),
		submission:   e.nextSubmit,
	}
	e.byID[id] = rec
	heap.Push(&e.queue, rec)
	e.cond.Signal()
	e.mu.Unlock()

	if e.observer != nil {
		e.observer.SignalJobSubmitted(id)
	}
	return id
}

// SubmitAndWait submits job and blocks until it reaches a terminal state,
// returning its public Content view.
func (e *Engine) SubmitAndWait(ctx context.Context, id string, job Job, priority int) (interface{}, error) {
	e.Submit(id, job, priority)
	for {
		rec, err := e.GetState(id)
		if err != nil {
			return nil, err
		}
		switch rec.Status {
		case StatusSuccess:
			return rec.Job.Content(), nil
		case StatusFailure, StatusCancelled:
			return nil, pacserr.New(pacserr.InternalError, "job %s ended in state %s", id, rec.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Cancel requests cancellation of id; observed between Step calls.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	if !ok {
		return pacserr.New(pacserr.InexistentItem, "no such job %q", id)
	}
	rec.cancel = true
	return nil
}

// Pause moves a pending job out of contention without losing its place.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	if !ok {
		return pacserr.New(pacserr.InexistentItem, "no such job %q", id)
	}
	if rec.Status == StatusPending {
		for i, queued := range e.queue {
			if queued == rec {
				heap.Remove(&e.queue, i)
				break
			}
		}
	}
	rec.Status = StatusPaused
	return nil
}

// Resume re-enqueues a paused job.
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	rec, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return pacserr.New(pacserr.InexistentItem, "no such job %q", id)
	}
	if rec.Status == StatusPaused {
		rec.Status = StatusPending
		heap.Push(&e.queue, rec)
		e.cond.Signal()
	}
	e.mu.Unlock()
	return nil
}

// Delete removes a terminal job from bookkeeping.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return pacserr.New(pacserr.InexistentItem, "no such job %q", id)
	}
	delete(e.byID, id)
	return nil
}

// GetState returns a copy of id's bookkeeping record.
func (e *Engine) GetState(id string) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	if !ok {
		return Record{}, pacserr.New(pacserr.InexistentItem, "no such job %q", id)
	}
	return *rec, nil
}

func (e *Engine) runWorker(ctx context.Context) {
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.stopping {
			if ctx.Err() != nil {
				e.mu.Unlock()
				return
			}
			e.cond.Wait()
		}
		if e.stopping {
			e.mu.Unlock()
			return
		}
		rec := heap.Pop(&e.queue).(*Record)
		rec.Status = StatusRunning
		cancelled := rec.cancel
		e.mu.Unlock()

		if cancelled {
			e.finish(rec, StatusCancelled)
			continue
		}

		result := rec.Job.Step(ctx)
		switch result {
		case StepSuccess:
			e.finish(rec, StatusSuccess)
		case StepFailure:
			e.finish(rec, StatusFailure)
		case StepRetry:
			e.retry(rec)
		case StepContinue:
			e.requeue(rec)
		}
	}
}

func (e *Engine) finish(rec *Record, status Status) {
	e.mu.Lock()
	rec.Status = status
	rec.Progress = rec.Job.Progress()
	e.mu.Unlock()

	if e.observer == nil {
		return
	}
	switch status {
	case StatusSuccess:
		e.observer.SignalJobSuccess(rec.ID)
	case StatusFailure, StatusCancelled:
		e.observer.SignalJobFailure(rec.ID)
	}
}

func (e *Engine) requeue(rec *Record) {
	e.mu.Lock()
	rec.Status = StatusPending
	rec.Progress = rec.Job.Progress()
	heap.Push(&e.queue, rec)
	e.cond.Signal()
	e.mu.Unlock()
}

func (e *Engine) retry(rec *Record) {
	e.mu.Lock()
	rec.RetryCount++
	count := rec.RetryCount
	e.mu.Unlock()

	if count > e.retryCfg.MaxCount {
		e.finish(rec, StatusFailure)
		return
	}

	delay := e.retryCfg.BaseDelay << uint(count-1)
	if delay > e.retryCfg.MaxDelay || delay <= 0 {
		delay = e.retryCfg.MaxDelay
	}
	logging.Debugf("jobs: retrying %s after %s (attempt %d)", rec.ID, delay, count)

	time.AfterFunc(delay, func() { e.requeue(rec) })
}
