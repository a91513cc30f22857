package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	mu       sync.Mutex
	name     string
	steps    []StepResult
	stepIdx  int
	progress float64
}

func (j *testJob) TypeTag() string { return "test-job" }

func (j *testJob) Step(ctx context.Context) StepResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stepIdx >= len(j.steps) {
		return StepSuccess
	}
	r := j.steps[j.stepIdx]
	j.stepIdx++
	j.progress = float64(j.stepIdx) / float64(len(j.steps)+1)
	return r
}

func (j *testJob) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *testJob) Content() interface{} {
	return map[string]string{"name": j.name}
}

func TestSubmitAndWaitRunsToSuccess(t *testing.T) {
	e := NewEngine(2, nil, DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	job := &testJob{name: "j1", steps: []StepResult{StepContinue, StepContinue, StepSuccess}}
	content, err := e.SubmitAndWait(context.Background(), "job-1", job, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "j1"}, content)
}

// Job priority ordering (spec.md §8, property 9): between two jobs with
// priorities p1 > p2 submitted in either order, p1 begins execution first.
func TestPriorityOrderingHighBeforeLow(t *testing.T) {
	e := NewEngine(1, nil, DefaultRetryConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) StepResult {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return StepSuccess
	}

	low := &fnJob{onStep: func() StepResult { return record("low") }}
	high := &fnJob{onStep: func() StepResult { return record("high") }}

	// Submit low first, then high: high must still run first.
	e.Submit("low", low, 1)
	e.Submit("high", high, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

type fnJob struct {
	onStep func() StepResult
}

func (f *fnJob) TypeTag() string                      { return "fn-job" }
func (f *fnJob) Step(ctx context.Context) StepResult { return f.onStep() }
func (f *fnJob) Progress() float64                   { return 1 }
func (f *fnJob) Content() interface{}                { return nil }

func TestCancelMarksJobCancelled(t *testing.T) {
	e := NewEngine(1, nil, DefaultRetryConfig())
	job := &testJob{name: "cancelme", steps: []StepResult{StepContinue, StepContinue, StepContinue, StepSuccess}}
	e.Submit("c1", job, 0)
	require.NoError(t, e.Cancel("c1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		rec, err := e.GetState("c1")
		return err == nil && rec.Status == StatusCancelled
	}, time.Second, time.Millisecond)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	e := NewEngine(1, nil, DefaultRetryConfig())
	job := &testJob{name: "pr", steps: []StepResult{StepSuccess}}
	e.Submit("p1", job, 0)
	require.NoError(t, e.Pause("p1"))

	rec, err := e.GetState("p1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, rec.Status)

	require.NoError(t, e.Resume("p1"))
	rec, err = e.GetState("p1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
}

// Job persistence round-trip (spec.md §8, property 10).
func TestSerializeUnserializeRoundTrip(t *testing.T) {
	RegisterType("roundtrip-job", func(content json.RawMessage) (Job, error) {
		var c map[string]string
		if err := json.Unmarshal(content, &c); err != nil {
			return nil, err
		}
		return &testJob{name: c["name"], steps: nil}, nil
	})

	e := NewEngine(1, nil, DefaultRetryConfig())
	job := &testJob{name: "persisted"}
	job.stepIdx = len(job.steps) // already "done" so TypeTag must be overridden for round trip
	e.Submit("r1", &namedTestJob{testJob: job, typeTag: "roundtrip-job"}, 3)

	// Mutate progress/counters as if the job had been running a while, so
	// the round trip below actually exercises them instead of asserting
	// zero values against zero values.
	e.mu.Lock()
	e.byID["r1"].Progress = 0.42
	e.byID["r1"].SubOpsDone = 7
	e.byID["r1"].SubOpsTotal = 10
	e.byID["r1"].RetryCount = 2
	e.mu.Unlock()

	blobs, err := e.Serialize()
	require.NoError(t, err)
	require.Contains(t, blobs, "r1")

	e2 := NewEngine(1, nil, DefaultRetryConfig())
	require.NoError(t, e2.Unserialize(blobs))

	rec, err := e2.GetState("r1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, "roundtrip-job", rec.TypeTag)
	assert.Equal(t, 0.42, rec.Progress)
	assert.Equal(t, 7, rec.SubOpsDone)
	assert.Equal(t, 10, rec.SubOpsTotal)
	assert.Equal(t, 2, rec.RetryCount)
}

type namedTestJob struct {
	*testJob
	typeTag string
}

func (n *namedTestJob) TypeTag() string { return n.typeTag }

func TestUnserializeSkipsUnknownTypeTag(t *testing.T) {
	e := NewEngine(1, nil, DefaultRetryConfig())
	blobs := map[string]json.RawMessage{
		"unknown-1": json.RawMessage(`{"Type":"does-not-exist","Content":{},"State":"Pending","Priority":0,"CreationTime":"2026-01-01T00:00:00Z"}`),
	}
	require.NoError(t, e.Unserialize(blobs))
	_, err := e.GetState("unknown-1")
	assert.Error(t, err)
}
