package jobregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Job is one search run. All mutable fields are guarded by mu; specs,
// dataset and config are fixed at creation.
type Job struct {
	id        string
	specs     []modelspace.Specification
	dataset   series.Dataset
	config    json.RawMessage
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    JobState
	results   map[string]ModelResult
	progress  int
	lastError string
	endTime   *time.Time
	attached  bool
	changed   chan struct{}
}

func newJob(id string, p CreateParams, now time.Time) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	specs := make([]modelspace.Specification, len(p.Specifications))
	copy(specs, p.Specifications)
	return &Job{
		id:        id,
		specs:     specs,
		dataset:   p.Dataset,
		config:    p.Config,
		startTime: now,
		ctx:       ctx,
		cancel:    cancel,
		status:    JobStateStarting,
		results:   make(map[string]ModelResult, len(specs)),
		changed:   make(chan struct{}),
	}
}

func (j *Job) ID() string { return j.id }

// Specifications returns the ordered specifications. Callers must not
// modify the slice.
func (j *Job) Specifications() []modelspace.Specification { return j.specs }

// Dataset returns the data the job was started with.
func (j *Job) Dataset() series.Dataset { return j.dataset }

// Config returns the client configuration the job was started with.
func (j *Job) Config() json.RawMessage { return j.config }

// Context is cancelled once the job reaches a terminal state.
func (j *Job) Context() context.Context { return j.ctx }

// Status returns the current state.
func (j *Job) Status() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Changed returns a channel that is closed on the next status change.
func (j *Job) Changed() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.changed
}

// Attach claims the job for a controller. Only one claim succeeds.
func (j *Job) Attach() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.attached {
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, j.id)
	}
	j.attached = true
	return nil
}

var transitions = map[JobState][]JobState{
	JobStateStarting: {JobStateRunning, JobStateStopped, JobStateError},
	JobStateRunning:  {JobStatePaused, JobStateStopped, JobStateFinished, JobStateError},
	JobStatePaused:   {JobStateRunning, JobStateStopped, JobStateFinished, JobStateError},
}

func allowed(from, to JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to a new state.
//
// Re-entering the current non-terminal state is a no-op. Stopping a
// terminal job is a no-op success that reports the existing state. Any
// other request on a terminal job, or any transition not in the state
// machine, returns ErrInvalidTransition and leaves the job unchanged.
func (j *Job) Transition(to JobState) (JobState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to, "")
}

func (j *Job) transitionLocked(to JobState, reason string) (JobState, error) {
	from := j.status
	if from.Terminal() {
		if to == JobStateStopped {
			return from, nil
		}
		return from, &TransitionError{JobID: j.id, From: from, To: to}
	}
	if from == to {
		return from, nil
	}
	if !allowed(from, to) {
		return from, &TransitionError{JobID: j.id, From: from, To: to}
	}

	j.status = to
	if to == JobStateError && reason != "" {
		j.lastError = reason
	}
	if to.Terminal() {
		now := time.Now().UTC()
		j.endTime = &now
		j.cancel()
	}
	close(j.changed)
	j.changed = make(chan struct{})
	return to, nil
}

// Pause suspends (pause=true) or resumes (pause=false) the job.
func (j *Job) Pause(pause bool) (JobState, error) {
	if pause {
		return j.Transition(JobStatePaused)
	}
	return j.Transition(JobStateRunning)
}

// Stop terminates the job. Stopping a terminal job is a no-op.
func (j *Job) Stop() JobState {
	st, _ := j.Transition(JobStateStopped)
	return st
}

// Fail moves the job to the error state with a diagnostic message. It
// returns false if the job was already terminal.
func (j *Job) Fail(err error) bool {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	_, terr := j.transitionLocked(JobStateError, msg)
	return terr == nil
}

// Finish marks the job finished once every specification has a result.
func (j *Job) Finish() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress != len(j.specs) {
		return fmt.Errorf("%w: %d of %d", ErrIncomplete, j.progress, len(j.specs))
	}
	_, err := j.transitionLocked(JobStateFinished, "")
	return err
}

// Record stores the result for one specification and advances progress.
//
// Results are accepted while the job is running or paused. A result that
// arrives after a terminal transition, or a second result for the same
// specification, is discarded and Record returns false.
func (j *Job) Record(specID string, res ModelResult) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobStateRunning && j.status != JobStatePaused {
		return false
	}
	if _, dup := j.results[specID]; dup {
		return false
	}
	j.results[specID] = res
	j.progress++
	return true
}

// Progress returns the number of recorded results and the total.
func (j *Job) Progress() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress, len(j.specs)
}

// Result returns the recorded result for a specification.
func (j *Job) Result(specID string) (ModelResult, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.results[specID]
	return r, ok
}

// Snapshot copies the job's client-visible state.
func (j *Job) Snapshot(includeResults bool) Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		JobID:       j.id,
		Status:      j.status,
		Progress:    j.progress,
		TotalModels: len(j.specs),
		Config:      j.config,
		StartTime:   j.startTime,
	}
	if j.endTime != nil {
		t := *j.endTime
		snap.EndTime = &t
	}
	if j.lastError != "" {
		msg := j.lastError
		snap.Error = &msg
	}
	if includeResults {
		snap.Results = make(map[string]ModelResult, len(j.results))
		for k, v := range j.results {
			snap.Results[k] = v
		}
	}
	return snap
}

func (j *Job) summary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Summary{
		JobID:       j.id,
		Status:      j.status,
		Progress:    j.progress,
		TotalModels: len(j.specs),
		StartTime:   j.startTime,
	}
	if j.endTime != nil {
		t := *j.endTime
		s.EndTime = &t
	}
	return s
}
