package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Registry errors.
var (
	// ErrJobNotFound is returned for an id that was never registered.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidJobID is returned for a blank job id.
	ErrInvalidJobID = errors.New("job_id is required")

	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrAlreadyAttached is returned when a second controller claims a job.
	ErrAlreadyAttached = errors.New("job already has a controller")

	// ErrIncomplete is returned when finishing a job with missing results.
	ErrIncomplete = errors.New("job has unprocessed specifications")

	// ErrNoSpecifications is returned when creating a job with nothing to run.
	ErrNoSpecifications = errors.New("job has no specifications")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	JobID string
	From  JobState
	To    JobState
}

func (e *TransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("job %s is %s; cannot move to %s", e.JobID, e.From, e.To)
	}
	return fmt.Sprintf("job %s cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CreateParams describes a new job.
type CreateParams struct {
	Specifications []modelspace.Specification
	Dataset        series.Dataset
	Config         json.RawMessage
}

// Store is the process-wide table of search jobs.
//
// Jobs live in memory until the process exits. The map is guarded by an
// RWMutex; each Job guards its own state.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a job in the starting state.
func (s *Store) Create(p CreateParams) (*Job, error) {
	if len(p.Specifications) == 0 {
		return nil, ErrNoSpecifications
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := uuid.New().String()
	for {
		if _, exists := s.jobs[jobID]; !exists {
			break
		}
		jobID = uuid.New().String()
	}

	job := newJob(jobID, p, s.now())
	s.jobs[jobID] = job
	return job, nil
}

// Get returns the job with the given id.
func (s *Store) Get(jobID string) (*Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrInvalidJobID
	}
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// SetStatus applies a validated transition to the job.
func (s *Store) SetStatus(jobID string, to JobState) (JobState, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return "", err
	}
	return job.Transition(to)
}

// Snapshot returns the client view of a job.
func (s *Store) Snapshot(jobID string, includeResults bool) (Snapshot, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return job.Snapshot(includeResults), nil
}

// List returns job summaries, newest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// StopAll stops every non-terminal job. Used on shutdown.
func (s *Store) StopAll() int {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	n := 0
	for _, j := range jobs {
		if !j.Status().Terminal() {
			j.Stop()
			n++
		}
	}
	return n
}
