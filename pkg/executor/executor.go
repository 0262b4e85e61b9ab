// Package executor runs model fits for a search job.
//
// An Executor is started once per worker slot with the job's dataset and
// options and returns a Session. A Session fits one specification at a
// time. Two implementations exist: Native fits in-process with gonum, and
// Process drives an external worker over a JSONL protocol on stdin/stdout.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

var (
	// ErrLaunch is returned when a session cannot be started.
	ErrLaunch = errors.New("executor launch failed")

	// ErrWorkerCrashed is returned when a worker exits without being asked to.
	ErrWorkerCrashed = errors.New("worker exited unexpectedly")

	// ErrProtocol is returned when a worker sends an unexpected record.
	ErrProtocol = errors.New("worker protocol error")

	// ErrSessionClosed is returned by Fit after Close, or after a fit was
	// abandoned mid-flight and the session can no longer be trusted.
	ErrSessionClosed = errors.New("session is closed")
)

// Kinds accepted by New.
const (
	KindNative  = "native"
	KindProcess = "process"
)

// Executor starts fitting sessions.
type Executor interface {
	Start(ctx context.Context, ds series.Dataset, options json.RawMessage) (Session, error)
}

// Session fits specifications one at a time.
//
// Fit returns a ModelResult for every specification it was able to
// evaluate, including per-specification failures (status error) and skips.
// A non-nil error means the session itself is unusable: the context ended,
// or the worker crashed or broke protocol.
type Session interface {
	Fit(ctx context.Context, spec modelspace.Specification) (jobregistry.ModelResult, error)

	// Close releases the session. Workers are asked to exit and are killed
	// if they have not exited within grace.
	Close(grace time.Duration) error
}

// WorkerError adds the operation and worker pid to a session failure.
type WorkerError struct {
	Op  string
	PID int
	Err error
}

func (e *WorkerError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("worker %d: %s: %v", e.PID, e.Op, e.Err)
	}
	return fmt.Sprintf("worker: %s: %v", e.Op, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// New returns the executor for kind. An empty kind selects Native.
func New(kind string, pc ProcessConfig) (Executor, error) {
	switch kind {
	case "", KindNative:
		return NewNative(), nil
	case KindProcess:
		return NewProcess(pc), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", kind)
	}
}
