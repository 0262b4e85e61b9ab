package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/regression"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Native fits models in-process.
type Native struct{}

func NewNative() *Native {
	return &Native{}
}

// Start aligns the dataset once; every fit in the session reuses the frame.
func (n *Native) Start(ctx context.Context, ds series.Dataset, options json.RawMessage) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, opts, err := prepare(ds, options)
	if err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}
	return &nativeSession{frame: frame, opts: opts}, nil
}

func prepare(ds series.Dataset, options json.RawMessage) (*series.Frame, regression.Options, error) {
	if err := ds.Validate(); err != nil {
		return nil, regression.Options{}, err
	}
	frame, err := ds.Frame()
	if err != nil {
		return nil, regression.Options{}, err
	}
	opts, err := regression.ParseOptions(options)
	if err != nil {
		return nil, regression.Options{}, err
	}
	return frame, opts, nil
}

type nativeSession struct {
	frame *series.Frame
	opts  regression.Options
}

// Fit runs the regression on a separate goroutine so a deadline on ctx is
// honoured. An abandoned fit finishes in the background and is discarded.
func (s *nativeSession) Fit(ctx context.Context, spec modelspace.Specification) (jobregistry.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return jobregistry.ModelResult{}, err
	}
	done := make(chan jobregistry.ModelResult, 1)
	go func() {
		done <- Evaluate(s.frame, spec, s.opts)
	}()
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return jobregistry.ModelResult{}, ctx.Err()
	}
}

func (s *nativeSession) Close(time.Duration) error {
	return nil
}

// Evaluate fits one specification and converts the outcome into a
// ModelResult. Insufficient data is a skip; any other failure, including a
// panic inside the numeric code, is an error result.
func Evaluate(f *series.Frame, spec modelspace.Specification, opts regression.Options) (out jobregistry.ModelResult) {
	defer func() {
		if r := recover(); r != nil {
			out = jobregistry.ModelResult{
				Status: jobregistry.ResultError,
				Error:  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	res, err := regression.Fit(f, spec, opts)
	if err != nil {
		if regression.IsInsufficientData(err) {
			return jobregistry.ModelResult{Status: jobregistry.ResultSkipped, Reason: err.Error()}
		}
		return jobregistry.ModelResult{Status: jobregistry.ResultError, Error: err.Error()}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return jobregistry.ModelResult{Status: jobregistry.ResultError, Error: fmt.Sprintf("encode result: %v", err)}
	}
	return jobregistry.ModelResult{Status: jobregistry.ResultCompleted, Data: data}
}
