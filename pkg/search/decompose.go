package search

import (
	"errors"
	"fmt"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/regression"
)

// Decompose refits one specification on a job's data and splits the fitted
// values into per-regressor contributions.
//
// The job only supplies the data; it may be in any state. An empty spec ID
// is filled with modelID.
func (c *Controller) Decompose(jobID, modelID string, spec modelspace.Specification) (*regression.Decomposition, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if spec.ID == "" {
		spec.ID = modelID
	}

	cfg, err := ParseConfig(job.Config())
	if err != nil {
		return nil, err
	}
	ds := job.Dataset()
	if err := spec.Validate(ds.Regressors.Names(), cfg.MaxLagDepth); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpecification, err)
	}

	frame, err := ds.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpecification, err)
	}
	dec, err := regression.Decompose(frame, spec)
	if err != nil {
		if regression.IsInsufficientData(err) || errors.Is(err, regression.ErrUnknownRegressor) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSpecification, err)
		}
		return nil, err
	}
	return dec, nil
}
