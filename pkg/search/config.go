package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

var (
	// ErrInvalidConfig is returned for requests that cannot be planned.
	ErrInvalidConfig = errors.New("invalid search configuration")

	// ErrTooManyModels is returned when a plan exceeds the model limit.
	ErrTooManyModels = errors.New("too many model specifications")

	// ErrInvalidSpecification is returned when a decomposition request names
	// a model that cannot be fitted on the job's data.
	ErrInvalidSpecification = errors.New("invalid model specification")
)

// Request is the body of a search start or plan call. Config is kept
// verbatim on the job; executor options are read from the same object.
type Request struct {
	series.Dataset
	Config json.RawMessage `json:"config"`
}

// Config is the part of the client configuration the controller reads.
type Config struct {
	ConstantStatus modelspace.ConstantPolicy
	MaxLagDepth    int
	Selection      modelspace.Selection
}

// ParseConfig reads the search settings from the client configuration.
// maxLagDepth may be a number or a numeric string.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{ConstantStatus: modelspace.ConstantInclude}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return cfg, nil
	}

	var wire struct {
		ConstantStatus string          `json:"constantStatus"`
		MaxLagDepth    json.RawMessage `json:"maxLagDepth"`
		modelspace.Selection
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	policy, err := modelspace.ParseConstantPolicy(wire.ConstantStatus)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.ConstantStatus = policy
	cfg.Selection = wire.Selection

	if len(wire.MaxLagDepth) > 0 && string(wire.MaxLagDepth) != "null" {
		n, err := parseLooseInt(wire.MaxLagDepth)
		if err != nil {
			return cfg, fmt.Errorf("%w: maxLagDepth: %w", ErrInvalidConfig, err)
		}
		cfg.MaxLagDepth = n
	}
	if cfg.MaxLagDepth < 0 {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, modelspace.ErrNegativeLag)
	}
	return cfg, nil
}

func parseLooseInt(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// Plan describes the work a request would create.
type Plan struct {
	TotalModels    int64                     `json:"totalModels"`
	Regressors     []string                  `json:"regressors"`
	MaxLagDepth    int                       `json:"maxLagDepth"`
	ConstantPolicy modelspace.ConstantPolicy `json:"constantPolicy"`

	config Config
}

// Plan validates a request and counts its specifications without creating
// a job.
func (c *Controller) Plan(req Request) (*Plan, error) {
	if err := req.Dataset.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg, err := ParseConfig(req.Config)
	if err != nil {
		return nil, err
	}

	names, err := cfg.Selection.Apply(req.Regressors.Names())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := modelspace.CheckInputs(names, cfg.MaxLagDepth, cfg.ConstantStatus); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	total, err := modelspace.Count(len(names), cfg.MaxLagDepth, cfg.ConstantStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, modelspace.ErrNoModels)
	}
	if c.opts.MaxModels > 0 && total > c.opts.MaxModels {
		return nil, fmt.Errorf("%w: %w: %d exceeds limit %d", ErrInvalidConfig, ErrTooManyModels, total, c.opts.MaxModels)
	}

	return &Plan{
		TotalModels:    total,
		Regressors:     names,
		MaxLagDepth:    cfg.MaxLagDepth,
		ConstantPolicy: cfg.ConstantStatus,
		config:         cfg,
	}, nil
}
