// Package manifest loads lagsearch search-job manifests.
//
// A search-job manifest is a YAML or JSON file describing one model-space
// search run from the command line: the dependent series, the regressors,
// the search configuration, controller tuning and output.
//
// Manifests are validated against an embedded JSON Schema before they are
// parsed. Unknown top-level properties are rejected; the config block is
// passed through to the executor untouched.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	dependent:
//	  name: sales
//	  file: data/sales.json
//	regressors:
//	  - name: price
//	    file: data/price.json
//	  - name: ads
//	    data: [["2024-01-01", 3.5], ["2024-02-01", 4.0]]
//	config:
//	  constantStatus: test
//	  maxLagDepth: 2
//	  exclude: ["*_raw"]
//	run:
//	  workers: 4
//	output:
//	  destination: file:/tmp/search.jsonl
//	  progress_every: 2s
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/3leaps/lagsearch/pkg/series"
)

// Manifest is a validated search-job manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version"`

	Dependent  SeriesSource   `json:"dependent"`
	Regressors []SeriesSource `json:"regressors"`

	// Config is the client search configuration, kept verbatim.
	Config json.RawMessage `json:"config,omitempty"`

	Run    RunConfig    `json:"run,omitempty"`
	Output OutputConfig `json:"output,omitempty"`
}

// SeriesSource is a named series given inline or by file. File paths are
// resolved relative to the manifest's directory.
type SeriesSource struct {
	Name string        `json:"name"`
	Data series.Series `json:"data,omitempty"`
	File string        `json:"file,omitempty"`
}

// RunConfig tunes the controller for this run. Zero values fall back to
// application config.
type RunConfig struct {
	Workers     int     `json:"workers,omitempty"`
	SpecTimeout string  `json:"spec_timeout,omitempty"`
	RateLimit   float64 `json:"rate_limit,omitempty"`
	MaxModels   int64   `json:"max_models,omitempty"`
	Executor    string  `json:"executor,omitempty"`
}

// OutputConfig configures the JSONL record stream.
type OutputConfig struct {
	// Destination is "stdout" or "file:/path/to/output.jsonl".
	Destination string `json:"destination,omitempty"`

	// Progress enables periodic progress records.
	Progress *bool `json:"progress,omitempty"`

	// ProgressEvery is the progress record interval.
	ProgressEvery string `json:"progress_every,omitempty"`

	// Results emits one result record per evaluated specification.
	Results *bool `json:"results,omitempty"`
}

// Default values for optional fields.
const (
	DefaultVersion       = "1.0"
	DefaultDestination   = "stdout"
	DefaultProgress      = true
	DefaultResults       = true
	DefaultProgressEvery = "2s"
)

// ApplyDefaults fills in optional output fields.
func (m *Manifest) ApplyDefaults() {
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		v := DefaultProgress
		m.Output.Progress = &v
	}
	if m.Output.Results == nil {
		v := DefaultResults
		m.Output.Results = &v
	}
	if m.Output.ProgressEvery == "" {
		m.Output.ProgressEvery = DefaultProgressEvery
	}
}

// ProgressEnabled returns whether progress records should be emitted.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}

// ResultsEnabled returns whether per-model result records should be emitted.
func (o *OutputConfig) ResultsEnabled() bool {
	if o.Results == nil {
		return DefaultResults
	}
	return *o.Results
}

// ProgressInterval parses ProgressEvery.
func (o *OutputConfig) ProgressInterval() (time.Duration, error) {
	s := o.ProgressEvery
	if s == "" {
		s = DefaultProgressEvery
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("output.progress_every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("output.progress_every must be positive")
	}
	return d, nil
}

// SpecTimeoutDuration parses SpecTimeout. Empty means no timeout.
func (r *RunConfig) SpecTimeoutDuration() (time.Duration, error) {
	if r.SpecTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.SpecTimeout)
	if err != nil {
		return 0, fmt.Errorf("run.spec_timeout: %w", err)
	}
	return d, nil
}
