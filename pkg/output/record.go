// Package output provides the JSONL record framing used between the search
// controller and worker processes, and by the CLI for run output.
//
// Each line is a typed record envelope with a type-specific payload. Lines
// are self-contained JSON objects that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Record type constants define the envelope types.
// These follow the pattern: lagsearch.<type>.v<version>
const (
	// TypeInit carries the dataset and options to a worker.
	TypeInit = "lagsearch.init.v1"

	// TypeReady is sent by a worker once it has prepared the dataset.
	TypeReady = "lagsearch.ready.v1"

	// TypeFit asks a worker to fit one specification.
	TypeFit = "lagsearch.fit.v1"

	// TypeResult carries the outcome of one fit.
	TypeResult = "lagsearch.result.v1"

	// TypeError identifies error records.
	TypeError = "lagsearch.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "lagsearch.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "lagsearch.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "lagsearch.result.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this search job.
	JobID string `json:"job_id,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// InitRecord is the first record a worker receives.
type InitRecord struct {
	Dataset series.Dataset  `json:"dataset"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ReadyRecord acknowledges an init record.
type ReadyRecord struct {
	PID          int `json:"pid"`
	Observations int `json:"observations"`
	Regressors   int `json:"regressors"`
}

// FitRecord asks for one specification to be fitted.
type FitRecord struct {
	Seq           int64                    `json:"seq"`
	Specification modelspace.Specification `json:"specification"`
}

// ResultRecord is the outcome of one fit. Status is completed, error or
// skipped; Data is present only when completed.
type ResultRecord struct {
	Seq     int64           `json:"seq"`
	ModelID string          `json:"model_id"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors that end a worker session are sent as records before exit so the
// controller can report a diagnostic instead of a bare exit status.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeBadInput indicates the worker could not use its input.
	ErrCodeBadInput = "BAD_INPUT"

	// ErrCodeProtocol indicates an unexpected record type or sequence.
	ErrCodeProtocol = "PROTOCOL"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	TotalModels int    `json:"total_models"`
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	TotalModels int    `json:"total_models"`
	Completed   int    `json:"completed"`
	Valid       int    `json:"valid"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	Error string `json:"error,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
