package jobregistry

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a search job.
//
// NOTE: These values are returned by the progress API and are part of the
// client contract.
type JobState string

const (
	JobStateStarting JobState = "starting"
	JobStateRunning  JobState = "running"
	JobStatePaused   JobState = "paused"
	JobStateStopped  JobState = "stopped"
	JobStateFinished JobState = "finished"
	JobStateError    JobState = "error"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateStopped, JobStateFinished, JobStateError:
		return true
	default:
		return false
	}
}

// ResultStatus is the outcome of fitting one specification.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultError     ResultStatus = "error"
	ResultSkipped   ResultStatus = "skipped"
)

// ModelResult is the recorded outcome for one specification.
//
// Data is present only for completed results and is opaque to the
// registry. Error is present only for failed results.
type ModelResult struct {
	Status ResultStatus    `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Snapshot is the client-facing view of a job at one instant.
type Snapshot struct {
	JobID       string                 `json:"jobId"`
	Status      JobState               `json:"status"`
	Progress    int                    `json:"progress"`
	TotalModels int                    `json:"totalModels"`
	Results     map[string]ModelResult `json:"results"`
	Config      json.RawMessage        `json:"config,omitempty"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     *time.Time             `json:"endTime,omitempty"`
	Error       *string                `json:"error"`
}

// Summary is the compact form used when listing jobs.
type Summary struct {
	JobID       string     `json:"jobId"`
	Status      JobState   `json:"status"`
	Progress    int        `json:"progress"`
	TotalModels int        `json:"totalModels"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}
