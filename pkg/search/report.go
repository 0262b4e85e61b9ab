package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/output"
)

// DefaultReportInterval is the progress record interval used when none is
// given.
const DefaultReportInterval = 2 * time.Second

// ReportOptions controls Report.
type ReportOptions struct {
	// Interval between progress records.
	Interval time.Duration

	// Progress enables progress records.
	Progress bool

	// Results emits one result record per recorded specification, in
	// enumeration order as they become available.
	Results bool
}

// Report streams a job's progress to w until the job reaches a terminal
// state or ctx ends, then writes a summary record. The returned summary is
// the one written.
func Report(ctx context.Context, job *jobregistry.Job, w *output.JSONLWriter, opts ReportOptions) (output.SummaryRecord, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReportInterval
	}
	start := time.Now()
	specs := job.Specifications()
	next := 0

	flushResults := func() error {
		if !opts.Results {
			return nil
		}
		for next < len(specs) {
			res, ok := job.Result(specs[next].ID)
			if !ok {
				return nil
			}
			err := w.WriteResult(ctx, &output.ResultRecord{
				Seq:     int64(next + 1),
				ModelID: specs[next].ID,
				Status:  string(res.Status),
				Data:    res.Data,
				Error:   res.Error,
				Reason:  res.Reason,
			})
			if err != nil {
				return err
			}
			next++
		}
		return nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		changed := job.Changed()
		st := job.Status()
		if err := flushResults(); err != nil {
			return output.SummaryRecord{}, err
		}
		if st.Terminal() {
			break
		}

		select {
		case <-ctx.Done():
			return output.SummaryRecord{}, ctx.Err()
		case <-changed:
		case <-ticker.C:
			if opts.Progress {
				progress, total := job.Progress()
				err := w.WriteProgress(ctx, &output.ProgressRecord{
					Status:      string(job.Status()),
					Progress:    progress,
					TotalModels: total,
				})
				if err != nil {
					return output.SummaryRecord{}, err
				}
			}
		}
	}

	sum := Summarize(job.Snapshot(true))
	sum.Duration = time.Since(start)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	if err := w.WriteSummary(ctx, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

// Summarize tallies a snapshot's results. A completed result counts as
// valid when its data reports is_valid.
func Summarize(snap jobregistry.Snapshot) output.SummaryRecord {
	sum := output.SummaryRecord{
		Status:      string(snap.Status),
		Progress:    snap.Progress,
		TotalModels: snap.TotalModels,
	}
	if snap.Error != nil {
		sum.Error = *snap.Error
	}
	for _, res := range snap.Results {
		switch res.Status {
		case jobregistry.ResultCompleted:
			sum.Completed++
			var v struct {
				IsValid bool `json:"is_valid"`
			}
			if json.Unmarshal(res.Data, &v) == nil && v.IsValid {
				sum.Valid++
			}
		case jobregistry.ResultSkipped:
			sum.Skipped++
		case jobregistry.ResultError:
			sum.Errors++
		}
	}
	return sum
}
