package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/manifest"
	"github.com/3leaps/lagsearch/pkg/output"
	"github.com/3leaps/lagsearch/pkg/search"
)

var (
	runJobPath string
	runOutput  string
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a search from a job manifest",
	Long: `Run one model-space search from a job manifest and stream JSONL records.

Records are written to the manifest's output destination (stdout by
default): progress records while the search runs, one result record per
model in enumeration order, and a final summary record.

Interrupting the run stops the job; completed results are still written.

Examples:
  lagsearch run --job search.yaml
  lagsearch run --job search.yaml --output file:/tmp/out.jsonl
  lagsearch run --job search.yaml --quiet | jq 'select(.type=="lagsearch.summary.v1")'`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to search-job manifest (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output destination (stdout or file:/path), overrides the manifest")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	_ = runCmd.MarkFlagRequired("job")
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := observability.CLILogger

	m, err := manifest.Load(runJobPath)
	if err != nil {
		logger.Error("Failed to load manifest", zap.String("path", runJobPath), zap.Error(err))
		return manifestExitError(err)
	}
	if runOutput != "" {
		m.Output.Destination = runOutput
	}
	if runQuiet {
		off := false
		m.Output.Progress = &off
	}

	req, err := m.Request()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	interval, err := m.Output.ProgressInterval()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	overrides, err := runOverrides(m.Run)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	cfg, err := loadConfig(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	controller, err := newController(cfg, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid executor configuration", err)
	}

	job, err := controller.Start(req)
	if err != nil {
		logger.Error("Failed to start search", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Failed to start search", err)
	}

	writer, cleanup, err := createWriter(m.Output.Destination, job.ID())
	if err != nil {
		_, _ = controller.Stop(job.ID())
		controller.Wait()
		logger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stop the job on interrupt; Report keeps draining until it is terminal.
	go func() {
		<-ctx.Done()
		if !job.Status().Terminal() {
			logger.Warn("Interrupted, stopping search", zap.String("job_id", job.ID()))
			_, _ = controller.Stop(job.ID())
		}
	}()

	logger.Info("Starting search",
		zap.String("job_id", job.ID()),
		zap.Int("total_models", len(job.Specifications())),
		zap.Int("workers", cfg.Search.Workers),
		zap.String("executor", cfg.Executor.Kind))

	summary, err := search.Report(context.Background(), job, writer, search.ReportOptions{
		Interval: interval,
		Progress: m.Output.ProgressEnabled(),
		Results:  m.Output.ResultsEnabled(),
	})
	if err != nil {
		_, _ = controller.Stop(job.ID())
		controller.Wait()
		logger.Error("Failed to write records", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	controller.Wait()

	fields := []zap.Field{
		zap.String("job_id", job.ID()),
		zap.String("status", summary.Status),
		zap.Int("completed", summary.Completed),
		zap.Int("valid", summary.Valid),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.String("duration", summary.DurationHuman),
	}
	switch jobregistry.JobState(summary.Status) {
	case jobregistry.JobStateError:
		logger.Error("Search failed", append(fields, zap.String("error", summary.Error))...)
		return exitError(foundry.ExitExternalServiceUnavailable, "Search failed", errors.New(summary.Error))
	case jobregistry.JobStateStopped:
		logger.Warn("Search stopped", fields...)
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Search interrupted", ctx.Err())
		}
		return nil
	default:
		logger.Info("Search completed", fields...)
		return nil
	}
}

// runOverrides maps a manifest's run block onto config overrides.
func runOverrides(r manifest.RunConfig) (map[string]any, error) {
	s := map[string]any{}
	if r.Workers > 0 {
		s["workers"] = r.Workers
	}
	if r.SpecTimeout != "" {
		d, err := r.SpecTimeoutDuration()
		if err != nil {
			return nil, err
		}
		s["spec_timeout"] = d.String()
	}
	if r.RateLimit > 0 {
		s["rate_limit"] = r.RateLimit
	}
	if r.MaxModels > 0 {
		s["max_models"] = r.MaxModels
	}
	overrides := map[string]any{}
	if len(s) > 0 {
		overrides["search"] = s
	}
	if r.Executor != "" {
		overrides["executor"] = map[string]any{"kind": r.Executor}
	}
	return overrides, nil
}

// createWriter opens the destination and returns a record writer for it
// with a cleanup function.
func createWriter(dest, jobID string) (*output.JSONLWriter, func(), error) {
	if dest == "" || dest == manifest.DefaultDestination {
		w := output.NewJSONLWriter(os.Stdout, jobID)
		return w, func() { _ = w.Close() }, nil
	}
	return createFileWriter(strings.TrimPrefix(dest, "file:"), jobID)
}

func createFileWriter(path, jobID string) (*output.JSONLWriter, func(), error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("empty output path")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, jobID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

// manifestExitError picks an exit code for a manifest load failure.
func manifestExitError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return exitError(foundry.ExitFileNotFound, "Manifest not found", err)
	case errors.Is(err, manifest.ErrValidationFailed):
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	case errors.Is(err, os.ErrPermission):
		return exitError(foundry.ExitFileReadError, "Failed to read manifest", err)
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
}
