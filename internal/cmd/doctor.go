package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/config"
	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/pkg/executor"
	"github.com/3leaps/lagsearch/pkg/manifest"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and configuration.

Examples:
  lagsearch doctor
  lagsearch doctor --config ./lagsearch.yaml`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// checkResult is the outcome of one diagnostic.
type checkResult struct {
	OK     bool
	Detail string
	Fields []zap.Field
	Err    error
}

type doctorCheck struct {
	Name string
	Run  func(ctx context.Context) checkResult

	// Fatal checks abort the command with ExitCode when they fail.
	Fatal    bool
	ExitCode int
}

func doctorChecks() []doctorCheck {
	return []doctorCheck{
		{Name: "Go version", Run: checkGoVersion},
		{Name: "Crucible access", Run: checkCrucible, Fatal: true, ExitCode: foundry.ExitExternalServiceUnavailable},
		{Name: "Gofulmen access", Run: checkGofulmen},
		{Name: "config directory", Run: checkConfigDir, Fatal: true, ExitCode: foundry.ExitFileNotFound},
		{Name: "configuration", Run: checkConfiguration, Fatal: true, ExitCode: foundry.ExitInvalidArgument},
		{Name: "manifest schema", Run: checkManifestSchema},
		{Name: "environment", Run: checkEnvironment},
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("Running diagnostic checks...")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	checks := doctorChecks()
	allChecks := true
	for i, c := range checks {
		res := c.Run(ctx)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.Name)
		if res.OK {
			logger.Info(prefix+" ✅ "+res.Detail, res.Fields...)
			continue
		}
		allChecks = false
		fields := append(res.Fields, zap.Error(res.Err))
		if c.Fatal {
			logger.Error(prefix+" ❌ "+res.Detail, fields...)
			return exitError(c.ExitCode, res.Detail, res.Err)
		}
		logger.Warn(prefix+" ⚠️  "+res.Detail, fields...)
	}

	if allChecks {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("=== End Diagnostics ===")
	return nil
}

func checkGoVersion(context.Context) checkResult {
	v := runtime.Version()
	fields := []zap.Field{zap.String("go_version", v)}
	if v >= "go1.23" {
		return checkResult{OK: true, Detail: v, Fields: fields}
	}
	return checkResult{Detail: v + " (recommended: go1.23+)", Fields: fields}
}

func checkCrucible(context.Context) checkResult {
	v := crucible.GetVersion()
	if v.Crucible == "" {
		return checkResult{Detail: "Cannot access Crucible", Err: errors.New("crucible version unavailable")}
	}
	return checkResult{OK: true, Detail: "v" + v.Crucible, Fields: []zap.Field{zap.String("crucible_version", v.Crucible)}}
}

func checkGofulmen(context.Context) checkResult {
	v := crucible.GetVersion()
	if v.Gofulmen == "" {
		return checkResult{Detail: "Cannot access Gofulmen", Err: errors.New("gofulmen version unavailable")}
	}
	return checkResult{OK: true, Detail: "v" + v.Gofulmen, Fields: []zap.Field{zap.String("gofulmen_version", v.Gofulmen)}}
}

func checkConfigDir(context.Context) checkResult {
	dir, err := os.UserConfigDir()
	if err != nil {
		return checkResult{Detail: "Cannot find config directory", Err: err}
	}
	name := config.DefaultIdentity.ConfigName
	if id := GetAppIdentity(); id != nil && id.ConfigName != "" {
		name = id.ConfigName
	}
	return checkResult{OK: true, Detail: dir, Fields: []zap.Field{
		zap.String("config_dir", dir),
		zap.String("data_dir", gfconfig.GetAppDataDir(name)),
	}}
}

func checkConfiguration(ctx context.Context) checkResult {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return checkResult{Detail: "Invalid configuration", Err: err}
	}
	fields := []zap.Field{
		zap.String("executor", cfg.Executor.Kind),
		zap.Int("workers", cfg.Search.Workers),
		zap.Int64("max_models", cfg.Search.MaxModels),
	}
	if cfg.Executor.Kind == "process" {
		path, err := executor.ResolveWorker(cfg.Executor.Command)
		if err != nil {
			return checkResult{Detail: "Worker command not found", Fields: fields, Err: err}
		}
		fields = append(fields, zap.String("worker", path))
	}
	return checkResult{OK: true, Detail: "executor " + cfg.Executor.Kind, Fields: fields}
}

func checkManifestSchema(context.Context) checkResult {
	err := manifest.ValidateRaw([]byte(`{"version":"1.0","dependent":{"name":"y","data":[]},"regressors":[{"name":"x","data":[]}]}`))
	if err != nil {
		return checkResult{Detail: "Embedded manifest schema is unusable", Err: err}
	}
	return checkResult{OK: true, Detail: manifest.SchemaID}
}

func checkEnvironment(context.Context) checkResult {
	return checkResult{OK: true, Detail: runtime.GOOS + "/" + runtime.GOARCH, Fields: []zap.Field{
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH),
	}}
}
