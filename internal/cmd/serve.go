package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/internal/server"
	"github.com/3leaps/lagsearch/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search HTTP service",
	Long: `Run the search HTTP service.

Jobs live in memory and are stopped when the service shuts down.

Examples:
  lagsearch serve
  lagsearch serve --port 9000
  LAGSEARCH_EXECUTOR=process lagsearch serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	overrides := map[string]any{}
	flags := map[string]any{}
	if cmd.Flags().Changed("host") {
		flags["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		flags["port"] = servePort
	}
	if len(flags) > 0 {
		overrides["server"] = flags
	}

	cfg, err := loadConfig(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitServerLogger("lagsearch", cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer observability.Sync()
	logger := observability.ServerLogger

	controller, err := newController(cfg, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid executor configuration", err)
	}

	if cfg.Health.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("signals", signalHealthChecker{})
		hm.RegisterChecker("executor", handlers.ExecutorChecker{Kind: cfg.Executor.Kind, Command: cfg.Executor.Command})
		hm.RegisterChecker("jobs", handlers.JobsChecker{Controller: controller, MaxActive: cfg.Search.MaxActiveJobs})
		id := GetAppIdentity()
		if id != nil {
			hm.RegisterChecker("identity", identityHealthChecker{
				binaryName: id.BinaryName,
				envPrefix:  id.EnvPrefix,
				configName: id.ConfigName,
			})
		}
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithController(controller),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("lagsearch serving",
		zap.String("addr", srv.Addr()),
		zap.String("executor", cfg.Executor.Kind),
		zap.Int("workers", cfg.Search.Workers),
		zap.String("version", versionInfo.Version))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("shutdown incomplete", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}
	return <-errCh
}

// signalHealthChecker reports healthy while the process is handling
// signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker fails when the app identity is incomplete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}
