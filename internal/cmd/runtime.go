package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/config"
	"github.com/3leaps/lagsearch/pkg/executor"
	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/search"
)

// loadConfig loads application config, honoring --config.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfgFile != "" {
		ctx = config.WithConfigFile(ctx, cfgFile)
	}
	return config.Load(ctx, overrides...)
}

// newController wires the executor and job store described by cfg.
func newController(cfg *config.Config, logger *zap.Logger) (*search.Controller, error) {
	exec, err := executor.New(cfg.Executor.Kind, executor.ProcessConfig{
		Command:      cfg.Executor.Command,
		Args:         cfg.Executor.Args,
		Env:          cfg.Executor.Env,
		MaxLineBytes: cfg.Executor.MaxLineBytes,
		ReadyTimeout: cfg.Executor.ReadyTimeout,
		Logger:       logger.Named("executor"),
	})
	if err != nil {
		return nil, err
	}
	return search.New(jobregistry.NewStore(), exec, search.Options{
		Workers:           cfg.Search.Workers,
		PausePollInterval: cfg.Search.PausePollInterval,
		StopGrace:         cfg.Search.StopGrace,
		SpecTimeout:       cfg.Search.SpecTimeout,
		MaxModels:         cfg.Search.MaxModels,
		RateLimit:         cfg.Search.RateLimit,
		Logger:            logger.Named("search"),
	}), nil
}
