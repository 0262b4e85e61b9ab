package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRepoRootForTest(t *testing.T) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("could not locate repo root containing go.mod from %s", cwd)
	return ""
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// In CI containers the checkout may be outside $HOME.
	t.Run("CIBoundaryHint", func(t *testing.T) {
		repoRoot := findRepoRootForTest(t)
		t.Setenv("HOME", t.TempDir())
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", repoRoot)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.True(t, cfg.Health.Enabled)

		assert.Equal(t, 1, cfg.Search.Workers)
		assert.Equal(t, 2*time.Second, cfg.Search.PausePollInterval)
		assert.Equal(t, 1500*time.Millisecond, cfg.Search.StopGrace)
		assert.Zero(t, cfg.Search.SpecTimeout)
		assert.Equal(t, int64(1000000), cfg.Search.MaxModels)
		assert.Zero(t, cfg.Search.MaxActiveJobs)

		assert.Equal(t, "native", cfg.Executor.Kind)
		assert.Equal(t, 64<<20, cfg.Executor.MaxLineBytes)
		assert.Equal(t, 30*time.Second, cfg.Executor.ReadyTimeout)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"search": map[string]any{
				"workers": 3,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 3, cfg.Search.Workers)

		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, "native", cfg.Executor.Kind)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("LAGSEARCH_PORT", "3000")
		t.Setenv("LAGSEARCH_LOG_LEVEL", "warn")
		t.Setenv("LAGSEARCH_EXECUTOR", "process")
		t.Setenv("LAGSEARCH_EXECUTOR_ARGS", "worker,--verbose")
		t.Setenv("LAGSEARCH_MAX_ACTIVE_JOBS", "4")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "process", cfg.Executor.Kind)
		assert.Equal(t, []string{"worker", "--verbose"}, cfg.Executor.Args)
		assert.Equal(t, 4, cfg.Search.MaxActiveJobs)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("LAGSEARCH_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ExplicitConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lagsearch.yaml")
		require.NoError(t, os.WriteFile(path, []byte("search:\n  workers: 6\n  stop_grace: 3s\n"), 0o600))
		t.Setenv("LAGSEARCH_WORKERS", "2")

		cfg, err := Load(WithConfigFile(ctx, path))
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Search.Workers, "env beats file")
		assert.Equal(t, 3*time.Second, cfg.Search.StopGrace)
	})

	t.Run("MissingExplicitConfigFile", func(t *testing.T) {
		_, err := Load(WithConfigFile(ctx, filepath.Join(t.TempDir(), "absent.yaml")))
		require.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		_, err := Load(ctx, map[string]any{"search": map[string]any{"workers": 0}})
		assert.ErrorContains(t, err, "search.workers")

		_, err = Load(ctx, map[string]any{"executor": map[string]any{"kind": "remote"}})
		assert.ErrorContains(t, err, "executor.kind")

		_, err = Load(ctx, map[string]any{"search": map[string]any{"max_active_jobs": -1}})
		assert.ErrorContains(t, err, "search.max_active_jobs")
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestEnvSpecs(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["LAGSEARCH_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["LAGSEARCH_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["LAGSEARCH_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["LAGSEARCH_WORKERS"], "WORKERS env var must be mapped")
	assert.True(t, envVarNames["LAGSEARCH_EXECUTOR"], "EXECUTOR env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	t.Run("DurationFromEnv", func(t *testing.T) {
		t.Setenv("LAGSEARCH_READ_TIMEOUT", "45s")
		t.Setenv("LAGSEARCH_SHUTDOWN_TIMEOUT", "5m")
		t.Setenv("LAGSEARCH_PAUSE_POLL_INTERVAL", "250ms")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 250*time.Millisecond, cfg.Search.PausePollInterval)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	assert.Empty(t, getUserConfigPaths())
	assert.Nil(t, Identity())
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	assert.Empty(t, getEnvSpecs())
}

func TestFindProjectRootCIBoundaryEdgeCases(t *testing.T) {
	repoRoot := findRepoRootForTest(t)

	t.Run("CITrueButEmptyBoundaryVars", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "")
		t.Setenv("GITHUB_WORKSPACE", "")
		t.Setenv("CI_PROJECT_DIR", "")
		t.Setenv("WORKSPACE", "")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithRelativeBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "./relative/path")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithNonexistentBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "/nonexistent/path/that/does/not/exist")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithBoundaryNotContainingCwd", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", t.TempDir())

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})

	t.Run("GitHubActionsEnvVar", func(t *testing.T) {
		t.Setenv("CI", "")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "")
		t.Setenv("GITHUB_ACTIONS", "true")
		t.Setenv("GITHUB_WORKSPACE", repoRoot)

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	for _, spec := range specs {
		assert.NotEmpty(t, spec.Name, "env var name should not be empty")
		assert.Contains(t, spec.Name, "LAGSEARCH_", "all specs should have LAGSEARCH_ prefix")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
}
