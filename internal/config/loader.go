// Package config loads lagsearch configuration.
//
// Precedence, lowest to highest: defaults, user config file, project config
// file, explicit config file, LAGSEARCH_* environment variables, runtime
// overrides.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
	Search   SearchConfig   `mapstructure:"search"`
	Executor ExecutorConfig `mapstructure:"executor"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SearchConfig tunes the job controller.
type SearchConfig struct {
	Workers           int           `mapstructure:"workers"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
	StopGrace         time.Duration `mapstructure:"stop_grace"`
	SpecTimeout       time.Duration `mapstructure:"spec_timeout"`
	MaxModels         int64         `mapstructure:"max_models"`
	RateLimit         float64       `mapstructure:"rate_limit"`

	// MaxActiveJobs marks the service not ready once this many jobs are
	// live. Zero disables the limit.
	MaxActiveJobs int `mapstructure:"max_active_jobs"`
}

// ExecutorConfig selects how fits run. Kind is "native" or "process".
type ExecutorConfig struct {
	Kind         string        `mapstructure:"kind"`
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	Env          []string      `mapstructure:"env"`
	MaxLineBytes int           `mapstructure:"max_line_bytes"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// AppIdentity names the binary, its env prefix and its config files.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity used when none has been set.
var DefaultIdentity = AppIdentity{
	BinaryName: "lagsearch",
	EnvPrefix:  "LAGSEARCH_",
	ConfigName: "lagsearch",
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// Identity returns the active app identity, or nil before the first Load.
func Identity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return nil
	}
	id := *appIdentity
	return &id
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)

	v.SetDefault("search.workers", 1)
	v.SetDefault("search.pause_poll_interval", "2s")
	v.SetDefault("search.stop_grace", "1500ms")
	v.SetDefault("search.spec_timeout", "0s")
	v.SetDefault("search.max_models", 1000000)
	v.SetDefault("search.rate_limit", 0)
	v.SetDefault("search.max_active_jobs", 0)

	v.SetDefault("executor.kind", "native")
	v.SetDefault("executor.command", "")
	v.SetDefault("executor.args", []string{})
	v.SetDefault("executor.env", []string{})
	v.SetDefault("executor.max_line_bytes", 64<<20)
	v.SetDefault("executor.ready_timeout", "30s")
}

type configFileKey struct{}

// WithConfigFile asks Load to merge an explicit config file.
func WithConfigFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, configFileKey{}, path)
}

// Load builds the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")

	paths := getUserConfigPaths()
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths, filepath.Join(root, appIdentity.ConfigName+".yaml"))
	}
	for _, p := range paths {
		if err := mergeFile(v, p, false); err != nil {
			return nil, err
		}
	}
	if explicit, _ := ctx.Value(configFileKey{}).(string); strings.TrimSpace(explicit) != "" {
		if err := mergeFile(v, explicit, true); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if val, ok := os.LookupEnv(spec.Name); ok && strings.TrimSpace(val) != "" {
			v.Set(spec.Path, val)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Search.Workers < 1 {
		return fmt.Errorf("search.workers must be >= 1")
	}
	if c.Search.MaxModels < 0 {
		return fmt.Errorf("search.max_models must be >= 0")
	}
	if c.Search.RateLimit < 0 {
		return fmt.Errorf("search.rate_limit must be >= 0")
	}
	if c.Search.MaxActiveJobs < 0 {
		return fmt.Errorf("search.max_active_jobs must be >= 0")
	}
	switch c.Executor.Kind {
	case "native", "process":
	default:
		return fmt.Errorf("executor.kind %q is not one of native, process", c.Executor.Kind)
	}
	return nil
}

func mergeFile(v *viper.Viper, path string, required bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}
	p := appIdentity.EnvPrefix
	return []envSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "HEALTH_ENABLED", Path: "health.enabled"},
		{Name: p + "WORKERS", Path: "search.workers"},
		{Name: p + "PAUSE_POLL_INTERVAL", Path: "search.pause_poll_interval"},
		{Name: p + "STOP_GRACE", Path: "search.stop_grace"},
		{Name: p + "SPEC_TIMEOUT", Path: "search.spec_timeout"},
		{Name: p + "MAX_MODELS", Path: "search.max_models"},
		{Name: p + "RATE_LIMIT", Path: "search.rate_limit"},
		{Name: p + "MAX_ACTIVE_JOBS", Path: "search.max_active_jobs"},
		{Name: p + "EXECUTOR", Path: "executor.kind"},
		{Name: p + "EXECUTOR_COMMAND", Path: "executor.command"},
		{Name: p + "EXECUTOR_ARGS", Path: "executor.args"},
		{Name: p + "MAX_LINE_BYTES", Path: "executor.max_line_bytes"},
	}
}

func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return []string{}
	}
	return []string{filepath.Join(dir, appIdentity.ConfigName, appIdentity.ConfigName+".yaml")}
}

// ciBoundaryVars name workspace roots set by CI systems, in priority order.
var ciBoundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot locates the directory holding the project config.
//
// Under CI the checkout may live outside $HOME, so a workspace root from
// the environment is preferred when it is absolute, exists and contains the
// working directory. Otherwise the nearest ancestor with go.mod or .git
// wins, falling back to the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	if isCI() {
		for _, name := range ciBoundaryVars {
			if root, ok := usableBoundary(os.Getenv(name), cwd); ok {
				return root, nil
			}
		}
	}

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func isCI() bool {
	return strings.EqualFold(os.Getenv("CI"), "true") || strings.EqualFold(os.Getenv("GITHUB_ACTIONS"), "true")
}

func usableBoundary(root, cwd string) (string, bool) {
	root = strings.TrimSpace(root)
	if root == "" || !filepath.IsAbs(root) {
		return "", false
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", false
	}
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return root, true
}
