package cmd

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	// Reset viper for clean test
	v := viper.New()
	viper.Reset()
	defer func() {
		// Restore defaults
		viper.Reset()
		_ = v
	}()

	// Call setDefaults
	setDefaults()

	// Verify server defaults
	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	// Verify logging defaults
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	// Verify health defaults
	assert.True(t, viper.GetBool("health.enabled"))

	// Verify search defaults
	assert.Equal(t, 1, viper.GetInt("search.workers"))
	assert.Equal(t, "2s", viper.GetString("search.pause_poll_interval"))
	assert.Equal(t, "1500ms", viper.GetString("search.stop_grace"))
	assert.Equal(t, int64(1000000), viper.GetInt64("search.max_models"))
	assert.Zero(t, viper.GetFloat64("search.rate_limit"))

	// Verify executor defaults
	assert.Equal(t, "native", viper.GetString("executor.kind"))
	assert.Empty(t, viper.GetString("executor.command"))
	assert.Equal(t, 64<<20, viper.GetInt("executor.max_line_bytes"))
}

func TestExecute_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit code error", exitError(foundry.ExitFileNotFound, "Manifest not found", os.ErrNotExist), foundry.ExitFileNotFound},
		{"wrapped exit code error", fmt.Errorf("outer: %w", exitError(foundry.ExitSignalInt, "Search interrupted", nil)), foundry.ExitSignalInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitErr *ExitCodeError
			require.ErrorAs(t, tt.err, &exitErr)
			assert.Equal(t, tt.want, exitErr.Code)
		})
	}
}

func TestExitCodeError_Message(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", errors.New("bad version"))
	assert.Contains(t, err.Error(), "Invalid manifest: bad version")
	assert.ErrorContains(t, exitError(2, "Stopped", nil), "Stopped (exit code 2)")
}
