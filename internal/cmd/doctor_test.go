package cmd

import (
	"context"
	"runtime"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lagsearch/pkg/manifest"
)

func TestDoctorChecks(t *testing.T) {
	checks := doctorChecks()
	require.NotEmpty(t, checks)

	names := make(map[string]bool, len(checks))
	for _, c := range checks {
		require.NotNil(t, c.Run, c.Name)
		names[c.Name] = true
		if c.Fatal {
			assert.NotZero(t, c.ExitCode, c.Name)
		}
	}
	assert.True(t, names["configuration"])
	assert.True(t, names["manifest schema"])
}

func TestCheckEnvironment(t *testing.T) {
	res := checkEnvironment(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, res.Detail)
}

func TestCheckManifestSchema(t *testing.T) {
	res := checkManifestSchema(context.Background())
	require.True(t, res.OK, "%v", res.Err)
	assert.Equal(t, manifest.SchemaID, res.Detail)
}

func TestCheckConfiguration(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		res := checkConfiguration(context.Background())
		require.True(t, res.OK, "%v", res.Err)
		assert.Equal(t, "executor native", res.Detail)
	})

	t.Run("process executor with missing worker", func(t *testing.T) {
		t.Setenv("LAGSEARCH_EXECUTOR", "process")
		t.Setenv("LAGSEARCH_EXECUTOR_COMMAND", "lagsearch-worker-does-not-exist")
		res := checkConfiguration(context.Background())
		assert.False(t, res.OK)
		assert.Error(t, res.Err)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		t.Setenv("LAGSEARCH_WORKERS", "0")
		res := checkConfiguration(context.Background())
		assert.False(t, res.OK)
		assert.Error(t, res.Err)
	})
}

func TestRunDoctor_FatalCheckExits(t *testing.T) {
	t.Setenv("LAGSEARCH_EXECUTOR", "bogus")

	err := runDoctor(doctorCmd, nil)
	require.Error(t, err)
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, foundry.ExitInvalidArgument, exitErr.Code)
}
