// Package cmd implements the lagsearch command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/config"
	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}

	appIdentity *config.AppIdentity
)

var rootCmd = &cobra.Command{
	Use:   "lagsearch",
	Short: "Search lagged regression model spaces",
	Long: `lagsearch enumerates every regression model that can be built from a set
of regressors and lag depths, fits them, and reports progress as it goes.

Run it as an HTTP service with "serve", or run a single search from a job
manifest with "run".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger("lagsearch", verbose)
		if appIdentity == nil {
			id := config.DefaultIdentity
			appIdentity = &id
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: lagsearch.yaml in the user config dir or project root)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	setDefaults()
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the app identity, or nil before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		observability.CLILogger.Error(exitErr.Message, zap.Error(exitErr.Err), zap.Int("exit_code", exitErr.Code))
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return exitErr.Code
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return foundry.ExitInvalidArgument
}
