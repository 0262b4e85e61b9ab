package cmd

import (
	"encoding/json"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/pkg/manifest"
)

var planJobPath string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how many models a job manifest would search",
	Long: `Validate a job manifest and print the search plan as JSON without
fitting anything.

Examples:
  lagsearch plan --job search.yaml`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planJobPath, "job", "j", "", "Path to search-job manifest (required)")
	_ = planCmd.MarkFlagRequired("job")
}

func runPlan(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(planJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest", zap.String("path", planJobPath), zap.Error(err))
		return manifestExitError(err)
	}
	req, err := m.Request()
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
	controller, err := newController(cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid executor configuration", err)
	}

	plan, err := controller.Plan(req)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid search", err)
	}

	out := cmd.OutOrStdout()
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
	}
	return nil
}
