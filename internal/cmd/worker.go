package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/lagsearch/internal/observability"
	"github.com/3leaps/lagsearch/pkg/executor"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve fits over stdin/stdout (used by the process executor)",
	Hidden: true,
	Long: `Serve fits over stdin/stdout.

The worker reads one init record with the dataset, answers with a ready
record, then answers every fit record with a result record. Logs go to
stderr. It exits when stdin closes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := executor.Serve(ctx, os.Stdin, os.Stdout, observability.CLILogger.Named("worker")); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Worker failed", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
