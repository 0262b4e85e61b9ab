package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/lagsearch/pkg/series"
)

var transformInput string

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Apply a series transform",
	Long: `Apply a stateless series transform (diff_abs, diff_pct, normalize).

The request is read as JSON from --input or stdin and has the same shape as
the body of POST /series/transform. The transformed series is written to
stdout as {"result_data": [...]}.

Examples:
  echo '{"operation":"diff_abs","series_data":[["2024-01-01",1],["2024-02-01",4]]}' | lagsearch transform
  lagsearch transform --input normalize.json`,
	RunE: runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)
	transformCmd.Flags().StringVarP(&transformInput, "input", "i", "", "Request file (default: stdin)")
}

func runTransform(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if transformInput != "" && transformInput != "-" {
		f, err := os.Open(transformInput)
		if err != nil {
			if os.IsNotExist(err) {
				return exitError(foundry.ExitFileNotFound, "Input not found", err)
			}
			return exitError(foundry.ExitFileReadError, "Failed to open input", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var req series.TransformRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid transform request", err)
	}
	result, err := series.Apply(req)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Transform failed", err)
	}

	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"result_data": result}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write result", err)
	}
	return nil
}
