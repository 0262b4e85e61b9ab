package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	version, commit := versionInfo.Version, versionInfo.Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		if commit == "unknown" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}

	_, _ = fmt.Fprintf(w, "lagsearch: %s\n", version)
	_, _ = fmt.Fprintf(w, "commit:    %s\n", commit)
	_, _ = fmt.Fprintf(w, "built:     %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(w, "go:        %s\n", runtime.Version())
	if v := crucible.GetVersion(); v.Gofulmen != "" {
		_, _ = fmt.Fprintf(w, "gofulmen:  %s\n", v.Gofulmen)
	}
}
