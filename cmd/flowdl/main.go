// Command flowdl is a minimal reference CLI over the flowdl engine: enough
// to submit, list, pause, resume, and cancel downloads from a shell. It is
// a collaborator exercising the library, not part of the library itself.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	flagStorePath string
	flagDebugLog  string
)

var rootCmd = &cobra.Command{
	Use:   "flowdl",
	Short: "A concurrent, resumable download engine",
	Long:  `flowdl drives resumable HTTP(S) and BitTorrent transfers under rate and concurrency limits.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagStorePath, "db", defaultStorePath(), "path to the task-record database")
	rootCmd.PersistentFlags().StringVar(&flagDebugLog, "debug-log", "", "path to the debug log (default: flowdl-debug.log in the working directory)")

	rootCmd.AddCommand(getCmd, lsCmd, pauseCmd, resumeCmd, rmCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultStorePath places the task database under the user's config
// directory, the same per-user location teacher tools use for their
// single-instance state.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "flowdl.db"
	}
	return filepath.Join(dir, "flowdl", "tasks.db")
}

func ensureParentDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
