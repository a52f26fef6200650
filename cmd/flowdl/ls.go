package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowdl/flowdl"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every known task record",
	RunE:  runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	records, err := engine.Records()
	if err != nil {
		return fmt.Errorf("flowdl: list records: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPROGRESS\tURL")
	for _, rec := range records {
		progress := "-"
		if rec.TotalBytes > 0 {
			progress = fmt.Sprintf("%d%%", rec.DownloadedBytes*100/rec.TotalBytes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.State, progress, rec.Request.URL)
	}
	return tw.Flush()
}

// openEngine builds an Engine over the shared CLI store/debug-log flags
// without registering live source transports beyond the defaults; every
// subcommand but get only needs store access through it.
func openEngine() (*flowdl.Engine, error) {
	if err := ensureParentDir(flagStorePath); err != nil {
		return nil, fmt.Errorf("flowdl: prepare store directory: %w", err)
	}
	engine, err := flowdl.New(
		flowdl.WithConfig(&flowdl.EngineConfig{StorePath: flagStorePath, DebugLog: flagDebugLog}),
	)
	if err != nil {
		return nil, fmt.Errorf("flowdl: start engine: %w", err)
	}
	return engine, nil
}
