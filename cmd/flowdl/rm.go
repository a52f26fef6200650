package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowdl/flowdl"
)

var flagClean bool

var rmCmd = &cobra.Command{
	Use:     "rm [taskID]",
	Aliases: []string{"cancel"},
	Short:   "Remove a task's record, or every completed one with --clean",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runRm,
}

func init() {
	rmCmd.Flags().BoolVar(&flagClean, "clean", false, "remove every completed task instead of one by ID")
}

func runRm(cmd *cobra.Command, args []string) error {
	if !flagClean && len(args) == 0 {
		return fmt.Errorf("flowdl: provide a task ID or use --clean")
	}

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if flagClean {
		records, err := engine.Records()
		if err != nil {
			return fmt.Errorf("flowdl: list records: %w", err)
		}
		removed := 0
		for _, rec := range records {
			if rec.State == flowdl.StateCompleted {
				if err := engine.Forget(rec.ID); err != nil {
					return fmt.Errorf("flowdl: remove %s: %w", rec.ID, err)
				}
				removed++
			}
		}
		fmt.Printf("Removed %d completed task(s)\n", removed)
		return nil
	}

	taskID := args[0]
	if err := engine.Forget(taskID); err != nil {
		return fmt.Errorf("flowdl: remove %s: %w", taskID, err)
	}
	fmt.Printf("Removed %s\n", taskID)
	return nil
}
