package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowdl/flowdl"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [taskID]",
	Short: "Mark a task paused in the task store",
	Long: `Pause a task by ID. A running transfer lives only inside the
process that started it (this CLI has no background daemon), so this
updates the persisted record directly: the next "flowdl resume" picks up
from the segments already recorded. To pause a transfer mid-flight, send
SIGINT to the "flowdl get"/"flowdl resume" process running it instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runPause,
}

func runPause(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	rec, err := engine.Record(taskID)
	if err != nil {
		return fmt.Errorf("flowdl: load %s: %w", taskID, err)
	}
	if rec == nil {
		return fmt.Errorf("flowdl: no record for %s", taskID)
	}
	if rec.IsTerminal() {
		return fmt.Errorf("flowdl: task %s is already in a terminal state (%s)", taskID, rec.State)
	}

	rec.State = flowdl.StatePaused
	rec.UpdatedAt = time.Now()
	// Persisting directly through the Engine's store: no in-memory handle
	// exists for this task in this process, so there is nothing to cancel.
	if err := engine.SaveRecord(*rec); err != nil {
		return fmt.Errorf("flowdl: pause %s: %w", taskID, err)
	}
	fmt.Printf("Paused %s (offline)\n", taskID)
	return nil
}
