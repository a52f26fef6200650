package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [taskID]",
	Short: "Resume a paused or interrupted task and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
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
	if !rec.IsRestorable() {
		return fmt.Errorf("flowdl: task %s is in terminal state %s and cannot be resumed", taskID, rec.State)
	}

	h, err := engine.Restore(*rec)
	if err != nil {
		return fmt.Errorf("flowdl: restore %s: %w", taskID, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		engine.Pause(taskID)
	}()

	watchProgress(rec.Request.URL, h)
	return nil
}
