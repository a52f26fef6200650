package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/ratelimit"
)

var (
	flagOutputDir   string
	flagConnections int
	flagLimit       string
	flagPriority    string
)

var getCmd = &cobra.Command{
	Use:     "get [url]...",
	Aliases: []string{"add"},
	Short:   "Download one or more URLs, printing progress until they finish",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runGet,
}

func init() {
	getCmd.Flags().StringVarP(&flagOutputDir, "dir", "d", "", "destination directory (default: engine default)")
	getCmd.Flags().IntVarP(&flagConnections, "connections", "c", 0, "segments per download (0 = engine default)")
	getCmd.Flags().StringVarP(&flagLimit, "limit", "l", "", `per-task speed limit, e.g. "500K", "2M", "unlimited"`)
	getCmd.Flags().StringVarP(&flagPriority, "priority", "p", "normal", "low|normal|high|urgent")
}

func runGet(cmd *cobra.Command, urls []string) error {
	if err := ensureParentDir(flagStorePath); err != nil {
		return fmt.Errorf("flowdl: prepare store directory: %w", err)
	}

	priority, err := parsePriority(flagPriority)
	if err != nil {
		return err
	}
	limitBps, err := ratelimit.ParseSpeedLimit(flagLimit)
	if err != nil {
		return fmt.Errorf("flowdl: parse --limit: %w", err)
	}

	engine, err := flowdl.New(
		flowdl.WithConfig(&flowdl.EngineConfig{StorePath: flagStorePath, DebugLog: flagDebugLog}),
	)
	if err != nil {
		return fmt.Errorf("flowdl: start engine: %w", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	taskIDs := make([]string, 0, len(urls))
	for _, u := range urls {
		h, err := engine.Submit(flowdl.DownloadRequest{
			URL:            u,
			OutputDir:      flagOutputDir,
			MaxConnections: flagConnections,
			SpeedLimit:     flowdl.LimitBytesPerSecond(limitBps),
			Priority:       priority,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "flowdl: submit %s: %v\n", u, err)
			continue
		}
		taskIDs = append(taskIDs, h.ID())
		wg.Add(1)
		go func(u string, h *flowdl.Handle) {
			defer wg.Done()
			watchProgress(u, h)
		}(u, h)
	}

	go func() {
		<-ctx.Done()
		for _, id := range taskIDs {
			engine.Pause(id)
		}
	}()

	wg.Wait()
	return nil
}

// watchProgress prints a throttled progress line per task, the same
// percent-bucketed style the teacher's headless mode uses so a long
// transfer doesn't flood the terminal.
func watchProgress(url string, h *flowdl.Handle) {
	ch := h.Subscribe(16)
	start := time.Now()
	lastBucket := -1
	for p := range ch {
		if p.BytesTotal > 0 {
			bucket := int(p.BytesDownloaded * 10 / p.BytesTotal)
			if bucket != lastBucket {
				lastBucket = bucket
				fmt.Fprintf(os.Stderr, "%s: %d%% (%s) - %.2f MB/s\n",
					url, bucket*10, humanBytes(p.BytesDownloaded), p.SpeedBytesPerS/(1024*1024))
			}
		}
		switch p.State {
		case flowdl.StateCompleted:
			fmt.Fprintf(os.Stderr, "%s: complete in %s\n", url, time.Since(start).Round(time.Millisecond))
			return
		case flowdl.StateFailed:
			fmt.Fprintf(os.Stderr, "%s: failed: %v\n", url, p.Err)
			return
		case flowdl.StatePaused, flowdl.StateCanceled:
			return
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func parsePriority(s string) (flowdl.DownloadPriority, error) {
	switch s {
	case "low":
		return flowdl.PriorityLow, nil
	case "normal", "":
		return flowdl.PriorityNormal, nil
	case "high":
		return flowdl.PriorityHigh, nil
	case "urgent":
		return flowdl.PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("flowdl: invalid --priority %q (want low|normal|high|urgent)", s)
	}
}
