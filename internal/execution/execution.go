// Package execution drives one task through a single download attempt:
// resolve (or reconstruct) the source, preallocate output, run the
// segmented transfer through the retry policy, and persist the terminal
// record on success. Pause/resume/cancel lifecycle decisions belong to the
// coordinator; execution only knows how to run and retry one attempt to
// completion or to a non-retryable error.
package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/flowdl/flowdl/internal/resolver"
	"github.com/flowdl/flowdl/internal/source"
	"github.com/flowdl/flowdl/internal/store"
	"github.com/flowdl/flowdl/internal/xlog"
)

// ResumeInfo carries the persisted state an execution needs to continue a
// task instead of starting fresh.
type ResumeInfo struct {
	Record   flowdl.TaskRecord
	Segments []flowdl.Segment
}

// Input bundles everything one Run call needs: the request, the mutable
// mid-flight knobs the coordinator can write to from outside, and the
// callbacks execution uses to report progress and read the handle's
// externally-imposed lifecycle state (Paused/Queued/Canceled), which is set
// by the coordinator before it cancels the run's context.
type Input struct {
	TaskID           string
	Request          flowdl.DownloadRequest
	Resume           *ResumeInfo
	MaxConnections   *source.MutableInt
	PendingResegment *source.MutableInt
	TaskThrottle     ratelimit.Throttle
	GlobalThrottle   ratelimit.Throttle
	OnProgress       func(flowdl.DownloadProgress)
	ObservedState    func() flowdl.DownloadState
}

// Executor wires the collaborators execution needs: a Source registry, the
// task store for persistence, and a FileAccessor opener.
type Executor struct {
	Resolver *resolver.Resolver
	Store    store.TaskStore
	OpenFile func(path string) (fileaccessor.FileAccessor, error)
	Cfg      *config.EngineConfig
}

// Run drives in's task to completion or to a terminal, non-retryable
// error, retrying retryable failures with backoff and, on HTTP 429,
// shrinking the live connection count before the next attempt. It returns
// the resolved output path on success.
func (e *Executor) Run(ctx context.Context, in Input) (string, error) {
	att, err := e.setup(ctx, in)
	if err != nil {
		return "", err
	}
	defer att.closeFile()

	if att.alreadyComplete {
		return att.outputPath, e.finish(att, in)
	}

	retryCount := 0
	first := true
	for {
		var runErr error
		if first && in.Resume != nil {
			runErr = att.src.Resume(ctx, att.sctx, att.resumeState)
		} else {
			runErr = att.src.Download(ctx, att.sctx)
		}
		first = false

		if runErr == nil {
			if err := e.finish(att, in); err != nil {
				return "", err
			}
			return att.outputPath, nil
		}

		if ctx.Err() != nil || errors.Is(runErr, flowdl.ErrCanceledByUser) {
			e.cleanupOnExit(att, in)
			return "", runErr
		}

		if !flowdl.IsRetryable(runErr) || retryCount >= e.Cfg.GetMaxTaskRetries() {
			e.cleanupOnExit(att, in)
			return "", runErr
		}

		retryCount++
		delay := e.retryDelay(runErr, retryCount)
		var httpErr *flowdl.HTTPError
		if errors.As(runErr, &httpErr) && httpErr.StatusCode == 429 {
			e.shrinkConnections(att, httpErr)
		}
		xlog.Debug("execution: task %s attempt %d failed (%v), retrying in %v", in.TaskID, retryCount, runErr, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.cleanupOnExit(att, in)
			return "", ctx.Err()
		}
	}
}

// retryDelay implements the backoff rule: a 429 with a known
// Retry-After wins outright, otherwise exponential backoff off the
// configured base delay.
func (e *Executor) retryDelay(err error, retryCount int) time.Duration {
	var httpErr *flowdl.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 && httpErr.RetryAfterSeconds > 0 {
		return time.Duration(httpErr.RetryAfterSeconds) * time.Second
	}
	base := e.Cfg.GetRetryDelay()
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}
	if max := config.RetryMaxDelay; delay > max {
		delay = max
	}
	return delay
}

// shrinkConnections publishes a reduced connection count per the 429
// handling rule: prefer the server-reported remaining count when it is
// tighter than the current count, otherwise halve it.
func (e *Executor) shrinkConnections(att *attempt, httpErr *flowdl.HTTPError) {
	current := len(att.sctx.Segments)
	if current == 0 {
		current = att.effectiveConnections(e.Cfg)
	}
	next := current / 2
	if httpErr.RateLimitRemaining >= 0 && httpErr.RateLimitRemaining < current {
		next = httpErr.RateLimitRemaining
	}
	if next < 1 {
		next = 1
	}
	if att.sctx.MaxConnections != nil {
		att.sctx.MaxConnections.Set(next)
	}
}

// cleanupOnExit deletes the partial output file unless the handle's
// observed state (set by the coordinator before cancellation, for pause or
// preemption) says to keep it.
func (e *Executor) cleanupOnExit(att *attempt, in Input) {
	if att.managesOwnFileIO {
		return
	}
	state := flowdl.StateFailed
	if in.ObservedState != nil {
		state = in.ObservedState()
	}
	switch state {
	case flowdl.StatePaused, flowdl.StateQueued, flowdl.StateCanceled:
		return
	default:
		if att.file != nil {
			if err := att.file.Delete(); err != nil {
				xlog.Debug("execution: failed to delete partial file for %s: %v", in.TaskID, err)
			}
		}
	}
}

// finish flushes and closes the file, builds the source's fresh resume
// snapshot, and persists the completed record.
func (e *Executor) finish(att *attempt, in Input) error {
	if !att.managesOwnFileIO && att.file != nil {
		if err := att.file.Flush(); err != nil {
			return &flowdl.DiskError{Path: att.outputPath, Err: err}
		}
	}

	record := att.record
	record.State = flowdl.StateCompleted
	record.OutputPath = att.outputPath
	record.DownloadedBytes = record.TotalBytes
	record.Segments = nil
	resume := att.src.BuildResumeState(att.resolved, record.TotalBytes)
	record.ResumeState = &resume
	record.UpdatedAt = now()

	if err := e.Store.Save(record); err != nil {
		return &flowdl.DiskError{Path: att.outputPath, Err: err}
	}
	if in.OnProgress != nil {
		in.OnProgress(flowdl.DownloadProgress{
			TaskID:          in.TaskID,
			State:           flowdl.StateCompleted,
			BytesTotal:      record.TotalBytes,
			BytesDownloaded: record.TotalBytes,
			UpdatedAt:       record.UpdatedAt,
		})
	}
	return nil
}

func now() time.Time { return time.Now() }

// attempt holds everything built once per Run call and reused across
// retries within it.
type attempt struct {
	src              source.Source
	sctx             *source.Context
	resolved         flowdl.ResolvedSource
	resumeState      flowdl.SourceResumeState
	record           flowdl.TaskRecord
	file             fileaccessor.FileAccessor
	managesOwnFileIO bool
	outputPath       string
	alreadyComplete  bool
}

func (a *attempt) closeFile() {
	if a.file != nil {
		a.file.Close()
	}
}

func (a *attempt) effectiveConnections(cfg *config.EngineConfig) int {
	return cfg.GetMaxConnsPerTask()
}

// setup builds the source, output path, file accessor and source.Context
// for either a fresh or a resuming attempt.
func (e *Executor) setup(ctx context.Context, in Input) (*attempt, error) {
	if in.Resume != nil {
		return e.setupResume(ctx, in)
	}
	return e.setupFresh(ctx, in)
}

func (e *Executor) setupFresh(ctx context.Context, in Input) (*attempt, error) {
	src, err := e.Resolver.ForURL(in.Request.URL)
	if err != nil {
		return nil, err
	}

	resolved, err := src.Resolve(ctx, in.Request.URL, in.Request)
	if err != nil {
		return nil, err
	}
	if resolved.File.Size < 0 {
		return nil, &flowdl.UnsupportedError{Reason: "server did not report a content length"}
	}

	outputPath := ResolveOutputPath(in.Request, resolved, e.Cfg)
	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		os.MkdirAll(dir, 0o755)
	}

	record := flowdl.TaskRecord{
		ID:         in.TaskID,
		Request:    in.Request,
		Resolved:   &resolved,
		OutputPath: outputPath,
		State:      flowdl.StateDownloading,
		TotalBytes: resolved.File.Size,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	if err := e.Store.Save(record); err != nil {
		return nil, &flowdl.DiskError{Path: outputPath, Err: err}
	}

	att := &attempt{
		src:              src,
		resolved:         resolved,
		record:           record,
		outputPath:       outputPath,
		managesOwnFileIO: src.ManagesOwnFileIO(),
	}

	if resolved.File.Size == 0 {
		if !att.managesOwnFileIO {
			f, err := e.OpenFile(outputPath)
			if err != nil {
				return nil, &flowdl.DiskError{Path: outputPath, Err: err}
			}
			att.file = f
		}
		att.alreadyComplete = true
		return att, nil
	}

	var file fileaccessor.FileAccessor
	if !att.managesOwnFileIO {
		file, err = e.OpenFile(outputPath)
		if err != nil {
			return nil, &flowdl.DiskError{Path: outputPath, Err: err}
		}
		att.file = file
	}

	att.sctx = &source.Context{
		TaskID:           in.TaskID,
		URL:              in.Request.URL,
		Request:          in.Request,
		Resolved:         resolved,
		File:             file,
		Headers:          in.Request.Headers,
		TaskThrottle:     in.TaskThrottle,
		GlobalLimit:      in.GlobalThrottle,
		MaxConnections:   in.MaxConnections,
		PendingResegment: in.PendingResegment,
		OnProgress:       e.progressAdapter(in, &att.record),
	}
	return att, nil
}

func (e *Executor) setupResume(ctx context.Context, in Input) (*attempt, error) {
	record := in.Resume.Record
	if record.OutputPath == "" {
		return nil, &flowdl.CorruptResumeStateError{TaskID: in.TaskID, Reason: "no persisted output path"}
	}
	if record.Resolved == nil {
		return nil, &flowdl.CorruptResumeStateError{TaskID: in.TaskID, Reason: "no persisted resolved source"}
	}

	sourceKind := record.Resolved.SourceKind
	src, err := e.Resolver.ForKind(sourceKind)
	if err != nil {
		return nil, err
	}

	resumeState := flowdl.SourceResumeState{}
	if record.ResumeState != nil {
		resumeState = *record.ResumeState
	} else {
		resumeState = src.BuildResumeState(*record.Resolved, record.TotalBytes)
	}

	att := &attempt{
		src:              src,
		resolved:         *record.Resolved,
		resumeState:      resumeState,
		record:           record,
		outputPath:       record.OutputPath,
		managesOwnFileIO: src.ManagesOwnFileIO(),
	}

	var file fileaccessor.FileAccessor
	if !att.managesOwnFileIO {
		file, err = e.OpenFile(record.OutputPath)
		if err != nil {
			return nil, &flowdl.DiskError{Path: record.OutputPath, Err: err}
		}
		att.file = file
	}

	att.sctx = &source.Context{
		TaskID:           in.TaskID,
		URL:              record.Request.URL,
		Request:          record.Request,
		Resolved:         *record.Resolved,
		File:             file,
		Segments:         in.Resume.Segments,
		Headers:          record.Request.Headers,
		TaskThrottle:     in.TaskThrottle,
		GlobalLimit:      in.GlobalThrottle,
		MaxConnections:   in.MaxConnections,
		PendingResegment: in.PendingResegment,
		OnProgress:       e.progressAdapter(in, &att.record),
	}
	return att, nil
}

// progressAdapter wraps a source.Progress callback into the observable
// DownloadProgress stream and a best-effort segment-snapshot persist, so
// both the periodic UI tick and the segment-saver's slower tick (both of
// which call through the same Source.Context.OnProgress hook) keep the
// durable record close to current.
func (e *Executor) progressAdapter(in Input, record *flowdl.TaskRecord) func(source.Progress) {
	return func(p source.Progress) {
		record.Segments = p.Segments
		record.DownloadedBytes = p.BytesDownloaded
		record.UpdatedAt = now()
		if err := e.Store.Save(*record); err != nil {
			xlog.Debug("execution: failed to persist progress for %s: %v", in.TaskID, err)
		}
		if in.OnProgress != nil {
			in.OnProgress(flowdl.DownloadProgress{
				TaskID:          in.TaskID,
				State:           flowdl.StateDownloading,
				BytesTotal:      p.BytesTotal,
				BytesDownloaded: p.BytesDownloaded,
				SpeedBytesPerS:  p.SpeedBytesPerS,
				Segments:        p.Segments,
				UpdatedAt:       record.UpdatedAt,
			})
		}
	}
}
