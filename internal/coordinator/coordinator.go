// Package coordinator owns task lifecycle above a single download attempt:
// admission through the queue, starting and retrying an execution.Executor
// run, and the pause/resume/cancel/preempt transitions an embedder drives
// through the top-level engine. internal/execution knows how to run one
// attempt to completion or a non-retryable error; coordinator decides when
// an attempt starts, when it must yield, and what its terminal state means.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/execution"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/queue"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/flowdl/flowdl/internal/resolver"
	"github.com/flowdl/flowdl/internal/store"
	"github.com/flowdl/flowdl/internal/xlog"
)

// Coordinator tracks every known task's TaskHandle, admits tasks through a
// queue.Queue, and drives execution.Executor runs for admitted tasks.
type Coordinator struct {
	store    store.TaskStore
	global   *ratelimit.Limiter
	executor *execution.Executor
	q        *queue.Queue

	mu      sync.Mutex
	tasks   map[string]*TaskHandle
	closing bool

	schedMu   sync.Mutex
	scheduled map[string]*time.Timer
}

// New wires a Coordinator over the given resolver, store, global limiter,
// and engine configuration. openFile is used by the executor to obtain a
// fileaccessor.FileAccessor for non-self-managed sources.
func New(cfg *config.EngineConfig, res *resolver.Resolver, st store.TaskStore, global *ratelimit.Limiter, openFile func(string) (fileaccessor.FileAccessor, error)) *Coordinator {
	c := &Coordinator{
		store:     st,
		global:    global,
		tasks:     make(map[string]*TaskHandle),
		scheduled: make(map[string]*time.Timer),
	}
	c.executor = &execution.Executor{
		Resolver: res,
		Store:    st,
		OpenFile: openFile,
		Cfg:      cfg,
	}
	c.q = queue.New(cfg.GetMaxConcurrentTasks(), cfg.GetMaxConnsPerHost(), c.onQueueStart, c.onQueuePreempt)
	return c
}

// Submit registers a new task and, once its schedule is ready, admits it
// through the queue. The returned handle is live immediately so callers can
// Subscribe before the task actually starts running.
func (c *Coordinator) Submit(req flowdl.DownloadRequest) (*TaskHandle, error) {
	if req.URL == "" {
		return nil, &flowdl.ValidationFailedError{Field: "URL", Reason: "must not be empty"}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	limiter := ratelimit.NewDelegating(c.perTaskThrottle(req.SpeedLimit))
	h := newHandle(req.ID, req, limiter)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, errors.New("coordinator: shutting down")
	}
	c.tasks[req.ID] = h
	c.mu.Unlock()

	c.scheduleAdmit(h, time.Now())
	return h, nil
}

// Restore re-admits a persisted, restorable task record (e.g. after process
// restart) using its saved segments and resume state.
func (c *Coordinator) Restore(rec flowdl.TaskRecord) (*TaskHandle, error) {
	if !rec.IsRestorable() {
		return nil, fmt.Errorf("coordinator: task %s is not restorable from state %s", rec.ID, rec.State)
	}

	limiter := ratelimit.NewDelegating(c.perTaskThrottle(rec.Request.SpeedLimit))
	h := newHandle(rec.ID, rec.Request, limiter)
	h.setOutputPath(rec.OutputPath)
	h.markRestoring()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, errors.New("coordinator: shutting down")
	}
	c.tasks[rec.ID] = h
	c.mu.Unlock()

	c.scheduleAdmit(h, time.Now())
	return h, nil
}

// scheduleAdmit enqueues h immediately, or arms a timer to enqueue it once
// its DownloadSchedule becomes ready. A reschedule of an already-timed task
// replaces the pending timer rather than stacking another one.
func (c *Coordinator) scheduleAdmit(h *TaskHandle, submitted time.Time) {
	req := h.Request()
	ready := req.Schedule.ReadyAt(submitted)
	delay := time.Until(ready)

	c.schedMu.Lock()
	if t, ok := c.scheduled[h.id]; ok {
		t.Stop()
		delete(c.scheduled, h.id)
	}
	if delay <= 0 {
		c.schedMu.Unlock()
		c.enqueue(h)
		return
	}
	h.setState(flowdl.StateScheduled)
	c.scheduled[h.id] = time.AfterFunc(delay, func() {
		c.schedMu.Lock()
		delete(c.scheduled, h.id)
		c.schedMu.Unlock()
		c.enqueue(h)
	})
	c.schedMu.Unlock()
}

func (c *Coordinator) enqueue(h *TaskHandle) {
	if req := h.Request(); req.Condition != nil && !req.Condition() {
		c.schedMu.Lock()
		c.scheduled[h.id] = time.AfterFunc(config.ConditionPollInterval, func() {
			c.schedMu.Lock()
			delete(c.scheduled, h.id)
			c.schedMu.Unlock()
			c.enqueue(h)
		})
		c.schedMu.Unlock()
		return
	}
	h.setState(flowdl.StateQueued)
	req := h.Request()
	c.q.Enqueue(&queue.Entry{
		TaskID:    h.id,
		Host:      queue.HostOf(req.URL),
		Priority:  req.Priority,
		CreatedAt: h.CreatedAt(),
	})
}

// onQueueStart is the queue's admission callback: it runs a task's
// execution in its own goroutine so the queue's lock is never held across
// a download.
func (c *Coordinator) onQueueStart(entry *queue.Entry) {
	h := c.handle(entry.TaskID)
	if h == nil {
		c.q.Release(entry.TaskID)
		return
	}
	go c.runTask(h, entry.PreferResume)
}

// onQueuePreempt is the queue's preemption callback: it must mark the
// victim Paused (so execution's exit cleanup keeps its partial file) and
// cancel its running context. The queue has already re-added the victim to
// its waiting list with PreferResume set by the time this runs.
func (c *Coordinator) onQueuePreempt(taskID string) {
	h := c.handle(taskID)
	if h == nil {
		return
	}
	h.publish(h.snapshotProgress(flowdl.StatePaused))
	h.cancel()
}

func (c *Coordinator) runTask(h *TaskHandle, preferResume bool) {
	ctx, cancel := context.WithCancel(context.Background())
	h.setCancel(cancel)
	defer cancel()

	first := h.markStarted()
	h.publish(h.snapshotProgress(flowdl.StateDownloading))

	in := execution.Input{
		TaskID:           h.id,
		Request:          h.Request(),
		MaxConnections:   h.MaxConnections,
		PendingResegment: h.PendingResegment,
		TaskThrottle:     h.Limiter,
		GlobalThrottle:   c.global,
		OnProgress:       h.publish,
		ObservedState:    h.State,
	}

	if preferResume || !first || h.consumeRestoring() {
		if resume, err := c.buildResumeInfo(h); err == nil {
			in.Resume = resume
		}
	}

	outputPath, err := c.executor.Run(ctx, in)
	c.q.Release(h.id)

	if err != nil {
		c.finishWithError(h, ctx, err)
		return
	}

	h.setOutputPath(outputPath)
	h.publish(h.snapshotProgress(flowdl.StateCompleted))
}

func (c *Coordinator) finishWithError(h *TaskHandle, ctx context.Context, err error) {
	h.setErr(err)
	canceled := errors.Is(err, context.Canceled) || errors.Is(err, flowdl.ErrCanceledByUser)
	if !canceled {
		h.publish(h.snapshotProgress(flowdl.StateFailed))
		xlog.Debug("coordinator: task %s failed: %v", h.id, err)
		return
	}
	// The coordinator sets the observable state to Paused or Queued before
	// canceling a run's context (pause, preemption); a cancellation that
	// lands in any other state means it was a genuine Cancel.
	switch h.State() {
	case flowdl.StatePaused, flowdl.StateQueued:
		h.publish(h.snapshotProgress(h.State()))
	default:
		h.publish(h.snapshotProgress(flowdl.StateCanceled))
	}
}

func (c *Coordinator) buildResumeInfo(h *TaskHandle) (*execution.ResumeInfo, error) {
	rec, err := c.store.Load(h.id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Resolved == nil {
		return nil, fmt.Errorf("coordinator: no resumable record for %s", h.id)
	}
	segments := h.Segments()
	if len(segments) == 0 {
		segments = rec.Segments
	}
	return &execution.ResumeInfo{Record: *rec, Segments: segments}, nil
}

func (c *Coordinator) perTaskThrottle(limit flowdl.SpeedLimit) ratelimit.Throttle {
	if limit.IsUnlimited() {
		return ratelimit.Unlimited()
	}
	return ratelimit.New(limit.BytesPerSecond())
}

func (c *Coordinator) handle(taskID string) *TaskHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[taskID]
}

// Pause stops a queued or running task's current attempt; its segment
// progress is preserved and it is not re-enqueued. Resume reactivates it.
func (c *Coordinator) Pause(taskID string) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	if h.State().Terminal() {
		return fmt.Errorf("coordinator: task %s is already in a terminal state", taskID)
	}
	// Setting the observable state before canceling ensures the run's own
	// exit handling sees Paused, not a default Failed, and keeps the
	// partial file.
	h.publish(h.snapshotProgress(flowdl.StatePaused))
	c.persistState(taskID, flowdl.StatePaused, h.Segments())
	if c.q.RemoveQueued(taskID) {
		return nil
	}
	h.cancel()
	return nil
}

// persistState best-effort updates a task's persisted record's state and
// segment snapshot, leaving every other field untouched.
func (c *Coordinator) persistState(taskID string, state flowdl.DownloadState, segments []flowdl.Segment) {
	rec, err := c.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	rec.State = state
	rec.Segments = segments
	rec.UpdatedAt = time.Now()
	if err := c.store.Save(*rec); err != nil {
		xlog.Debug("coordinator: failed to persist state for %s: %v", taskID, err)
	}
}

// Resume reactivates a paused task, re-admitting it through the queue with
// PreferResume behavior (its last-known segments and resume state are
// reused rather than re-resolving from scratch).
func (c *Coordinator) Resume(taskID string) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	if h.State() != flowdl.StatePaused {
		return fmt.Errorf("coordinator: task %s is not paused", taskID)
	}
	h.publish(h.snapshotProgress(flowdl.StateQueued))
	c.persistState(taskID, flowdl.StateDownloading, h.Segments())
	req := h.Request()
	c.q.Enqueue(&queue.Entry{
		TaskID:       h.id,
		Host:         queue.HostOf(req.URL),
		Priority:     req.Priority,
		CreatedAt:    h.CreatedAt(),
		PreferResume: true,
	})
	return nil
}

// Cancel terminates a task permanently; unlike Pause, a canceled task
// cannot be resumed. Its partial output file is left on disk.
func (c *Coordinator) Cancel(taskID string) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	c.schedMu.Lock()
	if t, ok := c.scheduled[taskID]; ok {
		t.Stop()
		delete(c.scheduled, taskID)
	}
	c.schedMu.Unlock()

	h.publish(h.snapshotProgress(flowdl.StateCanceled))
	c.persistState(taskID, flowdl.StateCanceled, nil)
	if c.q.RemoveQueued(taskID) {
		return nil
	}
	h.cancel()
	return nil
}

// SetTaskSpeedLimit changes a running or queued task's per-task bandwidth
// cap without interrupting its transfer.
func (c *Coordinator) SetTaskSpeedLimit(taskID string, limit flowdl.SpeedLimit) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	h.Limiter.SetDelegate(c.perTaskThrottle(limit))
	req := h.Request()
	req.SpeedLimit = limit
	h.setRequest(req)
	return nil
}

// SetTaskConnections adjusts a running task's target connection count; the
// change is observed live by the source's resegmentation watcher.
func (c *Coordinator) SetTaskConnections(taskID string, n int) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	if n < 1 {
		n = 1
	}
	h.MaxConnections.Set(n)
	h.PendingResegment.Set(n)
	req := h.Request()
	req.MaxConnections = n
	h.setRequest(req)
	return nil
}

// SetPriority reorders a still-queued task and is a no-op for an active one.
func (c *Coordinator) SetPriority(taskID string, priority flowdl.DownloadPriority) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	c.q.SetPriority(taskID, priority)
	req := h.Request()
	req.Priority = priority
	h.setRequest(req)
	return nil
}

// Observe subscribes to a task's progress stream.
func (c *Coordinator) Observe(taskID string) (<-chan flowdl.DownloadProgress, error) {
	h := c.handle(taskID)
	if h == nil {
		return nil, fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	return h.Subscribe(16), nil
}

// State returns a task's current lifecycle state.
func (c *Coordinator) State(taskID string) (flowdl.DownloadState, error) {
	h := c.handle(taskID)
	if h == nil {
		return 0, fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	return h.State(), nil
}

// List returns the task IDs the coordinator currently knows about.
func (c *Coordinator) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tasks))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a terminal task's handle from the coordinator's in-memory
// tracking; it does not touch the persisted record.
func (c *Coordinator) Remove(taskID string) error {
	h := c.handle(taskID)
	if h == nil {
		return fmt.Errorf("coordinator: unknown task %s", taskID)
	}
	if !h.State().Terminal() {
		return fmt.Errorf("coordinator: task %s is not in a terminal state", taskID)
	}
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
	return nil
}

// Close cancels every in-flight task and stops accepting new submissions.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closing = true
	handles := make([]*TaskHandle, 0, len(c.tasks))
	for _, h := range c.tasks {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	c.schedMu.Lock()
	for id, t := range c.scheduled {
		t.Stop()
		delete(c.scheduled, id)
	}
	c.schedMu.Unlock()

	for _, h := range handles {
		if !h.State().Terminal() {
			h.cancel()
		}
	}
	return nil
}
