package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/flowdl/flowdl/internal/source"
)

// TaskHandle is the coordinator's exclusive owner of one task's mutable
// state stream and segment list, for the lifetime of that task (created on
// Submit/Restore, destroyed on Remove). It is safe for concurrent use: the
// running execution publishes progress through it from a worker goroutine
// while the coordinator's public API reads and mutates it from callers.
type TaskHandle struct {
	id      string
	request flowdl.DownloadRequest

	mu          sync.Mutex
	state       flowdl.DownloadState
	segments    []flowdl.Segment
	total       int64
	downloaded  int64
	speed       float64
	outputPath  string
	lastErr     error
	createdAt   time.Time
	started     bool
	restoring   bool
	cancelFn    context.CancelFunc
	subscribers []chan flowdl.DownloadProgress

	MaxConnections   *source.MutableInt
	PendingResegment *source.MutableInt
	Limiter          *ratelimit.Delegating
}

func newHandle(id string, req flowdl.DownloadRequest, limiter *ratelimit.Delegating) *TaskHandle {
	return &TaskHandle{
		id:               id,
		request:          req,
		state:            flowdl.StateQueued,
		createdAt:        time.Now(),
		MaxConnections:   source.NewMutableInt(),
		PendingResegment: source.NewMutableInt(),
		Limiter:          limiter,
	}
}

// ID returns the task's stable identifier.
func (h *TaskHandle) ID() string { return h.id }

// CreatedAt is used by the queue for FIFO ordering and preemption
// tie-breaking.
func (h *TaskHandle) CreatedAt() time.Time { return h.createdAt }

// Request returns a copy of the task's current request (speed limit and
// connection overrides may have been updated since submission).
func (h *TaskHandle) Request() flowdl.DownloadRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.request
}

// State returns the handle's current observable lifecycle state.
func (h *TaskHandle) State() flowdl.DownloadState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Segments returns a snapshot of the task's current segment list, used to
// persist a resume point on pause or crash.
func (h *TaskHandle) Segments() []flowdl.Segment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]flowdl.Segment(nil), h.segments...)
}

func (h *TaskHandle) setState(s flowdl.DownloadState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *TaskHandle) setCancel(fn context.CancelFunc) {
	h.mu.Lock()
	h.cancelFn = fn
	h.mu.Unlock()
}

func (h *TaskHandle) cancel() {
	h.mu.Lock()
	fn := h.cancelFn
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *TaskHandle) markStarted() (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	first = !h.started
	h.started = true
	return first
}

// markRestoring flags the handle as reconstructed from a persisted record,
// so its first run attempts a resume instead of a fresh resolve.
func (h *TaskHandle) markRestoring() {
	h.mu.Lock()
	h.restoring = true
	h.mu.Unlock()
}

// consumeRestoring reports and clears the restoring flag; only the first
// run after Restore should attempt to reconstruct a resume.
func (h *TaskHandle) consumeRestoring() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.restoring
	h.restoring = false
	return v
}

func (h *TaskHandle) setOutputPath(p string) {
	h.mu.Lock()
	h.outputPath = p
	h.mu.Unlock()
}

// OutputPath returns the task's resolved destination path, empty until the
// first attempt has resolved a source.
func (h *TaskHandle) OutputPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputPath
}

func (h *TaskHandle) setRequest(req flowdl.DownloadRequest) {
	h.mu.Lock()
	h.request = req
	h.mu.Unlock()
}

func (h *TaskHandle) setErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// Subscribe returns a buffered channel of future progress updates. Callers
// should drain it; slow readers drop stale updates rather than blocking the
// download.
func (h *TaskHandle) Subscribe(buffer int) <-chan flowdl.DownloadProgress {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan flowdl.DownloadProgress, buffer)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

// publish fans a progress update out to every subscriber and updates the
// handle's own snapshot fields, used both by the execution callback and by
// the coordinator's own lifecycle transitions (pause/cancel/preempt).
func (h *TaskHandle) publish(p flowdl.DownloadProgress) {
	h.mu.Lock()
	h.state = p.State
	if p.Segments != nil {
		h.segments = p.Segments
	}
	h.total = p.BytesTotal
	h.downloaded = p.BytesDownloaded
	h.speed = p.SpeedBytesPerS
	subs := append([]chan flowdl.DownloadProgress(nil), h.subscribers...)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// snapshotProgress builds a DownloadProgress from the handle's current
// fields, used to publish a state transition (e.g. Paused, Canceled) that
// didn't come through the execution progress callback.
func (h *TaskHandle) snapshotProgress(state flowdl.DownloadState) flowdl.DownloadProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	return flowdl.DownloadProgress{
		TaskID:          h.id,
		State:           state,
		BytesTotal:      h.total,
		BytesDownloaded: h.downloaded,
		SpeedBytesPerS:  h.speed,
		Segments:        append([]flowdl.Segment(nil), h.segments...),
		Err:             h.lastErr,
		UpdatedAt:       time.Now(),
	}
}
