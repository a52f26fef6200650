// Package source defines the pluggable transfer-protocol abstraction: every
// supported protocol (HTTP, torrent, ...) implements Source, and the
// resolver (internal/resolver) routes a request to the right one by URL
// scheme.
package source

import (
	"context"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/ratelimit"
)

// Progress is how a Source reports byte-level advancement back to the
// execution layer, which folds it into the observable DownloadProgress
// stream and the persisted segment snapshot.
type Progress struct {
	Segments        []flowdl.Segment
	BytesDownloaded int64
	BytesTotal      int64
	SpeedBytesPerS  float64
}

// Context bundles everything a Source needs to run one download attempt.
// MaxConnections and PendingResegment are mutable cells the coordinator
// writes to from outside the running attempt to drive live resegmentation
// without rebuilding it.
type Context struct {
	TaskID       string
	URL          string
	Request      flowdl.DownloadRequest
	Resolved     flowdl.ResolvedSource // populated for a fresh attempt; informs initial segment planning
	File         fileaccessor.FileAccessor
	Segments     []flowdl.Segment
	Headers      map[string]string
	TaskThrottle ratelimit.Throttle
	GlobalLimit  ratelimit.Throttle
	OnProgress   func(Progress)

	MaxConnections   *MutableInt
	PendingResegment *MutableInt
}

// MutableInt is a concurrency-safe mutable cell with a change-notification
// channel, used for the engine's "mutable mid-flight knobs" (maxConnections,
// pendingResegment) per the coordinator's live-resegmentation contract.
type MutableInt struct {
	ch chan int
}

// NewMutableInt builds a cell holding at most one pending value: Watch always
// observes the most recently Set value, never a stale queued one.
func NewMutableInt() *MutableInt {
	return &MutableInt{ch: make(chan int, 1)}
}

// Set stores a new value, dropping any unobserved previous value so
// watchers always see the latest.
func (m *MutableInt) Set(v int) {
	for {
		select {
		case m.ch <- v:
			return
		default:
			select {
			case <-m.ch:
			default:
			}
		}
	}
}

// Watch returns a channel that yields values set via Set. The caller
// should select on it alongside ctx.Done().
func (m *MutableInt) Watch() <-chan int { return m.ch }

// Source is a pluggable transfer protocol implementation.
type Source interface {
	Kind() string
	// ManagesOwnFileIO reports whether the engine should skip creating and
	// cleaning up a FileAccessor for this source (e.g. a torrent backend
	// that writes its own files).
	ManagesOwnFileIO() bool
	CanHandle(url string) bool
	Resolve(ctx context.Context, url string, req flowdl.DownloadRequest) (flowdl.ResolvedSource, error)
	Download(ctx context.Context, sctx *Context) error
	Resume(ctx context.Context, sctx *Context, resume flowdl.SourceResumeState) error
	BuildResumeState(resolved flowdl.ResolvedSource, totalBytes int64) flowdl.SourceResumeState
	// UpdateResumeState optionally produces a periodic snapshot; returns ok=false
	// when the source has nothing new to persist.
	UpdateResumeState(ctx *Context) (flowdl.SourceResumeState, bool)
}
