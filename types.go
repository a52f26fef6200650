// Package flowdl implements an embeddable, concurrent, resumable download
// engine over HTTP(S) and BitTorrent, coordinating segment-level workers
// under per-task and global bandwidth limits and host concurrency caps.
package flowdl

import (
	"encoding/json"
	"fmt"
	"time"
)

// DownloadPriority orders tasks within the queue. Higher values run first;
// Urgent additionally preempts a running lower-priority task's queue slot.
type DownloadPriority int

const (
	PriorityLow DownloadPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// SpeedLimit is a sum type: either no cap, or a cap in bytes per second.
type SpeedLimit struct {
	unlimited    bool
	bytesPerSec  int64
}

// Unlimited returns a SpeedLimit with no cap.
func Unlimited() SpeedLimit { return SpeedLimit{unlimited: true} }

// LimitBytesPerSecond returns a SpeedLimit capped at n bytes/sec. n<=0 is
// treated as Unlimited.
func LimitBytesPerSecond(n int64) SpeedLimit {
	if n <= 0 {
		return Unlimited()
	}
	return SpeedLimit{bytesPerSec: n}
}

// IsUnlimited reports whether the limit has no cap.
func (s SpeedLimit) IsUnlimited() bool { return s.unlimited }

// BytesPerSecond returns the configured cap, or 0 if unlimited.
func (s SpeedLimit) BytesPerSecond() int64 {
	if s.unlimited {
		return 0
	}
	return s.bytesPerSec
}

type speedLimitJSON struct {
	Unlimited       bool  `json:"unlimited"`
	BytesPerSecond  int64 `json:"bytesPerSecond,omitempty"`
}

func (s SpeedLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(speedLimitJSON{Unlimited: s.unlimited, BytesPerSecond: s.bytesPerSec})
}

func (s *SpeedLimit) UnmarshalJSON(b []byte) error {
	var raw speedLimitJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Unlimited || raw.BytesPerSecond <= 0 {
		*s = Unlimited()
		return nil
	}
	*s = LimitBytesPerSecond(raw.BytesPerSecond)
	return nil
}

// DownloadSchedule describes when a queued task becomes eligible to run.
type DownloadSchedule struct {
	kind  scheduleKind
	at    time.Time
	after time.Duration
}

type scheduleKind int

const (
	scheduleImmediate scheduleKind = iota
	scheduleAtTime
	scheduleAfterDelay
)

// ScheduleImmediate makes a task eligible to run as soon as it is queued.
func ScheduleImmediate() DownloadSchedule { return DownloadSchedule{kind: scheduleImmediate} }

// ScheduleAtTime makes a task eligible to run at (or after) t.
func ScheduleAtTime(t time.Time) DownloadSchedule {
	return DownloadSchedule{kind: scheduleAtTime, at: t}
}

// ScheduleAfterDelay makes a task eligible to run after d has elapsed since
// submission.
func ScheduleAfterDelay(d time.Duration) DownloadSchedule {
	return DownloadSchedule{kind: scheduleAfterDelay, after: d}
}

// ReadyAt resolves the schedule to an absolute time, given the submit time.
func (s DownloadSchedule) ReadyAt(submitted time.Time) time.Time {
	switch s.kind {
	case scheduleAtTime:
		return s.at
	case scheduleAfterDelay:
		return submitted.Add(s.after)
	default:
		return submitted
	}
}

type downloadScheduleJSON struct {
	Kind  string        `json:"kind"`
	At    time.Time     `json:"at,omitempty"`
	After time.Duration `json:"after,omitempty"`
}

func (s DownloadSchedule) MarshalJSON() ([]byte, error) {
	raw := downloadScheduleJSON{At: s.at, After: s.after}
	switch s.kind {
	case scheduleAtTime:
		raw.Kind = "atTime"
	case scheduleAfterDelay:
		raw.Kind = "afterDelay"
	default:
		raw.Kind = "immediate"
	}
	return json.Marshal(raw)
}

func (s *DownloadSchedule) UnmarshalJSON(b []byte) error {
	var raw downloadScheduleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "atTime":
		*s = ScheduleAtTime(raw.At)
	case "afterDelay":
		*s = ScheduleAfterDelay(raw.After)
	default:
		*s = ScheduleImmediate()
	}
	return nil
}

// DownloadCondition gates a scheduled task beyond plain timing (e.g. "only
// on a metered-off network"). It is polled by the coordinator's scheduler;
// a nil condition is always satisfied.
type DownloadCondition func() bool

// DownloadRequest describes a caller's intent to fetch one resource.
type DownloadRequest struct {
	ID             string
	URL            string
	OutputDir      string
	Filename       string // when set, takes precedence over the name the source suggests
	Headers        map[string]string
	Priority       DownloadPriority
	Schedule       DownloadSchedule
	Condition      DownloadCondition `json:"-"`
	SpeedLimit     SpeedLimit
	MaxConnections int // per-task segment/connection cap; 0 = engine default
	Metadata       map[string]string

	// SelectedFileIds restricts a multi-file source (e.g. torrent) to a
	// subset of SourceFile.id values; empty means every file.
	SelectedFileIds []int
}

// SourceFile is the metadata a Source resolves about the remote resource
// before any bytes are transferred.
type SourceFile struct {
	Name          string
	Size          int64 // -1 if unknown
	SupportsRange bool
	ETag          string
	LastModified  time.Time
	ContentType   string
}

// ResolvedSource is the outcome of routing a DownloadRequest to a concrete
// Source, bundling the file metadata needed to plan segments.
type ResolvedSource struct {
	SourceKind  string // "http", "torrent", ...
	File        SourceFile
	Mirrors     []string
	MaxSegments int
	Metadata    map[string]string
	Files       []SourceFile // populated for multi-file sources (e.g. torrent)
}

// Segment is one contiguous byte range of a task, downloaded by a single
// worker goroutine.
type Segment struct {
	Index      int
	Start      int64
	End        int64 // inclusive
	Downloaded int64 // bytes written so far, relative to Start
}

// Length returns the total byte length of the segment.
func (s Segment) Length() int64 { return s.End - s.Start + 1 }

// Remaining returns the bytes not yet downloaded in this segment.
func (s Segment) Remaining() int64 { return s.Length() - s.Downloaded }

// Done reports whether the segment has been fully downloaded.
func (s Segment) Done() bool { return s.Downloaded >= s.Length() }

// DownloadState is the sum type of lifecycle states a task can occupy.
type DownloadState int

const (
	StateScheduled DownloadState = iota
	StateQueued
	StateResolving
	StateDownloading
	StatePaused
	StateCompleted
	StateFailed
	StateCanceled
)

func (s DownloadState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateQueued:
		return "queued"
	case StateResolving:
		return "resolving"
	case StateDownloading:
		return "downloading"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one the task will not leave on its
// own (completed/failed/canceled).
func (s DownloadState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// MarshalJSON stores the state as its upper-case label so persisted
// records stay readable and forward-compatible across field additions.
func (s DownloadState) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateLabel(s))
}

func (s *DownloadState) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err != nil {
		return err
	}
	for candidate := StateScheduled; candidate <= StateCanceled; candidate++ {
		if stateLabel(candidate) == label {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("flowdl: unknown DownloadState label %q", label)
}

func stateLabel(s DownloadState) string {
	switch s {
	case StateScheduled:
		return "SCHEDULED"
	case StateQueued:
		return "QUEUED"
	case StateResolving:
		return "RESOLVING"
	case StateDownloading:
		return "DOWNLOADING"
	case StatePaused:
		return "PAUSED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// DownloadProgress is a point-in-time snapshot of a task's transfer state,
// emitted on the channel returned by Engine.Observe.
type DownloadProgress struct {
	TaskID          string
	State           DownloadState
	BytesTotal      int64 // -1 if unknown
	BytesDownloaded int64
	SpeedBytesPerS  float64
	Segments        []Segment
	Err             error
	UpdatedAt       time.Time
}

// TaskRecord is the persisted shape of a task, as read and written through
// a TaskStore.
type TaskRecord struct {
	ID              string
	Request         DownloadRequest
	Resolved        *ResolvedSource
	State           DownloadState
	OutputPath      string
	TotalBytes      int64
	DownloadedBytes int64
	Segments        []Segment
	ResumeState     *SourceResumeState
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Err             string
}

// IsRestorable reports whether a persisted record's state can be restarted
// by Engine.Restore (it must still have enough context to pick up from).
func (t TaskRecord) IsRestorable() bool {
	switch t.State {
	case StateQueued, StateDownloading, StatePaused:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the record's state is one the coordinator will
// not drive further transitions from.
func (t TaskRecord) IsTerminal() bool {
	return t.State.Terminal()
}

// SourceResumeState is an opaque, source-defined blob describing enough
// information for that Source to resume a partially completed download
// (e.g. ETag/Last-Modified for HTTP, piece bitfield for BitTorrent).
type SourceResumeState struct {
	SourceKind string
	Data       []byte
}
