package flowdl

import (
	"fmt"

	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/coordinator"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/httpengine"
	"github.com/flowdl/flowdl/internal/httpsource"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/flowdl/flowdl/internal/resolver"
	"github.com/flowdl/flowdl/internal/store"
	"github.com/flowdl/flowdl/internal/store/sqlitestore"
	"github.com/flowdl/flowdl/internal/torrentsource"
	"github.com/flowdl/flowdl/internal/xlog"
)

// EngineConfig re-exports the tunable knobs internal/config defines, so a
// caller never needs to import an internal package to construct one.
type EngineConfig = config.EngineConfig

// Handle is the caller's live view of one submitted task: its progress
// stream plus the pause/resume/cancel/retune operations that apply to it.
type Handle = coordinator.TaskHandle

// Engine is the top-level, embeddable download engine: it owns a task
// queue, a coordinator driving per-task lifecycles, a pluggable TaskStore,
// and the registered Source implementations a DownloadRequest's URL
// resolves against. Callers construct one with New, Submit requests to
// it, and Close it to release every in-flight task and the underlying
// store.
type Engine struct {
	coord *coordinator.Coordinator
	store store.TaskStore
}

// Option configures an Engine at construction time.
type Option func(*options)

type options struct {
	cfg              *config.EngineConfig
	httpEngine       httpengine.Engine
	torrentEngine    torrentsource.TorrentEngine
	store            store.TaskStore
	globalSpeedLimit SpeedLimit
}

// WithConfig overrides the engine's tuning knobs.
func WithConfig(cfg *EngineConfig) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithHTTPEngine overrides the HTTP transport the HTTP source drives; the
// default is a net/http-backed implementation (internal/httpengine.NetHTTP).
func WithHTTPEngine(e httpengine.Engine) Option {
	return func(o *options) { o.httpEngine = e }
}

// WithTorrentEngine registers a BitTorrent backend, enabling magnet:/.torrent
// URLs. Without one, the engine only handles HTTP(S).
func WithTorrentEngine(e torrentsource.TorrentEngine) Option {
	return func(o *options) { o.torrentEngine = e }
}

// WithTaskStore overrides the durable TaskStore; the default is a sqlite
// store at cfg.StorePath (or in-memory if StorePath is empty).
func WithTaskStore(s store.TaskStore) Option {
	return func(o *options) { o.store = s }
}

// WithGlobalSpeedLimit caps aggregate throughput across every task sharing
// this Engine, independent of each task's own SpeedLimit.
func WithGlobalSpeedLimit(limit SpeedLimit) Option {
	return func(o *options) { o.globalSpeedLimit = limit }
}

// New builds an Engine ready to accept Submit calls. The caller owns the
// returned Engine's lifetime and must call Close when done with it.
func New(opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	cfg := o.cfg
	if path := cfg.GetDebugLog(); path != "" {
		xlog.SetPath(path)
	}

	st := o.store
	if st == nil {
		s, err := sqlitestore.Open(cfg.GetStorePath())
		if err != nil {
			return nil, fmt.Errorf("flowdl: open task store: %w", err)
		}
		st = s
	}

	he := o.httpEngine
	if he == nil {
		he = httpengine.NewNetHTTP(cfg)
	}

	res := resolver.New()
	res.Register(httpsource.New(he, cfg))
	if o.torrentEngine != nil {
		res.Register(torrentsource.New(o.torrentEngine, cfg))
	}

	global := ratelimit.New(o.globalSpeedLimit.BytesPerSecond())
	coord := coordinator.New(cfg, res, st, global, fileaccessor.Open)

	return &Engine{coord: coord, store: st}, nil
}

// Submit registers a new download and, once its schedule and conditions
// are satisfied, admits it through the queue. The returned Handle is live
// immediately, so callers may Observe it before the transfer starts.
func (e *Engine) Submit(req DownloadRequest) (*Handle, error) {
	return e.coord.Submit(req)
}

// Restore re-admits a persisted, restorable TaskRecord, e.g. one loaded
// from the TaskStore after a process restart.
func (e *Engine) Restore(rec TaskRecord) (*Handle, error) {
	return e.coord.Restore(rec)
}

// RestoreAll loads every restorable record from the engine's TaskStore and
// restores each one, returning the resulting handles keyed by task ID.
// Records in a terminal state are skipped.
func (e *Engine) RestoreAll() (map[string]*Handle, error) {
	records, err := e.store.List()
	if err != nil {
		return nil, fmt.Errorf("flowdl: list task store: %w", err)
	}
	handles := make(map[string]*Handle, len(records))
	for _, rec := range records {
		if !rec.IsRestorable() {
			continue
		}
		h, err := e.coord.Restore(rec)
		if err != nil {
			return handles, fmt.Errorf("flowdl: restore %s: %w", rec.ID, err)
		}
		handles[rec.ID] = h
	}
	return handles, nil
}

// Pause suspends a queued or running task, preserving its segment progress.
func (e *Engine) Pause(taskID string) error { return e.coord.Pause(taskID) }

// Resume reactivates a paused task from its last-known segment progress.
func (e *Engine) Resume(taskID string) error { return e.coord.Resume(taskID) }

// Cancel permanently terminates a task; its partial output stays on disk.
func (e *Engine) Cancel(taskID string) error { return e.coord.Cancel(taskID) }

// SetTaskSpeedLimit changes a task's per-task bandwidth cap without
// interrupting its transfer.
func (e *Engine) SetTaskSpeedLimit(taskID string, limit SpeedLimit) error {
	return e.coord.SetTaskSpeedLimit(taskID, limit)
}

// SetTaskConnections adjusts a running task's target segment count; the
// change triggers live resegmentation.
func (e *Engine) SetTaskConnections(taskID string, n int) error {
	return e.coord.SetTaskConnections(taskID, n)
}

// SetPriority reorders a still-queued task; it is a no-op for an active one.
func (e *Engine) SetPriority(taskID string, priority DownloadPriority) error {
	return e.coord.SetPriority(taskID, priority)
}

// Observe subscribes to a task's DownloadProgress stream.
func (e *Engine) Observe(taskID string) (<-chan DownloadProgress, error) {
	return e.coord.Observe(taskID)
}

// State returns a task's current lifecycle state.
func (e *Engine) State(taskID string) (DownloadState, error) {
	return e.coord.State(taskID)
}

// List returns the task IDs the engine currently knows about.
func (e *Engine) List() []string { return e.coord.List() }

// Remove drops a terminal task from the engine's in-memory tracking,
// without touching its persisted record.
func (e *Engine) Remove(taskID string) error { return e.coord.Remove(taskID) }

// Records returns every persisted TaskRecord known to the engine's
// TaskStore, including tasks not currently active.
func (e *Engine) Records() ([]TaskRecord, error) { return e.store.List() }

// Record loads one persisted TaskRecord by ID, or nil if none exists.
func (e *Engine) Record(taskID string) (*TaskRecord, error) { return e.store.Load(taskID) }

// Forget permanently deletes a task's persisted record. Unlike Remove, it
// does not require the task to be tracked in memory; it is the operation a
// caller uses to purge a record left over from a prior process.
func (e *Engine) Forget(taskID string) error { return e.store.Remove(taskID) }

// SaveRecord upserts a TaskRecord directly through the engine's TaskStore,
// bypassing the coordinator. Used by offline management operations (e.g. a
// CLI marking a task paused from a process with no in-memory handle for it).
func (e *Engine) SaveRecord(rec TaskRecord) error { return e.store.Save(rec) }

// Close cancels every in-flight task and releases the underlying TaskStore.
func (e *Engine) Close() error {
	e.coord.Close()
	return e.store.Close()
}
