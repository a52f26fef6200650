package torrentsource

import (
	"context"
	"strings"
	"sync"

	"github.com/flowdl/flowdl/internal/config"
)

// Kind identifies this Source to the resolver and in persisted records.
const Kind = "torrent"

// Source is the BitTorrent Source implementation. It manages its own file
// I/O (the engine writes pieces directly into the save directory), so the
// engine never creates a FileAccessor for it.
type Source struct {
	engine TorrentEngine
	cfg    *config.EngineConfig

	startOnce sync.Once
	startErr  error

	mu       sync.Mutex
	sessions map[string]TorrentSession // taskID -> session, so UpdateResumeState can reach a running session without threading it through source.Context
}

// New builds a torrent Source driving engine for all peer/tracker activity.
func New(engine TorrentEngine, cfg *config.EngineConfig) *Source {
	return &Source{engine: engine, cfg: cfg, sessions: make(map[string]TorrentSession)}
}

func (s *Source) Kind() string           { return Kind }
func (s *Source) ManagesOwnFileIO() bool { return true }

func (s *Source) CanHandle(rawURL string) bool {
	if IsMagnetURI(rawURL) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(rawURL), ".torrent")
}

// ensureStarted starts the underlying engine at most once, lazily, on the
// first Resolve/Download/Resume call that needs it.
func (s *Source) ensureStarted(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.startErr = s.engine.Start(ctx)
	})
	return s.startErr
}

func (s *Source) trackSession(taskID string, sess TorrentSession) {
	s.mu.Lock()
	s.sessions[taskID] = sess
	s.mu.Unlock()
}

func (s *Source) untrackSession(taskID string) {
	s.mu.Lock()
	delete(s.sessions, taskID)
	s.mu.Unlock()
}

func (s *Source) sessionFor(taskID string) TorrentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[taskID]
}

func selectedIndices(ids []int, fileCount int) []int {
	if len(ids) > 0 {
		return ids
	}
	all := make([]int, fileCount)
	for i := range all {
		all[i] = i
	}
	return all
}
