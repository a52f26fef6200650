// Package torrentsource implements the BitTorrent Source: magnet URI and
// .torrent metadata parsing, and a thin driver over a pluggable
// TorrentEngine collaborator. It never speaks the peer wire protocol or
// makes piece-selection decisions itself, the same way httpsource never
// opens its own TCP connections — those belong to the injected engine.
package torrentsource

import (
	"context"
	"time"
)

// TorrentEngine is the external collaborator a torrent Source drives; a
// production embedder supplies a concrete implementation (e.g. wrapping a
// peer-wire-protocol client) while this package depends only on this
// interface.
type TorrentEngine interface {
	Start(ctx context.Context) error
	Stop() error
	// FetchMetadata resolves a magnet URI's info dictionary over the DHT/
	// tracker/peer-exchange, bounded by timeout.
	FetchMetadata(ctx context.Context, magnetURI string, timeout time.Duration) (Metadata, error)
	// AddTorrent starts (or reattaches to) a session for infoHash. resumeData,
	// when non-nil, is the engine's own opaque piece-state blob from a prior
	// SaveResumeData call. fileIndices selects which files to fetch; nil or
	// empty means every file.
	AddTorrent(ctx context.Context, infoHash, savePath string, resumeData []byte, fileIndices []int) (TorrentSession, error)
	RemoveTorrent(infoHash string) error
	SetDownloadRateLimit(bytesPerSecond int64)
	SetUploadRateLimit(bytesPerSecond int64)
}

// Metadata is what FetchMetadata (or a decoded .torrent file) resolves
// about a torrent before any piece data is fetched.
type Metadata struct {
	InfoHash    string
	Name        string
	Comment     string
	PieceLength int64
	Trackers    []string
	Files       []FileInfo
}

// FileInfo describes one file inside a (possibly multi-file) torrent.
type FileInfo struct {
	Path string
	Size int64
}

// SessionProgress is one point-in-time update from a running TorrentSession.
type SessionProgress struct {
	DownloadedBytes int64
	TotalBytes      int64
	BytesPerSecond  float64
	Done            bool
}

// TorrentSession is a running (or paused) torrent download, one per task.
// Progress's channel is closed when the session is removed.
type TorrentSession interface {
	Progress() <-chan SessionProgress
	Pause() error
	Resume() error
	SetFilePriorities(indices []int) error
	// SaveResumeData snapshots the engine's own opaque piece-state blob, for
	// SourceResumeState round-tripping across a process restart.
	SaveResumeData() ([]byte, error)
	Close() error
}
