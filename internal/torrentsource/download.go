package torrentsource

import (
	"context"
	"errors"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/source"
)

var errProgressClosed = errors.New("torrent engine progress stream closed before completion")

// Download starts a fresh torrent session and drives it to completion,
// translating the engine's progress stream into the observable
// DownloadProgress stream. A torrent source manages its own file I/O, so it
// never touches sctx.File.
func (s *Source) Download(ctx context.Context, sctx *source.Context) error {
	if err := s.ensureStarted(ctx); err != nil {
		return &flowdl.SourceError{SourceKind: Kind, Err: err}
	}

	savePath := sctx.Request.OutputDir
	if savePath == "" {
		savePath = s.cfg.GetDefaultDirectory()
	}
	infoHash := sctx.Resolved.Metadata["infoHash"]
	fileIDs := selectedIndices(sctx.Request.SelectedFileIds, len(sctx.Resolved.Files))

	sess, err := s.engine.AddTorrent(ctx, infoHash, savePath, nil, fileIDs)
	if err != nil {
		return &flowdl.SourceError{SourceKind: Kind, Err: err}
	}
	s.trackSession(sctx.TaskID, sess)
	defer s.untrackSession(sctx.TaskID)
	defer sess.Close()

	return s.runSession(ctx, sctx, sess)
}

// runSession pumps a session's progress channel into sctx.OnProgress until
// the session reports completion, the context is canceled (pausing rather
// than killing the session so its pieces survive), or the channel closes
// unexpectedly.
func (s *Source) runSession(ctx context.Context, sctx *source.Context, sess TorrentSession) error {
	progress := sess.Progress()
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				return &flowdl.SourceError{SourceKind: Kind, Err: errProgressClosed}
			}
			if sctx.OnProgress != nil {
				sctx.OnProgress(source.Progress{
					BytesDownloaded: p.DownloadedBytes,
					BytesTotal:      p.TotalBytes,
					SpeedBytesPerS:  p.BytesPerSecond,
				})
			}
			if p.Done {
				return nil
			}
		case <-ctx.Done():
			sess.Pause()
			return &flowdl.CanceledError{TaskID: sctx.TaskID}
		}
	}
}
