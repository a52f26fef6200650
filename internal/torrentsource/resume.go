package torrentsource

import (
	"context"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/source"
)

// Resume reattaches to the torrent using the persisted resume payload's
// info hash, save path, and the engine's own opaque resume blob (piece
// bitfield etc.), then drives it the same way a fresh Download does.
func (s *Source) Resume(ctx context.Context, sctx *source.Context, resumeState flowdl.SourceResumeState) error {
	if err := s.ensureStarted(ctx); err != nil {
		return &flowdl.SourceError{SourceKind: Kind, Err: err}
	}

	payload, err := decodeResumePayload(resumeState)
	if err != nil {
		return err
	}

	savePath := payload.SavePath
	if savePath == "" {
		savePath = sctx.Request.OutputDir
	}
	fileIDs := payload.SelectedFileIds
	if len(fileIDs) == 0 {
		fileIDs = selectedIndices(sctx.Request.SelectedFileIds, len(sctx.Resolved.Files))
	}

	sess, err := s.engine.AddTorrent(ctx, payload.InfoHash, savePath, payload.ResumeData, fileIDs)
	if err != nil {
		return &flowdl.SourceError{SourceKind: Kind, Err: err}
	}
	s.trackSession(sctx.TaskID, sess)
	defer s.untrackSession(sctx.TaskID)
	defer sess.Close()

	return s.runSession(ctx, sctx, sess)
}
