package httpsource

import (
	"context"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/segment"
	"github.com/flowdl/flowdl/internal/source"
)

// Resume validates that the remote resource hasn't changed since the
// original attempt, resegments if the connection count changed, repairs a
// truncated local file, and re-enters the segmented download loop.
func (s *Source) Resume(ctx context.Context, sctx *source.Context, resumeState flowdl.SourceResumeState) error {
	payload, err := decodeResumeState(resumeState)
	if err != nil {
		return err
	}

	info, err := s.engine.Head(ctx, sctx.URL, sctx.Headers)
	if err != nil {
		return err
	}

	if payload.ETag != "" && info.ETag != "" && payload.ETag != info.ETag {
		return &flowdl.FileChangedError{URL: sctx.URL}
	}
	if !payload.LastModified.IsZero() && !info.LastModified.IsZero() && !payload.LastModified.Equal(info.LastModified) {
		return &flowdl.FileChangedError{URL: sctx.URL}
	}

	effective := effectiveConnections(sctx)
	incomplete := 0
	for _, seg := range sctx.Segments {
		if !seg.Done() {
			incomplete++
		}
	}
	if incomplete != effective && len(sctx.Segments) > 0 {
		sctx.Segments = segment.Resegment(sctx.Segments, effective)
	}

	if err := s.validateLocalFile(sctx, payload.TotalBytes); err != nil {
		return err
	}

	return s.Download(ctx, sctx)
}

func effectiveConnections(sctx *source.Context) int {
	if sctx.MaxConnections != nil {
		select {
		case n := <-sctx.MaxConnections.Watch():
			if n > 0 {
				sctx.MaxConnections.Set(n)
				return n
			}
		default:
		}
	}
	if sctx.Request.MaxConnections > 0 {
		return sctx.Request.MaxConnections
	}
	return len(sctx.Segments)
}

// validateLocalFile re-preallocates and resets progress if the local file
// is shorter than either the sum of recorded progress or the known total.
func (s *Source) validateLocalFile(sctx *source.Context, totalBytes int64) error {
	size, err := sctx.File.Size()
	if err != nil {
		return &flowdl.DiskError{Path: sctx.TaskID, Err: err}
	}

	var sumDownloaded int64
	for _, seg := range sctx.Segments {
		sumDownloaded += seg.Downloaded
	}

	if size < sumDownloaded || (totalBytes > 0 && size < totalBytes) {
		if err := sctx.File.Preallocate(totalBytes); err != nil {
			return &flowdl.DiskError{Path: sctx.TaskID, Err: err}
		}
		for i := range sctx.Segments {
			sctx.Segments[i].Downloaded = 0
		}
	}
	return nil
}
