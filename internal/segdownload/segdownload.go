// Package segdownload implements the single-segment transfer: one ranged
// HTTP fetch, written to one file region, throttled by a task and a global
// rate limiter, reporting progress as bytes land.
package segdownload

import (
	"context"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/httpengine"
	"github.com/flowdl/flowdl/internal/ratelimit"
)

// Download fetches segment's remaining byte range from url and writes it
// into file at the segment's absolute offsets, calling onProgress after
// every chunk with the segment's updated cumulative Downloaded count. It
// returns when the segment is fully downloaded, the context is canceled,
// or a transport/disk error occurs.
//
// If seg.Done() on entry, Download returns immediately without touching
// the network.
func Download(
	ctx context.Context,
	engine httpengine.Engine,
	url string,
	seg flowdl.Segment,
	headers map[string]string,
	file fileaccessor.FileAccessor,
	taskLimit, globalLimit ratelimit.Throttle,
	onProgress func(flowdl.Segment),
) (flowdl.Segment, error) {
	if seg.Done() {
		return seg, nil
	}

	rng := &httpengine.ByteRange{Start: seg.Start + seg.Downloaded, End: seg.End}
	writeOffset := seg.Start + seg.Downloaded

	err := engine.Download(ctx, url, rng, headers, func(chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if taskLimit != nil {
			if err := taskLimit.Acquire(ctx, len(chunk)); err != nil {
				return err
			}
		}
		if globalLimit != nil {
			if err := globalLimit.Acquire(ctx, len(chunk)); err != nil {
				return err
			}
		}

		n, werr := file.WriteAt(writeOffset, chunk)
		if werr != nil {
			return &flowdl.DiskError{Path: url, Err: werr}
		}
		writeOffset += int64(n)
		seg.Downloaded += int64(n)

		if onProgress != nil {
			onProgress(seg)
		}
		if n < len(chunk) {
			return &flowdl.NetworkError{URL: url, Err: errShortWrite}
		}
		return nil
	})

	if err != nil {
		return seg, classifyErr(url, err)
	}

	if !seg.Done() {
		// Server closed the connection before delivering the full range.
		return seg, &flowdl.NetworkError{URL: url, Err: errShortRead}
	}
	return seg, nil
}

func classifyErr(url string, err error) error {
	switch err.(type) {
	case *flowdl.DiskError, *flowdl.NetworkError, *flowdl.HTTPError:
		return err
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return &flowdl.CanceledError{}
	}
	return &flowdl.NetworkError{URL: url, Err: err}
}

type shortIOError string

func (e shortIOError) Error() string { return string(e) }

const (
	errShortWrite = shortIOError("short write to file")
	errShortRead  = shortIOError("connection closed before full range delivered")
)
