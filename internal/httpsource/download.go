package httpsource

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/segdownload"
	"github.com/flowdl/flowdl/internal/segment"
	"github.com/flowdl/flowdl/internal/source"
)

var (
	progressUpdateInterval = 200 * time.Millisecond
	segmentSaveInterval    = 5 * time.Second
)

// Download drives the outer live-resegmentation loop: repeatedly runs a
// batch of concurrent segment downloads and, whenever the batch is
// interrupted by a connection-count change, resegments the remaining work
// and starts a new batch, until every segment is complete.
//
// If sctx.Segments arrives empty, Download first plans the initial
// segmentation from sctx.Resolved (effective connection count, server
// rate-limit headers, resume/fresh preallocation) per the HTTP source's
// resolve-then-download contract; a caller that has already computed
// segments (e.g. Resume, or a test) skips straight to the transfer loop.
func (s *Source) Download(ctx context.Context, sctx *source.Context) error {
	if len(sctx.Segments) == 0 {
		if err := s.planInitialSegments(ctx, sctx); err != nil {
			return err
		}
	}

	segments := sctx.Segments
	if len(segments) == 0 {
		return &flowdl.UnsupportedError{Reason: "no segments to download"}
	}

	for {
		sctx.Segments = segments
		if allDone(segments) {
			publishFinal(sctx, segments)
			return nil
		}

		next, pending, err := s.runBatch(ctx, sctx, segments)
		if err != nil {
			sctx.Segments = next
			return err
		}
		if pending > 0 {
			segments = segment.Resegment(next, pending)
			continue
		}
		segments = next
	}
}

func allDone(segs []flowdl.Segment) bool {
	for _, s := range segs {
		if !s.Done() {
			return false
		}
	}
	return true
}

// runBatch downloads every incomplete segment concurrently, watching for a
// live connection-count change. It returns the segment snapshot at the
// point the batch ended, and if it ended because of a connection-count
// change, the new target count in pending (0 otherwise).
func (s *Source) runBatch(ctx context.Context, sctx *source.Context, segments []flowdl.Segment) ([]flowdl.Segment, int, error) {
	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	var mu sync.Mutex
	snapshot := append([]flowdl.Segment(nil), segments...)
	byIndex := make(map[int]int, len(snapshot))
	for i, seg := range snapshot {
		byIndex[seg.Index] = i
	}

	var bytesDoneAtStart int64
	for _, seg := range snapshot {
		bytesDoneAtStart += seg.Downloaded
	}
	var totalBytes int64
	for _, seg := range segments {
		totalBytes += seg.Length()
	}

	update := func(seg flowdl.Segment) {
		mu.Lock()
		snapshot[byIndex[seg.Index]] = seg
		mu.Unlock()
	}

	var pending int
	var pendingMu sync.Mutex
	setPending := func(n int) {
		pendingMu.Lock()
		pending = n
		pendingMu.Unlock()
	}
	getPending := func() int {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		return pending
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(segments))

	lastPublish := time.Now()
	var publishMu sync.Mutex
	maybePublish := func(force bool) {
		publishMu.Lock()
		defer publishMu.Unlock()
		if !force && time.Since(lastPublish) < progressUpdateInterval {
			return
		}
		lastPublish = time.Now()
		mu.Lock()
		segsCopy := append([]flowdl.Segment(nil), snapshot...)
		mu.Unlock()
		var downloaded int64
		for _, seg := range segsCopy {
			downloaded += seg.Downloaded
		}
		if sctx.OnProgress != nil {
			sctx.OnProgress(source.Progress{
				Segments:        segsCopy,
				BytesDownloaded: downloaded,
				BytesTotal:      totalBytes,
			})
		}
	}

	for _, seg := range segments {
		if seg.Done() {
			continue
		}
		seg := seg
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := segdownload.Download(batchCtx, s.engine, sctx.URL, seg, sctx.Headers, sctx.File,
				sctx.TaskThrottle, sctx.GlobalLimit, func(updated flowdl.Segment) {
					update(updated)
					maybePublish(false)
				})
			if err != nil && batchCtx.Err() == nil {
				errCh <- err
			}
		}()
	}

	saverDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(segmentSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				maybePublish(true)
			case <-batchCtx.Done():
				close(saverDone)
				return
			}
		}
	}()

	watcherDone := make(chan struct{})
	if sctx.MaxConnections != nil {
		startCount := len(segments)
		go func() {
			defer close(watcherDone)
			for {
				select {
				case n := <-sctx.MaxConnections.Watch():
					if n > 0 && n != startCount {
						setPending(n)
						cancelBatch()
						return
					}
				case <-batchCtx.Done():
					return
				}
			}
		}()
	} else {
		close(watcherDone)
	}

	wg.Wait()
	cancelBatch()
	<-watcherDone

	select {
	case err := <-errCh:
		return snapshotCopy(snapshot, &mu), 0, err
	default:
	}

	if ctx.Err() != nil {
		return snapshotCopy(snapshot, &mu), 0, ctx.Err()
	}

	result := snapshotCopy(snapshot, &mu)
	if n := getPending(); n > 0 {
		maybePublish(true)
		return result, n, nil
	}
	maybePublish(true)
	return result, 0, nil
}

func snapshotCopy(segs []flowdl.Segment, mu *sync.Mutex) []flowdl.Segment {
	mu.Lock()
	defer mu.Unlock()
	return append([]flowdl.Segment(nil), segs...)
}

func publishFinal(sctx *source.Context, segments []flowdl.Segment) {
	if sctx.OnProgress == nil {
		return
	}
	var total int64
	for _, s := range segments {
		total += s.Length()
	}
	sctx.OnProgress(source.Progress{
		Segments:        segments,
		BytesDownloaded: total,
		BytesTotal:      total,
		SpeedBytesPerS:  0,
	})
}

// planInitialSegments implements the fresh-download planning steps of the
// HTTP source's download contract: resolve the effective connection count,
// cap or delay for server-reported rate limits, compute the segment split,
// and preallocate the output file.
func (s *Source) planInitialSegments(ctx context.Context, sctx *source.Context) error {
	total := sctx.Resolved.File.Size
	if total < 0 {
		return &flowdl.UnsupportedError{Reason: "unknown content length"}
	}

	effective := s.initialConnectionCount(sctx)

	if remStr, ok := sctx.Resolved.Metadata["rateLimitRemaining"]; ok {
		remaining, err := strconv.Atoi(remStr)
		if err == nil {
			if remaining == 0 {
				wait := 1
				if rs, ok := sctx.Resolved.Metadata["rateLimitReset"]; ok {
					if v, err := strconv.Atoi(rs); err == nil && v > wait {
						wait = v
					}
				}
				select {
				case <-time.After(time.Duration(wait) * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else if remaining < effective {
				effective = remaining
				if effective < 1 {
					effective = 1
				}
			}
		}
	}

	if total == 0 {
		sctx.Segments = []flowdl.Segment{{Index: 0, Start: 0, End: -1}}
		return nil
	}

	if sctx.Resolved.File.SupportsRange && effective > 1 {
		sctx.Segments = segment.Calculate(total, effective)
	} else {
		sctx.Segments = segment.Single(total)
	}

	if err := sctx.File.Preallocate(total); err != nil {
		return &flowdl.DiskError{Path: sctx.TaskID, Err: err}
	}
	return nil
}

// initialConnectionCount resolves the effective segment count for a fresh
// attempt: a live override via ctx.MaxConnections wins, then the request's
// own MaxConnections, then the engine default.
func (s *Source) initialConnectionCount(sctx *source.Context) int {
	if sctx.MaxConnections != nil {
		select {
		case n := <-sctx.MaxConnections.Watch():
			if n > 0 {
				return n
			}
		default:
		}
	}
	if sctx.Request.MaxConnections > 0 {
		return sctx.Request.MaxConnections
	}
	return s.cfg.GetMaxConnsPerTask()
}
