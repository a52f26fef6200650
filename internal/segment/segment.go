// Package segment computes and re-derives the byte-range partitioning of a
// task's content: pure functions with no I/O, used both when planning a
// fresh download and when live resegmentation changes the connection
// count mid-transfer.
package segment

import "github.com/flowdl/flowdl"

// Single returns one segment covering the whole [0, total-1] range.
func Single(total int64) []flowdl.Segment {
	if total <= 0 {
		return []flowdl.Segment{{Index: 0, Start: 0, End: -1}}
	}
	return []flowdl.Segment{{Index: 0, Start: 0, End: total - 1}}
}

// Calculate splits [0, total) into n contiguous segments of as-equal-as-
// possible size, any remainder distributed to the leading segments. n must
// be between 1 and total inclusive.
func Calculate(total int64, n int) []flowdl.Segment {
	if n < 1 {
		n = 1
	}
	if int64(n) > total {
		n = int(total)
	}
	if n < 1 {
		n = 1
	}
	base := total / int64(n)
	remainder := total % int64(n)

	segments := make([]flowdl.Segment, n)
	var offset int64
	for i := 0; i < n; i++ {
		size := base
		if int64(i) < remainder {
			size++
		}
		segments[i] = flowdl.Segment{Index: i, Start: offset, End: offset + size - 1}
		offset += size
	}
	return segments
}

// Resegment preserves every fully complete segment as-is, keeps the
// downloaded prefix of each partly complete segment as a complete segment of
// its own, merges the remaining byte ranges into contiguous runs, splits them
// into min(n, remaining bytes) segments spread across the runs, and
// renumbers indices densely.
// Total progress (sum of Downloaded) and total coverage are both preserved.
func Resegment(existing []flowdl.Segment, n int) []flowdl.Segment {
	if n < 1 {
		n = 1
	}
	if len(existing) == 0 {
		return existing
	}

	type run struct {
		start, end int64 // inclusive byte range
	}
	var complete []flowdl.Segment
	var runs []run

	var cur *run
	flush := func() {
		if cur != nil {
			runs = append(runs, *cur)
			cur = nil
		}
	}
	for _, s := range existing {
		if s.Done() {
			flush()
			complete = append(complete, s)
			continue
		}
		remStart := s.Start + s.Downloaded
		if s.Downloaded > 0 {
			// Keep the already-downloaded prefix as its own complete segment.
			flush()
			complete = append(complete, flowdl.Segment{Start: s.Start, End: remStart - 1, Downloaded: s.Downloaded})
		}
		if cur != nil && cur.end+1 == remStart {
			cur.end = s.End
		} else {
			flush()
			cur = &run{start: remStart, end: s.End}
		}
	}
	flush()

	var totalIncompleteBytes int64
	for _, r := range runs {
		totalIncompleteBytes += r.end - r.start + 1
	}
	targetIncomplete := n
	if int64(targetIncomplete) > totalIncompleteBytes {
		targetIncomplete = int(totalIncompleteBytes)
	}
	if targetIncomplete < 1 && totalIncompleteBytes > 0 {
		targetIncomplete = 1
	}

	var fresh []flowdl.Segment
	if totalIncompleteBytes > 0 && targetIncomplete > 0 {
		// Distribute targetIncomplete segments across runs proportionally
		// to their byte length, at least one segment per non-empty run
		// until the budget is exhausted.
		remaining := targetIncomplete
		for ri, r := range runs {
			runLen := r.end - r.start + 1
			runsLeft := len(runs) - ri
			share := remaining / runsLeft
			if share < 1 {
				share = 1
			}
			if share > remaining {
				share = remaining
			}
			if int64(share) > runLen {
				share = int(runLen)
			}
			remaining -= share
			if share == 0 {
				continue
			}
			parts := Calculate(runLen, share)
			for _, p := range parts {
				fresh = append(fresh, flowdl.Segment{
					Start: r.start + p.Start,
					End:   r.start + p.End,
				})
			}
		}
	}

	result := make([]flowdl.Segment, 0, len(complete)+len(fresh))
	result = append(result, complete...)
	result = append(result, fresh...)
	for i := range result {
		result[i].Index = i
	}
	return result
}
