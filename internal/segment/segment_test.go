package segment

import (
	"testing"

	"github.com/flowdl/flowdl"
	"github.com/stretchr/testify/assert"
)

func TestSingle(t *testing.T) {
	s := Single(100)
	assert.Len(t, s, 1)
	assert.Equal(t, int64(0), s[0].Start)
	assert.Equal(t, int64(99), s[0].End)
}

func TestCalculate_EvenSplit(t *testing.T) {
	segs := Calculate(100, 4)
	assert.Len(t, segs, 4)
	var sum int64
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		sum += s.Length()
	}
	assert.Equal(t, int64(100), sum)
	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(99), segs[len(segs)-1].End)
}

func TestCalculate_RemainderToLeadingSegments(t *testing.T) {
	segs := Calculate(10, 3)
	assert.Equal(t, int64(4), segs[0].Length())
	assert.Equal(t, int64(3), segs[1].Length())
	assert.Equal(t, int64(3), segs[2].Length())
}

func TestCalculate_NoGapsOrOverlaps(t *testing.T) {
	segs := Calculate(777, 5)
	var expectedStart int64
	for _, s := range segs {
		assert.Equal(t, expectedStart, s.Start)
		expectedStart = s.End + 1
	}
	assert.Equal(t, int64(777), expectedStart)
}

func TestResegment_PreservesCompleteSegments(t *testing.T) {
	existing := []flowdl.Segment{
		{Index: 0, Start: 0, End: 49, Downloaded: 50},  // complete
		{Index: 1, Start: 50, End: 99, Downloaded: 20}, // incomplete
	}
	result := Resegment(existing, 2)

	var completeFound bool
	var progressSum int64
	var coverage int64
	for _, s := range result {
		progressSum += s.Downloaded
		coverage += s.Length()
		if s.Start == 0 && s.End == 49 {
			completeFound = true
			assert.True(t, s.Done())
		}
	}
	assert.True(t, completeFound)
	assert.Equal(t, int64(70), progressSum) // 50 + 20, no progress lost
	assert.Equal(t, int64(100), coverage)
}

func TestResegment_DenseIndices(t *testing.T) {
	existing := []flowdl.Segment{
		{Index: 0, Start: 0, End: 9, Downloaded: 10},
		{Index: 1, Start: 10, End: 99, Downloaded: 0},
	}
	result := Resegment(existing, 3)
	for i, s := range result {
		assert.Equal(t, i, s.Index)
	}
}

func TestResegment_IncompleteCountCappedByBytes(t *testing.T) {
	existing := []flowdl.Segment{
		{Index: 0, Start: 0, End: 1, Downloaded: 0}, // 2 incomplete bytes only
	}
	result := Resegment(existing, 50)
	var incomplete int
	for _, s := range result {
		if !s.Done() {
			incomplete++
		}
	}
	assert.LessOrEqual(t, incomplete, 2)
}

// TestResegment_IncompleteCountCappedByBytes_MultipleRuns covers disjoint
// incomplete runs: the per-run proportional split must not let a
// zero-share run still emit a segment via Calculate's own n<1 floor.
func TestResegment_IncompleteCountCappedByBytes_MultipleRuns(t *testing.T) {
	existing := []flowdl.Segment{
		{Index: 0, Start: 0, End: 99, Downloaded: 0},
		{Index: 1, Start: 100, End: 199, Downloaded: 100}, // complete, splits the runs apart
		{Index: 2, Start: 200, End: 299, Downloaded: 0},
		{Index: 3, Start: 300, End: 399, Downloaded: 100}, // complete, splits the runs apart
		{Index: 4, Start: 400, End: 499, Downloaded: 0},
	}
	result := Resegment(existing, 2)
	var incomplete int
	for _, s := range result {
		if !s.Done() {
			incomplete++
		}
	}
	assert.Equal(t, 2, incomplete)
}
