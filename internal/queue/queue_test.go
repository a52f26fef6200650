package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdl/flowdl"
)

type recorder struct {
	mu        sync.Mutex
	started   []string
	preempted []string
}

func (r *recorder) onStart(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e.TaskID)
}

func (r *recorder) onPreempt(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preempted = append(r.preempted, taskID)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", HostOf("https://example.com/file.bin"))
	assert.Equal(t, "example.com", HostOf("http://example.com:8080/file.bin"))
	assert.Equal(t, "magnet:?xt=urn:btih:abc", HostOf("magnet:?xt=urn:btih:abc"))
}

func TestEnqueueAdmitsUnderCap(t *testing.T) {
	r := &recorder{}
	q := New(2, 2, r.onStart, r.onPreempt)

	q.Enqueue(&Entry{TaskID: "a", Host: "h1", CreatedAt: time.Now()})
	q.Enqueue(&Entry{TaskID: "b", Host: "h1", CreatedAt: time.Now()})

	assert.ElementsMatch(t, []string{"a", "b"}, r.started)
	assert.Equal(t, 2, q.ActiveCount())
}

func TestEnqueueQueuesOverGlobalCap(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	q.Enqueue(&Entry{TaskID: "a", Host: "h1", CreatedAt: time.Now()})
	q.Enqueue(&Entry{TaskID: "b", Host: "h1", CreatedAt: time.Now().Add(time.Millisecond)})

	assert.Equal(t, []string{"a"}, r.started)
	assert.Equal(t, []string{"b"}, q.QueuedIDs())
}

func TestEnqueueRespectsPerHostCap(t *testing.T) {
	r := &recorder{}
	q := New(4, 1, r.onStart, r.onPreempt)

	q.Enqueue(&Entry{TaskID: "a", Host: "h1", CreatedAt: time.Now()})
	q.Enqueue(&Entry{TaskID: "b", Host: "h1", CreatedAt: time.Now().Add(time.Millisecond)})
	q.Enqueue(&Entry{TaskID: "c", Host: "h2", CreatedAt: time.Now().Add(2 * time.Millisecond)})

	assert.ElementsMatch(t, []string{"a", "c"}, r.started)
	assert.Equal(t, []string{"b"}, q.QueuedIDs())
}

func TestReleasePromotesByPriorityThenFIFO(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	base := time.Now()
	q.Enqueue(&Entry{TaskID: "a", Host: "h1", CreatedAt: base})
	q.Enqueue(&Entry{TaskID: "low", Host: "h1", Priority: flowdl.PriorityLow, CreatedAt: base.Add(time.Millisecond)})
	q.Enqueue(&Entry{TaskID: "high", Host: "h1", Priority: flowdl.PriorityHigh, CreatedAt: base.Add(2 * time.Millisecond)})

	q.Release("a")

	require.Len(t, r.started, 2)
	assert.Equal(t, "high", r.started[1])
	assert.Equal(t, []string{"low"}, q.QueuedIDs())
}

// TestUrgentPreemptsLowestActivePriority exercises scenario S6: a single
// global slot, three LOW tasks (one running, two queued), then an URGENT
// arrival preempts the running LOW instead of waiting.
func TestUrgentPreemptsLowestActivePriority(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	base := time.Now()
	q.Enqueue(&Entry{TaskID: "low1", Host: "h", Priority: flowdl.PriorityLow, CreatedAt: base})
	q.Enqueue(&Entry{TaskID: "low2", Host: "h", Priority: flowdl.PriorityLow, CreatedAt: base.Add(time.Millisecond)})
	q.Enqueue(&Entry{TaskID: "low3", Host: "h", Priority: flowdl.PriorityLow, CreatedAt: base.Add(2 * time.Millisecond)})

	require.Equal(t, []string{"low1"}, r.started)
	require.Equal(t, []string{"low2", "low3"}, q.QueuedIDs())

	q.Enqueue(&Entry{TaskID: "urgent", Host: "h", Priority: flowdl.PriorityUrgent, CreatedAt: base.Add(3 * time.Millisecond)})

	assert.Equal(t, []string{"low1"}, r.preempted)
	assert.Equal(t, []string{"low1", "urgent"}, r.started)
	assert.ElementsMatch(t, []string{"low1", "low2", "low3"}, q.QueuedIDs())

	// Urgent finishes; FIFO resumes over the three LOWs in enqueue order.
	q.Release("urgent")
	assert.Equal(t, []string{"low1", "urgent", "low1"}, r.started)
}

func TestUrgentNeverPreemptsAnotherUrgent(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	base := time.Now()
	q.Enqueue(&Entry{TaskID: "u1", Host: "h", Priority: flowdl.PriorityUrgent, CreatedAt: base})
	q.Enqueue(&Entry{TaskID: "u2", Host: "h", Priority: flowdl.PriorityUrgent, CreatedAt: base.Add(time.Millisecond)})

	assert.Empty(t, r.preempted)
	assert.Equal(t, []string{"u1"}, r.started)
	assert.Equal(t, []string{"u2"}, q.QueuedIDs())
}

func TestRemoveQueued(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	q.Enqueue(&Entry{TaskID: "a", Host: "h", CreatedAt: time.Now()})
	q.Enqueue(&Entry{TaskID: "b", Host: "h", CreatedAt: time.Now().Add(time.Millisecond)})

	assert.True(t, q.RemoveQueued("b"))
	assert.False(t, q.RemoveQueued("b"))
	assert.False(t, q.RemoveQueued("a")) // active, not queued
}

func TestSetPriorityReordersQueued(t *testing.T) {
	r := &recorder{}
	q := New(1, 4, r.onStart, r.onPreempt)

	base := time.Now()
	q.Enqueue(&Entry{TaskID: "a", Host: "h", CreatedAt: base})
	q.Enqueue(&Entry{TaskID: "b", Host: "h", Priority: flowdl.PriorityLow, CreatedAt: base.Add(time.Millisecond)})
	q.Enqueue(&Entry{TaskID: "c", Host: "h", Priority: flowdl.PriorityLow, CreatedAt: base.Add(2 * time.Millisecond)})

	q.SetPriority("c", flowdl.PriorityUrgent)
	q.Release("a")

	assert.Equal(t, []string{"a", "c"}, r.started)
}
