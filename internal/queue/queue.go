// Package queue implements admission control for the engine: global and
// per-host concurrency caps, priority + FIFO ordering of waiting tasks,
// and URGENT preemption of a running lower-priority task.
package queue

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowdl/flowdl"
)

// Entry is one task's admission-control bookkeeping.
type Entry struct {
	TaskID       string
	Host         string
	Priority     flowdl.DownloadPriority
	CreatedAt    time.Time
	PreferResume bool
}

// Queue enforces maxConcurrent and maxPerHost, and decides, on every
// state-changing call, which waiting task (if any) should start next.
// Starting and preempting a task are both driven through callbacks so the
// queue never has to know how a task is actually launched or canceled.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	maxPerHost    int

	waiting      []*Entry
	active       map[string]*Entry
	activeByHost map[string]int

	onStart   func(entry *Entry)
	onPreempt func(taskID string) // must cancel the running job; queue re-enqueues it
}

// New builds a Queue. onStart is invoked (outside the queue's lock) when a
// task is admitted to run. onPreempt is invoked (outside the lock) when an
// active task must yield its slot to an URGENT arrival; the caller is
// responsible for canceling that task's execution — the queue itself only
// re-adds it to the waiting list.
func New(maxConcurrent, maxPerHost int, onStart func(*Entry), onPreempt func(taskID string)) *Queue {
	return &Queue{
		maxConcurrent: maxConcurrent,
		maxPerHost:    maxPerHost,
		active:        make(map[string]*Entry),
		activeByHost:  make(map[string]int),
		onStart:       onStart,
		onPreempt:     onPreempt,
	}
}

// HostOf extracts the host from a URL the way the queue keys its per-host
// cap: the substring between "://" and the next "/" or ":". Input without
// a recognizable scheme is returned unchanged.
func HostOf(url string) string {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return url
	}
	rest := url[idx+3:]
	end := len(rest)
	if i := strings.IndexAny(rest, "/:"); i >= 0 {
		end = i
	}
	return rest[:end]
}

func (q *Queue) canStartLocked(host string) bool {
	return len(q.active) < q.maxConcurrent && q.activeByHost[host] < q.maxPerHost
}

// Enqueue admits entry immediately if a slot is free, preempts a lower-
// priority active task if entry is Urgent and none is free, or else
// appends entry to the waiting list.
func (q *Queue) Enqueue(entry *Entry) {
	q.mu.Lock()

	if q.canStartLocked(entry.Host) {
		q.admitLocked(entry)
		q.mu.Unlock()
		q.onStart(entry)
		return
	}

	if entry.Priority == flowdl.PriorityUrgent {
		if victim := q.pickPreemptionVictimLocked(); victim != nil {
			q.releaseLocked(victim.TaskID)
			victim.PreferResume = true
			q.waiting = append(q.waiting, victim)
			q.admitLocked(entry)
			q.mu.Unlock()
			q.onPreempt(victim.TaskID)
			q.onStart(entry)
			return
		}
	}

	q.waiting = append(q.waiting, entry)
	q.mu.Unlock()
}

// pickPreemptionVictimLocked returns the active, non-Urgent task with the
// lowest priority, breaking ties by latest CreatedAt (most recently
// created), or nil if every active task is Urgent.
func (q *Queue) pickPreemptionVictimLocked() *Entry {
	var victim *Entry
	for _, e := range q.active {
		if e.Priority == flowdl.PriorityUrgent {
			continue
		}
		if victim == nil ||
			e.Priority < victim.Priority ||
			(e.Priority == victim.Priority && e.CreatedAt.After(victim.CreatedAt)) {
			victim = e
		}
	}
	return victim
}

func (q *Queue) admitLocked(entry *Entry) {
	q.active[entry.TaskID] = entry
	q.activeByHost[entry.Host]++
}

func (q *Queue) releaseLocked(taskID string) {
	e, ok := q.active[taskID]
	if !ok {
		return
	}
	delete(q.active, taskID)
	q.activeByHost[e.Host]--
	if q.activeByHost[e.Host] <= 0 {
		delete(q.activeByHost, e.Host)
	}
}

// RemoveQueued removes a not-yet-started task from the waiting list. It
// reports false if the task was not queued (it may be active, or unknown).
func (q *Queue) RemoveQueued(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.waiting {
		if e.TaskID == taskID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Release frees an active task's slot (on completion, failure, or
// cancellation) and promotes waiting tasks until the queue is empty or
// every remaining head is blocked by the per-host cap.
func (q *Queue) Release(taskID string) {
	q.mu.Lock()
	q.releaseLocked(taskID)
	promoted := q.promoteLocked()
	q.mu.Unlock()
	for _, e := range promoted {
		q.onStart(e)
	}
}

// promoteLocked repeatedly scans the waiting list in priority/FIFO order,
// starting every entry not blocked by the per-host cap, skipping (but not
// removing) entries that are blocked so a later, unblocked entry still
// gets its turn.
func (q *Queue) promoteLocked() []*Entry {
	var started []*Entry
	for {
		q.sortWaitingLocked()
		progressed := false
		for i := 0; i < len(q.waiting); i++ {
			e := q.waiting[i]
			if !q.canStartLocked(e.Host) {
				continue
			}
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.admitLocked(e)
			started = append(started, e)
			progressed = true
			break
		}
		if !progressed {
			return started
		}
	}
}

func (q *Queue) sortWaitingLocked() {
	sort.SliceStable(q.waiting, func(i, j int) bool {
		a, b := q.waiting[i], q.waiting[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// SetPriority reorders a queued task; it is a no-op for an active task,
// since the change only affects future scheduling decisions.
func (q *Queue) SetPriority(taskID string, priority flowdl.DownloadPriority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.waiting {
		if e.TaskID == taskID {
			e.Priority = priority
			return
		}
	}
}

// ActiveCount returns the number of currently admitted tasks.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// QueuedIDs returns the task IDs currently waiting, in priority/FIFO order.
func (q *Queue) QueuedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sortWaitingLocked()
	ids := make([]string, len(q.waiting))
	for i, e := range q.waiting {
		ids[i] = e.TaskID
	}
	return ids
}
