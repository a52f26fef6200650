// Package store defines the durable task-record contract the coordinator
// persists through, plus a default sqlite-backed implementation in the
// sqlitestore subpackage.
package store

import "github.com/flowdl/flowdl"

// TaskStore is the pluggable persistence backend for TaskRecords. Every
// read-modify-write of a given record must appear atomic to concurrent
// callers; implementations are expected to serialize per-taskId access
// internally.
type TaskStore interface {
	Save(record flowdl.TaskRecord) error
	Load(taskID string) (*flowdl.TaskRecord, error)
	List() ([]flowdl.TaskRecord, error)
	Remove(taskID string) error
	Close() error
}
