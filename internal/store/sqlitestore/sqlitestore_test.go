package sqlitestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdl/flowdl"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	rec := flowdl.TaskRecord{
		ID:              "t1",
		Request:         flowdl.DownloadRequest{URL: "https://example.com/file.bin", Priority: flowdl.PriorityHigh},
		State:           flowdl.StateDownloading,
		OutputPath:      "/tmp/file.bin",
		TotalBytes:      1000,
		DownloadedBytes: 250,
		Segments: []flowdl.Segment{
			{Index: 0, Start: 0, End: 499, Downloaded: 250},
			{Index: 1, Start: 500, End: 999, Downloaded: 0},
		},
		ResumeState: &flowdl.SourceResumeState{SourceKind: "http", Data: []byte(`{"etag":"v1"}`)},
	}

	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.Request.URL, loaded.Request.URL)
	assert.Equal(t, rec.Request.Priority, loaded.Request.Priority)
	assert.Equal(t, rec.State, loaded.State)
	assert.Equal(t, rec.TotalBytes, loaded.TotalBytes)
	assert.Equal(t, rec.DownloadedBytes, loaded.DownloadedBytes)
	assert.Equal(t, rec.Segments, loaded.Segments)
	require.NotNil(t, loaded.ResumeState)
	assert.Equal(t, rec.ResumeState.SourceKind, loaded.ResumeState.SourceKind)
	assert.Equal(t, rec.ResumeState.Data, loaded.ResumeState.Data)
	assert.False(t, loaded.CreatedAt.IsZero())
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadUnknownReturnsNilNotError(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveUpsertsByID(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "t1", State: flowdl.StateQueued}))
	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "t1", State: flowdl.StateCompleted}))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, flowdl.StateCompleted, records[0].State)
}

func TestListOrdersByCreatedAt(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "first", CreatedAt: time.Now()}))
	time.Sleep(1100 * time.Millisecond) // created_at stores unix-second granularity
	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "second", CreatedAt: time.Now()}))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].ID)
	assert.Equal(t, "second", records[1].ID)
}

func TestRemove(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "t1", State: flowdl.StateQueued}))
	require.NoError(t, s.Remove("t1"))

	rec, err := s.Load("t1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOpenRejectsSecondWriterOnSamePath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dbPath)
	assert.Error(t, err)
}

func TestUnknownFieldsIgnoredOnDecode(t *testing.T) {
	// Forward-compatibility: a record blob with a field this version of
	// TaskRecord doesn't know about must still decode cleanly.
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(flowdl.TaskRecord{ID: "t1", State: flowdl.StateQueued}))
	_, err = s.db.Exec(`UPDATE tasks SET record = json_set(record, '$.futureField', 'x') WHERE id = 't1'`)
	require.NoError(t, err)

	rec, err := s.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, flowdl.StateQueued, rec.State)
}
