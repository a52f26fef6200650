package execution

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/resolver"
	"github.com/flowdl/flowdl/internal/source"
)

// memStore is a minimal in-memory store.TaskStore for exercising the
// executor without a real database.
type memStore struct {
	mu      sync.Mutex
	records map[string]flowdl.TaskRecord
}

func newMemStore() *memStore { return &memStore{records: make(map[string]flowdl.TaskRecord)} }

func (m *memStore) Save(r flowdl.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
	return nil
}

func (m *memStore) Load(id string) (*flowdl.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) List() ([]flowdl.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]flowdl.TaskRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) Close() error { return nil }

// fakeSource is a test double standing in for httpsource: it hands back a
// fixed-size resolved file and simulates a configurable number of
// retryable failures before succeeding.
type fakeSource struct {
	mu            sync.Mutex
	size          int64
	failTimes     int
	downloadCalls int
	resumeCalls   int
}

func (f *fakeSource) Kind() string             { return "fake" }
func (f *fakeSource) ManagesOwnFileIO() bool    { return false }
func (f *fakeSource) CanHandle(url string) bool { return true }

func (f *fakeSource) Resolve(ctx context.Context, url string, req flowdl.DownloadRequest) (flowdl.ResolvedSource, error) {
	return flowdl.ResolvedSource{
		SourceKind: "fake",
		File:       flowdl.SourceFile{Name: "out.bin", Size: f.size, SupportsRange: true},
	}, nil
}

func (f *fakeSource) Download(ctx context.Context, sctx *source.Context) error {
	f.mu.Lock()
	f.downloadCalls++
	shouldFail := f.downloadCalls <= f.failTimes
	f.mu.Unlock()
	if shouldFail {
		return &flowdl.NetworkError{URL: sctx.URL, Err: errSimulatedFailure}
	}
	if sctx.File != nil {
		sctx.File.WriteAt(0, make([]byte, f.size))
	}
	if sctx.OnProgress != nil {
		sctx.OnProgress(source.Progress{BytesDownloaded: f.size, BytesTotal: f.size})
	}
	return nil
}

func (f *fakeSource) Resume(ctx context.Context, sctx *source.Context, resume flowdl.SourceResumeState) error {
	f.mu.Lock()
	f.resumeCalls++
	f.mu.Unlock()
	if sctx.File != nil {
		sctx.File.WriteAt(0, make([]byte, f.size))
	}
	if sctx.OnProgress != nil {
		sctx.OnProgress(source.Progress{BytesDownloaded: f.size, BytesTotal: f.size})
	}
	return nil
}

func (f *fakeSource) BuildResumeState(resolved flowdl.ResolvedSource, totalBytes int64) flowdl.SourceResumeState {
	return flowdl.SourceResumeState{SourceKind: "fake"}
}

func (f *fakeSource) UpdateResumeState(ctx *source.Context) (flowdl.SourceResumeState, bool) {
	return flowdl.SourceResumeState{}, false
}

var errSimulatedFailure = &simpleErr{"simulated network failure"}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func newExecutor(t *testing.T, fs *fakeSource) (*Executor, string) {
	t.Helper()
	res := resolver.New()
	res.Register(fs)
	st := newMemStore()
	dir := t.TempDir()
	return &Executor{
		Resolver: res,
		Store:    st,
		OpenFile: func(path string) (fileaccessor.FileAccessor, error) { return fileaccessor.Open(path) },
		Cfg:      &config.EngineConfig{DefaultDirectory: dir, RetryDelay: 0},
	}, dir
}

func TestExecutor_Run_FreshDownload_Succeeds(t *testing.T) {
	fs := &fakeSource{size: 16}
	ex, dir := newExecutor(t, fs)

	var finalState flowdl.DownloadState
	path, err := ex.Run(context.Background(), Input{
		TaskID:  "t1",
		Request: flowdl.DownloadRequest{ID: "t1", URL: "fake://host/out.bin"},
		OnProgress: func(p flowdl.DownloadProgress) {
			finalState = p.State
		},
		ObservedState: func() flowdl.DownloadState { return flowdl.StateFailed },
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.bin"), path)
	assert.Equal(t, flowdl.StateCompleted, finalState)
	assert.Equal(t, 1, fs.downloadCalls)
}

func TestExecutor_Run_RetriesRetryableFailureThenSucceeds(t *testing.T) {
	fs := &fakeSource{size: 8, failTimes: 2}
	ex, _ := newExecutor(t, fs)

	_, err := ex.Run(context.Background(), Input{
		TaskID:        "t2",
		Request:       flowdl.DownloadRequest{ID: "t2", URL: "fake://host/out.bin"},
		ObservedState: func() flowdl.DownloadState { return flowdl.StateFailed },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, fs.downloadCalls)
}

func TestExecutor_Run_GivesUpAfterMaxRetries(t *testing.T) {
	fs := &fakeSource{size: 8, failTimes: 100}
	ex, _ := newExecutor(t, fs)
	ex.Cfg.MaxTaskRetries = 2

	_, err := ex.Run(context.Background(), Input{
		TaskID:        "t3",
		Request:       flowdl.DownloadRequest{ID: "t3", URL: "fake://host/out.bin"},
		ObservedState: func() flowdl.DownloadState { return flowdl.StateFailed },
	})
	require.Error(t, err)
	assert.Equal(t, 3, fs.downloadCalls) // first attempt + 2 retries
}

func TestExecutor_Run_ZeroByteFileCompletesWithoutDownload(t *testing.T) {
	fs := &fakeSource{size: 0}
	ex, _ := newExecutor(t, fs)

	_, err := ex.Run(context.Background(), Input{
		TaskID:        "t4",
		Request:       flowdl.DownloadRequest{ID: "t4", URL: "fake://host/empty.bin"},
		ObservedState: func() flowdl.DownloadState { return flowdl.StateFailed },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fs.downloadCalls)
}

func TestExecutor_Run_ResumeUsesResumePath(t *testing.T) {
	fs := &fakeSource{size: 8}
	ex, dir := newExecutor(t, fs)
	outputPath := filepath.Join(dir, "resumed.bin")

	rec := flowdl.TaskRecord{
		ID:         "t5",
		Request:    flowdl.DownloadRequest{ID: "t5", URL: "fake://host/resumed.bin"},
		Resolved:   &flowdl.ResolvedSource{SourceKind: "fake", File: flowdl.SourceFile{Name: "resumed.bin", Size: 8}},
		OutputPath: outputPath,
		TotalBytes: 8,
		State:      flowdl.StatePaused,
	}

	_, err := ex.Run(context.Background(), Input{
		TaskID:        "t5",
		Request:       rec.Request,
		Resume:        &ResumeInfo{Record: rec},
		ObservedState: func() flowdl.DownloadState { return flowdl.StateFailed },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fs.resumeCalls)
	assert.Equal(t, 0, fs.downloadCalls)
}

func TestExecutor_Run_CancelKeepsPartialFile(t *testing.T) {
	fs := &fakeSource{size: 100, failTimes: 100}
	ex, dir := newExecutor(t, fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Run(ctx, Input{
		TaskID:        "t6",
		Request:       flowdl.DownloadRequest{ID: "t6", URL: "fake://host/out.bin"},
		ObservedState: func() flowdl.DownloadState { return flowdl.StatePaused },
	})
	require.Error(t, err)

	path := filepath.Join(dir, "out.bin")
	_, statErr := os.Stat(path)
	require.NoError(t, statErr) // file still exists (kept, not deleted, since observed state is Paused)
}
