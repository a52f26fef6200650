package httpsource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/httpengine"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/flowdl/flowdl/internal/segment"
	"github.com/flowdl/flowdl/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeServer(t *testing.T, body []byte, etag string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int
		_, err := fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func TestSource_ResolveAndDownload_FullFlow(t *testing.T) {
	body := []byte("0123456789ABCDEFGHIJ") // 20 bytes
	srv := rangeServer(t, body, `"v1"`)
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	cfg := &config.EngineConfig{MaxConnsPerTask: 4}
	src := New(engine, cfg)

	assert.True(t, src.CanHandle(srv.URL))
	assert.Equal(t, Kind, src.Kind())
	assert.False(t, src.ManagesOwnFileIO())

	resolved, err := src.Resolve(context.Background(), srv.URL, flowdl.DownloadRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), resolved.File.Size)
	assert.True(t, resolved.File.SupportsRange)
	assert.Equal(t, 4, resolved.MaxSegments)

	segs := segment.Calculate(resolved.File.Size, resolved.MaxSegments)
	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(resolved.File.Size))

	sctx := &source.Context{
		TaskID:       "t1",
		URL:          srv.URL,
		File:         f,
		Segments:     segs,
		TaskThrottle: ratelimit.Unlimited(),
		GlobalLimit:  ratelimit.Unlimited(),
	}
	require.NoError(t, src.Download(context.Background(), sctx))

	data, err := f.ReadAt(0, 20)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

// TestSource_Download_RetainsProgressAcrossFailedAttempt covers a batch
// failure partway through a transfer: sctx.Segments must reflect the
// bytes already written to disk, not the pre-attempt state, since
// execution.Executor.Run reuses the same *source.Context across retries
// and skips replanning whenever sctx.Segments is non-empty.
func TestSource_Download_RetainsProgressAcrossFailedAttempt(t *testing.T) {
	body := make([]byte, 20)
	for i := range body {
		body[i] = byte('A' + i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		start, end := 0, len(body)-1
		if rangeHdr != "" {
			fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
		}
		if end >= len(body) {
			end = len(body) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		for i := start; i <= end; i++ {
			w.Write(body[i : i+1])
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(30 * time.Millisecond)
		}
	}))
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	src := New(engine, &config.EngineConfig{})

	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(int64(len(body))))

	sctx := &source.Context{
		TaskID:       "t1",
		URL:          srv.URL,
		File:         f,
		Segments:     segment.Single(int64(len(body))),
		TaskThrottle: ratelimit.Unlimited(),
		GlobalLimit:  ratelimit.Unlimited(),
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	err = src.Download(shortCtx, sctx)
	require.Error(t, err)

	require.NotEmpty(t, sctx.Segments)
	var downloadedAfterFailure int64
	for _, s := range sctx.Segments {
		downloadedAfterFailure += s.Downloaded
	}
	assert.Greater(t, downloadedAfterFailure, int64(0))
	assert.Less(t, downloadedAfterFailure, int64(len(body)))

	require.NoError(t, src.Download(context.Background(), sctx))

	data, err := f.ReadAt(0, int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, body, data)

	var downloadedAfterCompletion int64
	for _, s := range sctx.Segments {
		downloadedAfterCompletion += s.Downloaded
	}
	assert.GreaterOrEqual(t, downloadedAfterCompletion, downloadedAfterFailure)
}

func TestSource_Resume_ETagMismatchFails(t *testing.T) {
	body := []byte("0123456789")
	srv := rangeServer(t, body, `"v2"`)
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	src := New(engine, &config.EngineConfig{})

	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(10))

	sctx := &source.Context{
		TaskID:       "t1",
		URL:          srv.URL,
		File:         f,
		Segments:     []flowdl.Segment{{Index: 0, Start: 0, End: 9, Downloaded: 5}},
		TaskThrottle: ratelimit.Unlimited(),
		GlobalLimit:  ratelimit.Unlimited(),
	}
	resumeState := encodeResumeState(`"v1"`, time.Time{}, 10)
	err = src.Resume(context.Background(), sctx, resumeState)
	assert.Error(t, err)
	var fc *flowdl.FileChangedError
	assert.ErrorAs(t, err, &fc)
}
