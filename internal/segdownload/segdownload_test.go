package segdownload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/fileaccessor"
	"github.com/flowdl/flowdl/internal/httpengine"
	"github.com/flowdl/flowdl/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_FullSegment(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(10))

	seg := flowdl.Segment{Index: 0, Start: 0, End: 9}
	var lastProgress flowdl.Segment
	got, err := Download(context.Background(), engine, srv.URL, seg, nil, f, ratelimit.Unlimited(), ratelimit.Unlimited(), func(s flowdl.Segment) {
		lastProgress = s
	})
	require.NoError(t, err)
	assert.True(t, got.Done())
	assert.Equal(t, int64(10), lastProgress.Downloaded)

	data, err := f.ReadAt(0, 10)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestDownload_AlreadyDoneIsNoOp(t *testing.T) {
	seg := flowdl.Segment{Index: 0, Start: 0, End: 9, Downloaded: 10}
	got, err := Download(context.Background(), nil, "http://unused", seg, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, seg, got)
}

func TestDownload_ResumesFromCurrentOffset(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		assert.Equal(t, "bytes=5-9", rangeHdr)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[5:])
	}))
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(10))
	f.WriteAt(0, full[:5])

	seg := flowdl.Segment{Index: 0, Start: 0, End: 9, Downloaded: 5}
	got, err := Download(context.Background(), engine, srv.URL, seg, nil, f, ratelimit.Unlimited(), ratelimit.Unlimited(), nil)
	require.NoError(t, err)
	assert.True(t, got.Done())

	data, err := f.ReadAt(0, 10)
	require.NoError(t, err)
	assert.Equal(t, full, data)
}

func TestDownload_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	engine := httpengine.NewNetHTTP(nil)
	f, err := fileaccessor.Open(filepath.Join(t.TempDir(), "out.part"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seg := flowdl.Segment{Index: 0, Start: 0, End: 9}
	_, err = Download(ctx, engine, srv.URL, seg, nil, f, ratelimit.Unlimited(), ratelimit.Unlimited(), nil)
	assert.Error(t, err)
}
