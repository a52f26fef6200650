package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/source"
)

type stubSource struct {
	kind   string
	scheme string
}

func (s *stubSource) Kind() string          { return s.kind }
func (s *stubSource) ManagesOwnFileIO() bool { return false }
func (s *stubSource) CanHandle(url string) bool {
	return len(url) >= len(s.scheme) && url[:len(s.scheme)] == s.scheme
}
func (s *stubSource) Resolve(ctx context.Context, url string, req flowdl.DownloadRequest) (flowdl.ResolvedSource, error) {
	return flowdl.ResolvedSource{SourceKind: s.kind}, nil
}
func (s *stubSource) Download(ctx context.Context, sctx *source.Context) error { return nil }
func (s *stubSource) Resume(ctx context.Context, sctx *source.Context, resume flowdl.SourceResumeState) error {
	return nil
}
func (s *stubSource) BuildResumeState(resolved flowdl.ResolvedSource, totalBytes int64) flowdl.SourceResumeState {
	return flowdl.SourceResumeState{SourceKind: s.kind}
}
func (s *stubSource) UpdateResumeState(ctx *source.Context) (flowdl.SourceResumeState, bool) {
	return flowdl.SourceResumeState{}, false
}

var _ source.Source = (*stubSource)(nil)

func TestResolverForURLTriesInRegistrationOrder(t *testing.T) {
	r := New()
	r.Register(&stubSource{kind: "http", scheme: "http"})
	r.Register(&stubSource{kind: "torrent", scheme: "magnet:"})

	s, err := r.ForURL("https://example.com/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "http", s.Kind())

	s, err = r.ForURL("magnet:?xt=urn:btih:abc")
	require.NoError(t, err)
	assert.Equal(t, "torrent", s.Kind())
}

func TestResolverForURLUnregisteredScheme(t *testing.T) {
	r := New()
	r.Register(&stubSource{kind: "http", scheme: "http"})

	_, err := r.ForURL("ftp://example.com/file")
	assert.Error(t, err)
}

func TestResolverForKind(t *testing.T) {
	r := New()
	r.Register(&stubSource{kind: "http", scheme: "http"})
	r.Register(&stubSource{kind: "torrent", scheme: "magnet:"})

	s, err := r.ForKind("torrent")
	require.NoError(t, err)
	assert.Equal(t, "torrent", s.Kind())

	_, err = r.ForKind("ftp")
	assert.Error(t, err)
}
