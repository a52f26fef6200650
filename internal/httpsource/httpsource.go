// Package httpsource implements the HTTP(S) Source: range-probing,
// segment planning, live resegmentation during transfer, ETag/Last-
// Modified based resume validation, and resume-state round-tripping.
package httpsource

import (
	"net/url"
	"strings"

	"github.com/flowdl/flowdl/internal/config"
	"github.com/flowdl/flowdl/internal/httpengine"
)

const Kind = "http"

// Source is the default HTTP/HTTPS Source implementation.
type Source struct {
	engine httpengine.Engine
	cfg    *config.EngineConfig
}

// New builds an HTTP Source using engine for all network I/O.
func New(engine httpengine.Engine, cfg *config.EngineConfig) *Source {
	return &Source{engine: engine, cfg: cfg}
}

func (s *Source) Kind() string           { return Kind }
func (s *Source) ManagesOwnFileIO() bool { return false }

func (s *Source) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
