// Package httpengine defines the pluggable HTTP transport the HTTP source
// drives, plus a net/http-backed default implementation.
package httpengine

import (
	"context"
	"time"
)

// ServerInfo is what a HEAD probe discovers about a remote resource.
type ServerInfo struct {
	ContentLength      int64 // -1 if unknown
	AcceptRanges       bool
	ETag               string
	LastModified       time.Time
	ContentDisposition string
	RateLimitRemaining int // -1 if not reported
	RateLimitReset     int // seconds; -1 if not reported
}

// Engine is the pluggable HTTP transport. Errors returned must be either a
// *flowdl.NetworkError, a *flowdl.HTTPError, or wrap one via errors.As so
// the retry policy in internal/execution can classify them.
type Engine interface {
	Head(ctx context.Context, url string, headers map[string]string) (ServerInfo, error)
	// Download issues a ranged GET when rng is non-nil, streaming response
	// bytes to onChunk in order. onChunk returning an error aborts the
	// request and is returned unchanged (used to propagate disk/cancel
	// errors without reclassifying them).
	Download(ctx context.Context, url string, rng *ByteRange, headers map[string]string, onChunk func([]byte) error) error
}

// ByteRange is an inclusive byte range for a ranged GET.
type ByteRange struct {
	Start, End int64
}
