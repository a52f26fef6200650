package httpengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
)

// NetHTTP is the default Engine, backed by net/http. A HEAD request is
// tried first; servers that reject or ignore HEAD are probed with a
// Range: bytes=0-0 GET instead, the same fallback the teacher's prober
// uses for servers that don't implement HEAD correctly.
type NetHTTP struct {
	client    *http.Client
	userAgent string
}

// NewNetHTTP builds a NetHTTP engine tuned from cfg.
func NewNetHTTP(cfg *config.EngineConfig) *NetHTTP {
	return &NetHTTP{
		client: &http.Client{
			Timeout: config.DefaultProbeTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     config.DefaultIdleConnTimeout,
				TLSHandshakeTimeout: config.DefaultTLSHandshakeTimeout,
			},
		},
		userAgent: cfg.GetUserAgent(),
	}
}

func (e *NetHTTP) setHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("User-Agent", e.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func (e *NetHTTP) Head(ctx context.Context, url string, headers map[string]string) (ServerInfo, error) {
	info, ok, err := e.tryHead(ctx, url, headers)
	if err != nil {
		return ServerInfo{}, err
	}
	if ok {
		return info, nil
	}
	return e.probeWithRangedGet(ctx, url, headers)
}

func (e *NetHTTP) tryHead(ctx context.Context, url string, headers map[string]string) (ServerInfo, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ServerInfo{}, false, &flowdl.NetworkError{URL: url, Err: err}
	}
	e.setHeaders(req, headers)

	resp, err := e.client.Do(req)
	if err != nil {
		return ServerInfo{}, false, &flowdl.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return ServerInfo{}, false, nil
	}
	if resp.StatusCode >= 400 {
		return ServerInfo{}, false, httpErrorFor(url, resp)
	}
	return infoFromHeader(resp), true, nil
}

func (e *NetHTTP) probeWithRangedGet(ctx context.Context, url string, headers map[string]string) (ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServerInfo{}, &flowdl.NetworkError{URL: url, Err: err}
	}
	e.setHeaders(req, headers)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := e.client.Do(req)
	if err != nil {
		return ServerInfo{}, &flowdl.NetworkError{URL: url, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return ServerInfo{}, httpErrorFor(url, resp)
	}

	info := infoFromHeader(resp)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		info.AcceptRanges = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx != -1 {
				if sizeStr := cr[idx+1:]; sizeStr != "*" {
					if n, perr := strconv.ParseInt(sizeStr, 10, 64); perr == nil {
						info.ContentLength = n
					}
				}
			}
		}
	case http.StatusOK:
		info.AcceptRanges = false
	}
	return info, nil
}

func infoFromHeader(resp *http.Response) ServerInfo {
	info := ServerInfo{
		ContentLength:      -1,
		AcceptRanges:       strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		ETag:               resp.Header.Get("ETag"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		RateLimitRemaining: -1,
		RateLimitReset:     -1,
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			info.ContentLength = n
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	if rem := resp.Header.Get("X-RateLimit-Remaining"); rem != "" {
		if n, err := strconv.Atoi(rem); err == nil {
			info.RateLimitRemaining = n
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if n, err := strconv.Atoi(reset); err == nil {
			info.RateLimitReset = n
		}
	}
	return info
}

func (e *NetHTTP) Download(ctx context.Context, url string, rng *ByteRange, headers map[string]string, onChunk func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &flowdl.NetworkError{URL: url, Err: err}
	}
	e.setHeaders(req, headers)
	if rng != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &flowdl.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpErrorFor(url, resp)
	}
	if rng != nil && resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &flowdl.HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if cerr := onChunk(buf[:n]); cerr != nil {
				return cerr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return &flowdl.NetworkError{URL: url, Err: rerr}
		}
	}
}

func httpErrorFor(url string, resp *http.Response) error {
	herr := &flowdl.HTTPError{URL: url, StatusCode: resp.StatusCode, RetryAfterSeconds: -1, RateLimitRemaining: -1}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if n, err := strconv.Atoi(ra); err == nil {
			herr.RetryAfterSeconds = n
		} else if t, err := http.ParseTime(ra); err == nil {
			if d := int(time.Until(t).Seconds()); d > 0 {
				herr.RetryAfterSeconds = d
			}
		}
	}
	if rem := resp.Header.Get("X-RateLimit-Remaining"); rem != "" {
		if n, err := strconv.Atoi(rem); err == nil {
			herr.RateLimitRemaining = n
		}
	}
	return herr
}
