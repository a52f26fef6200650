package httpsource

import (
	"context"
	"net/http"
	"strconv"

	"github.com/flowdl/flowdl"
)

// Resolve issues a HEAD (or HEAD-equivalent) probe and fills out a
// ResolvedSource, following the suggested-filename and metadata rules in
// the HTTP source's resolve contract.
func (s *Source) Resolve(ctx context.Context, rawURL string, req flowdl.DownloadRequest) (flowdl.ResolvedSource, error) {
	info, err := s.engine.Head(ctx, rawURL, req.Headers)
	if err != nil {
		return flowdl.ResolvedSource{}, err
	}

	supportsResume := info.AcceptRanges && info.ContentLength > 0

	header := http.Header{}
	if info.ContentDisposition != "" {
		header.Set("Content-Disposition", info.ContentDisposition)
	}
	name := suggestedFileName(rawURL, header, nil)
	if req.Filename != "" {
		name = req.Filename
	}

	maxSegments := 1
	if supportsResume {
		maxSegments = s.cfg.GetMaxConnsPerTask()
	}

	metadata := map[string]string{}
	if info.ETag != "" {
		metadata["etag"] = info.ETag
	}
	if !info.LastModified.IsZero() {
		metadata["lastModified"] = info.LastModified.Format(http.TimeFormat)
	}
	metadata["acceptRanges"] = boolToStr(info.AcceptRanges)
	if info.RateLimitRemaining >= 0 {
		metadata["rateLimitRemaining"] = strconv.Itoa(info.RateLimitRemaining)
	}
	if info.RateLimitReset >= 0 {
		metadata["rateLimitReset"] = strconv.Itoa(info.RateLimitReset)
	}
	if info.ContentDisposition != "" {
		metadata["contentDisposition"] = info.ContentDisposition
	}

	total := info.ContentLength

	return flowdl.ResolvedSource{
		SourceKind: Kind,
		File: flowdl.SourceFile{
			Name:          name,
			Size:          total,
			SupportsRange: supportsResume,
			ETag:          info.ETag,
			LastModified:  info.LastModified,
		},
		MaxSegments: maxSegments,
		Metadata:    metadata,
	}, nil
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
