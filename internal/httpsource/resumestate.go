package httpsource

import (
	"encoding/json"
	"time"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/source"
)

// resumePayload is the HTTP source's concrete encoding of
// flowdl.SourceResumeState.Data: UTF-8 JSON carrying just enough to
// validate that the remote resource hasn't changed since the original
// attempt.
type resumePayload struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
	TotalBytes   int64     `json:"totalBytes"`
}

func encodeResumeState(etag string, lastModified time.Time, totalBytes int64) flowdl.SourceResumeState {
	data, _ := json.Marshal(resumePayload{ETag: etag, LastModified: lastModified, TotalBytes: totalBytes})
	return flowdl.SourceResumeState{SourceKind: Kind, Data: data}
}

func decodeResumeState(rs flowdl.SourceResumeState) (resumePayload, error) {
	var p resumePayload
	if len(rs.Data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(rs.Data, &p); err != nil {
		return p, &flowdl.CorruptResumeStateError{Reason: err.Error()}
	}
	return p, nil
}

// BuildResumeState snapshots the server identity needed to validate a
// future resume attempt.
func (s *Source) BuildResumeState(resolved flowdl.ResolvedSource, totalBytes int64) flowdl.SourceResumeState {
	return encodeResumeState(resolved.File.ETag, resolved.File.LastModified, totalBytes)
}

// UpdateResumeState has nothing periodic to snapshot for HTTP beyond the
// segment list the execution layer already persists, so it reports no
// update.
func (s *Source) UpdateResumeState(ctx *source.Context) (flowdl.SourceResumeState, bool) {
	return flowdl.SourceResumeState{}, false
}
