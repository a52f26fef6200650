package torrentsource

import (
	"encoding/json"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/source"
)

// resumePayload is the torrent source's concrete encoding of
// flowdl.SourceResumeState.Data: UTF-8 JSON carrying the info hash, save
// path, file selection, and the engine's own opaque resume blob. Go's
// encoding/json base64-encodes a []byte field automatically, matching the
// resumeData(base64) payload shape.
type resumePayload struct {
	InfoHash        string `json:"infoHash"`
	TotalBytes      int64  `json:"totalBytes"`
	ResumeData      []byte `json:"resumeData,omitempty"`
	SelectedFileIds []int  `json:"selectedFileIds,omitempty"`
	SavePath        string `json:"savePath"`
}

func decodeResumePayload(rs flowdl.SourceResumeState) (resumePayload, error) {
	var p resumePayload
	if len(rs.Data) == 0 {
		return p, &flowdl.CorruptResumeStateError{Reason: "empty torrent resume payload"}
	}
	if err := json.Unmarshal(rs.Data, &p); err != nil {
		return p, &flowdl.CorruptResumeStateError{Reason: err.Error()}
	}
	return p, nil
}

// BuildResumeState snapshots just enough to reattach when nothing more
// specific is available yet; UpdateResumeState supersedes it once the
// session has produced its own resume blob.
func (s *Source) BuildResumeState(resolved flowdl.ResolvedSource, totalBytes int64) flowdl.SourceResumeState {
	payload := resumePayload{
		InfoHash:   resolved.Metadata["infoHash"],
		TotalBytes: totalBytes,
	}
	data, _ := json.Marshal(payload)
	return flowdl.SourceResumeState{SourceKind: Kind, Data: data}
}

// UpdateResumeState asks the running session for a fresh SaveResumeData
// snapshot, so a crash mid-transfer loses at most one snapshot interval of
// piece progress rather than the whole torrent.
func (s *Source) UpdateResumeState(ctx *source.Context) (flowdl.SourceResumeState, bool) {
	sess := s.sessionFor(ctx.TaskID)
	if sess == nil {
		return flowdl.SourceResumeState{}, false
	}
	data, err := sess.SaveResumeData()
	if err != nil {
		return flowdl.SourceResumeState{}, false
	}
	payload := resumePayload{
		InfoHash:        ctx.Resolved.Metadata["infoHash"],
		TotalBytes:      ctx.Resolved.File.Size,
		ResumeData:      data,
		SelectedFileIds: ctx.Request.SelectedFileIds,
		SavePath:        ctx.Request.OutputDir,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return flowdl.SourceResumeState{}, false
	}
	return flowdl.SourceResumeState{SourceKind: Kind, Data: encoded}, true
}
