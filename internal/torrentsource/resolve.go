package torrentsource

import (
	"context"
	"os"
	"strconv"

	"github.com/flowdl/flowdl"
)

// Resolve parses a magnet URI (fetching its metadata over the torrent
// engine) or decodes a local .torrent file, then builds a ResolvedSource
// covering every file the torrent carries — total size only counts the
// files req.SelectedFileIds selects, or every file if it's empty.
func (s *Source) Resolve(ctx context.Context, rawURL string, req flowdl.DownloadRequest) (flowdl.ResolvedSource, error) {
	meta, err := s.resolveMetadata(ctx, rawURL)
	if err != nil {
		return flowdl.ResolvedSource{}, err
	}
	if len(meta.Files) == 0 {
		return flowdl.ResolvedSource{}, &flowdl.UnsupportedError{Reason: "torrent metadata has no files"}
	}

	selected := selectionSet(req.SelectedFileIds)
	files := make([]flowdl.SourceFile, len(meta.Files))
	var total int64
	for i, f := range meta.Files {
		files[i] = flowdl.SourceFile{Name: f.Path, Size: f.Size}
		if selected == nil || selected[i] {
			total += f.Size
		}
	}

	name := meta.Name
	if req.Filename != "" {
		name = req.Filename
	}

	return flowdl.ResolvedSource{
		SourceKind: Kind,
		File: flowdl.SourceFile{
			Name:          name,
			Size:          total,
			SupportsRange: true,
		},
		Files:       files,
		MaxSegments: len(files),
		Metadata: map[string]string{
			"infoHash":    meta.InfoHash,
			"pieceLength": strconv.FormatInt(meta.PieceLength, 10),
			"name":        meta.Name,
			"comment":     meta.Comment,
		},
	}, nil
}

func (s *Source) resolveMetadata(ctx context.Context, rawURL string) (Metadata, error) {
	if IsMagnetURI(rawURL) {
		magnet, err := ParseMagnet(rawURL)
		if err != nil {
			return Metadata{}, err
		}
		if err := s.ensureStarted(ctx); err != nil {
			return Metadata{}, &flowdl.SourceError{SourceKind: Kind, Err: err}
		}
		meta, err := s.engine.FetchMetadata(ctx, rawURL, s.cfg.GetTorrentMetadataTimeout())
		if err != nil {
			return Metadata{}, &flowdl.SourceError{SourceKind: Kind, Err: err}
		}
		if meta.InfoHash == "" {
			meta.InfoHash = magnet.InfoHash
		}
		if meta.Name == "" {
			meta.Name = magnet.DisplayName
		}
		return meta, nil
	}

	data, err := os.ReadFile(rawURL)
	if err != nil {
		return Metadata{}, &flowdl.DiskError{Path: rawURL, Err: err}
	}
	return ParseTorrentFile(data)
}

func selectionSet(ids []int) map[int]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
