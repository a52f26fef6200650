package torrentsource

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/flowdl/flowdl"
)

// ParseTorrentFile decodes a .torrent file's bencoded payload into Metadata,
// computing the info hash as the SHA-1 digest of the raw info dictionary
// bytes (the same definition BEP 3 gives the info hash).
func ParseTorrentFile(data []byte) (Metadata, error) {
	root, err := decodeBencode(data)
	if err != nil {
		return Metadata{}, &flowdl.ValidationFailedError{Field: "torrent", Reason: err.Error()}
	}
	dict, ok := root.(map[string]any)
	if !ok {
		return Metadata{}, &flowdl.ValidationFailedError{Field: "torrent", Reason: "root value is not a dictionary"}
	}
	infoRaw, ok := dict["_infoRaw"].([]byte)
	if !ok {
		return Metadata{}, &flowdl.ValidationFailedError{Field: "torrent", Reason: "missing info dictionary"}
	}
	info, _ := dict["info"].(map[string]any)
	if info == nil {
		return Metadata{}, &flowdl.ValidationFailedError{Field: "torrent", Reason: "missing info dictionary"}
	}

	sum := sha1.Sum(infoRaw)
	infoHash := strings.ToUpper(hex.EncodeToString(sum[:]))

	name, _ := bencodeString(info["name"])
	var pieceLength int64
	if pl, ok := info["piece length"].(int64); ok {
		pieceLength = pl
	}

	files, err := torrentFiles(info, name)
	if err != nil {
		return Metadata{}, err
	}

	comment, _ := bencodeString(dict["comment"])
	var trackers []string
	if announce, ok := bencodeString(dict["announce"]); ok && announce != "" {
		trackers = append(trackers, announce)
	}
	if list, ok := dict["announce-list"].([]any); ok {
		for _, tier := range list {
			tierList, ok := tier.([]any)
			if !ok {
				continue
			}
			for _, t := range tierList {
				if s, ok := bencodeString(t); ok {
					trackers = append(trackers, s)
				}
			}
		}
	}

	return Metadata{
		InfoHash:    infoHash,
		Name:        name,
		Comment:     comment,
		PieceLength: pieceLength,
		Trackers:    trackers,
		Files:       files,
	}, nil
}

// torrentFiles handles both the single-file form (`info.length`) and the
// multi-file form (`info.files`, each a `{length, path: [...]}`).
func torrentFiles(info map[string]any, name string) ([]FileInfo, error) {
	if rawFiles, ok := info["files"].([]any); ok {
		files := make([]FileInfo, 0, len(rawFiles))
		for _, rf := range rawFiles {
			fd, ok := rf.(map[string]any)
			if !ok {
				continue
			}
			length, _ := fd["length"].(int64)
			rawPath, _ := fd["path"].([]any)
			parts := make([]string, 0, len(rawPath))
			for _, p := range rawPath {
				if s, ok := bencodeString(p); ok {
					parts = append(parts, s)
				}
			}
			files = append(files, FileInfo{Path: filepath.Join(parts...), Size: length})
		}
		return files, nil
	}
	if length, ok := info["length"].(int64); ok {
		return []FileInfo{{Path: name, Size: length}}, nil
	}
	return nil, &flowdl.ValidationFailedError{Field: "torrent", Reason: "info dictionary has neither length nor files"}
}
