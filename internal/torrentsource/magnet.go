package torrentsource

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/flowdl/flowdl"
)

// MagnetInfo is a parsed magnet URI: `xt=urn:btih:<hex|base32>`, `dn`, and
// any number of `tr` tracker hints.
type MagnetInfo struct {
	InfoHash    string
	DisplayName string
	Trackers    []string
}

// IsMagnetURI reports whether raw looks like a magnet link, without fully
// parsing it.
func IsMagnetURI(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), "magnet:")
}

// ParseMagnet decodes a magnet URI into its info hash, display name, and
// tracker list. The info hash is normalized to uppercase hex regardless of
// whether the URI carried it as hex or base32.
func ParseMagnet(raw string) (MagnetInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return MagnetInfo{}, &flowdl.ValidationFailedError{Field: "url", Reason: "invalid magnet uri: " + err.Error()}
	}
	if strings.ToLower(u.Scheme) != "magnet" {
		return MagnetInfo{}, &flowdl.UnsupportedError{Reason: "not a magnet uri"}
	}

	q := u.Query()
	var hash string
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if strings.HasPrefix(strings.ToLower(xt), prefix) {
			hash = xt[len(prefix):]
			break
		}
	}
	if hash == "" {
		return MagnetInfo{}, &flowdl.ValidationFailedError{Field: "xt", Reason: "magnet uri is missing urn:btih info hash"}
	}

	normalized, err := normalizeInfoHash(hash)
	if err != nil {
		return MagnetInfo{}, err
	}

	return MagnetInfo{
		InfoHash:    normalized,
		DisplayName: q.Get("dn"),
		Trackers:    q["tr"],
	}, nil
}

// normalizeInfoHash accepts either the 40-character hex or 32-character
// base32 encoding BEP 9 allows for `xt=urn:btih:...` and returns uppercase
// hex either way.
func normalizeInfoHash(raw string) (string, error) {
	switch len(raw) {
	case 40:
		if _, err := hex.DecodeString(raw); err != nil {
			return "", &flowdl.ValidationFailedError{Field: "xt", Reason: "info hash is not valid hex"}
		}
		return strings.ToUpper(raw), nil
	case 32:
		decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(raw))
		if err != nil {
			return "", &flowdl.ValidationFailedError{Field: "xt", Reason: "info hash is not valid base32"}
		}
		return strings.ToUpper(hex.EncodeToString(decoded)), nil
	default:
		return "", &flowdl.ValidationFailedError{Field: "xt", Reason: "info hash must be 40 hex or 32 base32 characters"}
	}
}
