package httpsource

import (
	"net/url"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// suggestedFileName implements the resolution order from the HTTP source's
// filename heuristics: Content-Disposition, then the URL's last path
// segment, then a hardcoded fallback. sniff, if non-empty, is a sample of
// response bytes used to guess an extension via magic-byte matching when
// the candidate name has none.
func suggestedFileName(rawURL string, header map[string][]string, sniff []byte) string {
	var candidate string
	if _, name, err := httpheader.ContentDisposition(header); err == nil && name != "" {
		candidate = name
	}

	if candidate == "" {
		if u, err := url.Parse(rawURL); err == nil {
			candidate = path.Base(u.Path)
		}
	}

	name := sanitize(candidate)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}

	if path.Ext(name) == "" && len(sniff) > 0 {
		if kind, _ := filetype.Match(sniff); kind != filetype.Unknown && kind.Extension != "" {
			name = name + "." + kind.Extension
		}
	}
	return name
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return replacer.Replace(name)
}
