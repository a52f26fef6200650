package execution

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowdl/flowdl"
	"github.com/flowdl/flowdl/internal/config"
)

// ResolveOutputPath implements the output-path resolution rules from the
// download execution contract: an absolute request Filename wins outright;
// otherwise the request's directory/filename hints combine with the
// resolved source's suggested name and the engine's default directory, and
// a local (non-URL) path that already exists is disambiguated with a
// " (n)" suffix before the extension.
func ResolveOutputPath(req flowdl.DownloadRequest, resolved flowdl.ResolvedSource, cfg *config.EngineConfig) string {
	if filepath.IsAbs(req.Filename) {
		return req.Filename
	}

	dir := req.OutputDir
	if dir == "" {
		dir = cfg.GetDefaultDirectory()
	}

	name := req.Filename
	if name == "" {
		name = resolved.File.Name
	}
	if name == "" {
		return dir
	}

	path := filepath.Join(dir, name)
	if looksLocal(path) {
		return uniquePath(path)
	}
	return path
}

func looksLocal(path string) bool {
	return !strings.Contains(path, "://")
}

// uniquePath appends " (n)" before the extension with the smallest n that
// makes the path (and its in-progress ".part" sibling) fresh.
func uniquePath(path string) string {
	if !exists(path) && !exists(path+config.PartialSuffix) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for n := 1; n < 10000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if !exists(candidate) && !exists(candidate+config.PartialSuffix) {
			return candidate
		}
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
