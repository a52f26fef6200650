// Package xlog is a minimal best-effort debug logger: a single file,
// opened once, timestamped lines. Not a general logging framework.
package xlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	debugFile *os.File
	debugOnce sync.Once
	debugPath = "flowdl-debug.log"
)

// SetPath overrides the debug log path. Must be called before the first
// Debug call to take effect.
func SetPath(path string) { debugPath = path }

// Debug appends a timestamped, formatted line to the debug log. Failures to
// open or write the log are swallowed: debug logging must never be the
// reason a download fails.
func Debug(format string, args ...any) {
	debugOnce.Do(func() {
		debugFile, _ = os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	})
	if debugFile == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
	debugFile.Sync()
}
