package fileaccessor

import (
	"fmt"
	"os"
	"sync"
)

// OSFile is the default FileAccessor, backed by a single *os.File opened
// once and shared across concurrent segment writers. It writes directly to
// the path it was opened with; nothing renames the file when the download
// completes.
type OSFile struct {
	mu   sync.Mutex
	path string
	f    *os.File

	closeOnce sync.Once
	closeErr  error
}

// Open creates (or reopens) the file at path for random-access read/write.
func Open(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fileaccessor: open %s: %w", path, err)
	}
	return &OSFile{path: path, f: f}, nil
}

func (o *OSFile) Preallocate(totalBytes int64) error {
	if totalBytes <= 0 {
		return nil
	}
	if err := o.f.Truncate(totalBytes); err != nil {
		return fmt.Errorf("fileaccessor: preallocate %s: %w", o.path, err)
	}
	return nil
}

// WriteAt is safe for concurrent callers writing at non-overlapping
// offsets: os.File.WriteAt itself is safe for concurrent use at distinct
// offsets, so no lock is held across the write.
func (o *OSFile) WriteAt(offset int64, p []byte) (int, error) {
	n, err := o.f.WriteAt(p, offset)
	if err != nil {
		return n, fmt.Errorf("fileaccessor: write %s at %d: %w", o.path, offset, err)
	}
	return n, nil
}

func (o *OSFile) ReadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := o.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("fileaccessor: read %s at %d: %w", o.path, offset, err)
	}
	return buf[:n], nil
}

func (o *OSFile) Size() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("fileaccessor: stat %s: %w", o.path, err)
	}
	return info.Size(), nil
}

func (o *OSFile) Flush() error {
	if err := o.f.Sync(); err != nil {
		return fmt.Errorf("fileaccessor: sync %s: %w", o.path, err)
	}
	return nil
}

// Close is idempotent: repeated calls return the first Close error, if
// any, without reinvoking the underlying syscall.
func (o *OSFile) Close() error {
	o.closeOnce.Do(func() {
		o.closeErr = o.f.Close()
	})
	return o.closeErr
}

func (o *OSFile) Delete() error {
	o.Close()
	if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileaccessor: delete %s: %w", o.path, err)
	}
	return nil
}

// Path returns the backing file path.
func (o *OSFile) Path() string { return o.path }
