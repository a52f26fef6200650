package fileaccessor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFile_PreallocateWriteReadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part")
	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Preallocate(100))
	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)

	n, err := f.WriteAt(10, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := f.ReadAt(10, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestOSFile_ConcurrentNonOverlappingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part")
	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Preallocate(40))

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		i := i
		go func() {
			_, err := f.WriteAt(int64(i*10), []byte("0123456789"))
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	all, err := f.ReadAt(0, 40)
	require.NoError(t, err)
	assert.Equal(t, "0123456789012345678901234567890123456789", string(all))
}

func TestOSFile_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestOSFile_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Delete())
	_, err = Open(path)
	require.NoError(t, err) // deleting + reopening recreates the file
}
