package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/thumbnailer/thumb"
)

func TestDiskCache(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	tempDir := t.TempDir()

	cache, err := NewDiskCache(tempDir, Options{DisableCleaner: true})
	r.NoError(err)

	const key = "/home/Users/Персик/1.odt_1650027901_15_128x128"

	path := cache.generateFilepath(key)
	r.Equal(tempDir, filepath.Dir(filepath.Dir(path)))
	r.Len(filepath.Base(path), 64)
	r.Equal(filepath.Base(path)[:2], filepath.Base(filepath.Dir(path)))

	t.Run("remove", func(t *testing.T) {
		r := require.New(t)

		r.False(checkFile(t, cache, key))

		err := cache.Write(key, strings.NewReader("hello world"))
		r.NoError(err)
		r.True(checkFile(t, cache, key))

		r.NoError(cache.Remove(key))
		r.False(checkFile(t, cache, key))

		// Removing a missing file is not an error.
		r.NoError(cache.Remove(key))
	})

	t.Run("read", func(t *testing.T) {
		r := require.New(t)

		err := cache.Write(key, strings.NewReader("hello world"))
		r.NoError(err)

		rc, err := cache.Open(key)
		r.NoError(err)

		data, err := io.ReadAll(rc)
		r.NoError(err)
		r.Equal("hello world", string(data))

		r.NoError(rc.Close())
	})

	t.Run("failed write", func(t *testing.T) {
		r := require.New(t)

		const key = "failed"

		cache, err := NewDiskCache(t.TempDir(), Options{DisableCleaner: true})
		r.NoError(err)

		err = cache.Write(key, io.MultiReader(strings.NewReader("partial"), errReader{}))
		r.Error(err)
		r.False(checkFile(t, cache, key))

		entries, err := os.ReadDir(filepath.Dir(cache.generateFilepath(key)))
		r.NoError(err)
		r.Empty(entries, "temp file must be removed")
	})

	r.NoError(cache.Shutdown(t.Context()))
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("read error")
}

func checkFile(t *testing.T, cache *DiskCache, key string) bool {
	rc, err := cache.Open(key)
	if errors.Is(err, thumb.ErrCacheMiss) {
		return false
	}
	require.NoError(t, err)
	rc.Close()
	return true
}
