package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ShoshinNikita/thumbnailer/pkg/metrics"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

type DiskCache struct {
	absDir  string
	cleaner interface {
		Shutdown(context.Context) error
	}
}

var _ thumb.Cache = (*DiskCache)(nil)

type Options struct {
	MaxSize        int64
	MaxAge         time.Duration
	DisableCleaner bool
}

func NewDiskCache(dir string, opts Options) (*DiskCache, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't get absolute path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("couldn't create cache dir %q: %w", absDir, err)
	}

	c := &DiskCache{
		absDir: absDir,
	}
	if opts.DisableCleaner {
		c.cleaner = NewNoopCleaner()
	} else {
		c.cleaner = NewCleaner(absDir, opts.MaxAge, opts.MaxSize)
	}
	return c, nil
}

// Open returns an [io.ReadCloser] with cache content. If the key is not cached, it returns [thumb.ErrCacheMiss].
func (c *DiskCache) Open(key string) (io.ReadCloser, error) {
	file, err := os.Open(c.generateFilepath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.CacheMisses.Inc()
			return nil, thumb.ErrCacheMiss
		}

		metrics.CacheErrors.Inc()
		return nil, err
	}

	metrics.CacheHits.Inc()
	return file, nil
}

// Write stores the content of the passed [io.Reader]. Readers never see partially written
// files: the content is written to a temp file in the same dir and then renamed.
func (c *DiskCache) Write(key string, r io.Reader) (err error) {
	path := c.generateFilepath(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("couldn't create dir %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("couldn't create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("couldn't write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("couldn't close file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("couldn't rename temp file: %w", err)
	}
	return nil
}

// Remove removes the cache file. To remove cache files over time use [Cleaner], cache
// files should be manually removed only in case of an error.
func (c *DiskCache) Remove(key string) error {
	err := os.Remove(c.generateFilepath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (c *DiskCache) Shutdown(ctx context.Context) error {
	return c.cleaner.Shutdown(ctx)
}

// generateFilepath generates a filepath of pattern '<dir>/<first 2 chars of hash>/<sha256 of key>'.
func (c *DiskCache) generateFilepath(key string) string {
	hash := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(hash[:])

	return filepath.Join(c.absDir, name[:2], name)
}
