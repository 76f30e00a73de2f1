package cache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ShoshinNikita/thumbnailer/pkg/misc"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

type NoopCleaner struct{}

func NewNoopCleaner() *NoopCleaner {
	return &NoopCleaner{}
}

func (NoopCleaner) Shutdown(context.Context) error {
	return nil
}

// Cleaner periodically removes expired cache files and keeps the total size of the cache
// under the limit. Zero maxAge or maxTotalSize disables the corresponding check.
type Cleaner struct {
	dir          string
	interval     time.Duration
	maxAge       time.Duration
	maxTotalSize int64 // in bytes

	stopCh chan struct{}
	doneCh chan struct{}
}

type cacheFile struct {
	path    string
	modTime time.Time
	size    int64
}

func NewCleaner(dir string, maxAge time.Duration, maxTotalSize int64) *Cleaner {
	c := &Cleaner{
		dir:          dir,
		interval:     5 * time.Minute,
		maxAge:       maxAge,
		maxTotalSize: maxTotalSize,
		//
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go c.run()

	return c
}

func (c *Cleaner) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.cleanup(time.Now())
	for {
		select {
		case now := <-ticker.C:
			c.cleanup(now)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cleaner) cleanup(now time.Time) {
	files, err := c.loadFiles()
	if err != nil {
		rlog.Errorf("couldn't load cache files: %s", err)
		return
	}

	toRemove := c.selectExpired(files, now)
	if len(toRemove) == 0 {
		return
	}

	var (
		removed int
		freed   int64
	)
	for _, f := range toRemove {
		if err := os.Remove(f.path); err != nil {
			rlog.Errorf("couldn't remove cache file %q: %s", f.path, err)
			continue
		}
		removed++
		freed += f.size
	}
	rlog.Infof("%d cache files have been removed, %s freed", removed, misc.FormatFileSize(freed))
}

// loadFiles returns all cache files. Temp files of unfinished writes are skipped.
func (c *Cleaner) loadFiles() (files []cacheFile, err error) {
	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("couldn't get info of %q: %w", path, err)
		}
		files = append(files, cacheFile{
			path:    path,
			modTime: info.ModTime(),
			size:    info.Size(),
		})
		return nil
	})
	return files, err
}

// selectExpired returns files older than maxAge and then the oldest files until the
// total size of the remaining ones fits maxTotalSize.
func (c *Cleaner) selectExpired(files []cacheFile, now time.Time) []cacheFile {
	files = slices.Clone(files)
	slices.SortFunc(files, func(a, b cacheFile) int {
		return a.modTime.Compare(b.modTime)
	})

	var totalSize int64
	for _, f := range files {
		totalSize += f.size
	}

	var n int
	for _, f := range files {
		expired := c.maxAge > 0 && now.Sub(f.modTime) > c.maxAge
		tooLarge := c.maxTotalSize > 0 && totalSize > c.maxTotalSize
		if !expired && !tooLarge {
			break
		}
		totalSize -= f.size
		n++
	}
	return files[:n]
}

func (c *Cleaner) Shutdown(ctx context.Context) error {
	close(c.stopCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return nil
	}
}
