package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShoshinNikita/thumbnailer/pkg/metrics"
	"github.com/ShoshinNikita/thumbnailer/pkg/misc"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

var (
	ErrServiceStopped = errors.New("thumbnail service is stopped")
	ErrQueueFull      = errors.New("thumbnail queue is full")
	ErrNotFile        = errors.New("not a regular file")
)

type ThumbnailService struct {
	dir         string
	root        *os.Root
	cache       thumb.Cache
	thumbnailer thumb.Thumbnailer
	taskTimeout time.Duration

	workersCount int

	tasksCh           chan *generateThumbnailTask
	inProgressTasks   map[string]*generateThumbnailTask
	inProgressTasksMu sync.Mutex
	stopped           bool

	workersDoneCh chan struct{}
}

var _ thumb.ThumbnailService = (*ThumbnailService)(nil)

type generateThumbnailTask struct {
	key    string
	fileID thumb.FileID
	size   thumb.Size

	doneCh chan struct{}
	// data and err are set before doneCh is closed.
	data []byte
	err  error
}

// NewThumbnailService prepares a new service for thumbnail generation of files under dir.
// At most workersCount thumbnails are generated at the same time.
func NewThumbnailService(dir string, thumbnailer thumb.Thumbnailer, cache thumb.Cache, workersCount int) (*ThumbnailService, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't get absolute path: %w", err)
	}
	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("couldn't open dir %q: %w", absDir, err)
	}

	s := &ThumbnailService{
		dir:         absDir,
		root:        root,
		cache:       cache,
		thumbnailer: thumbnailer,
		taskTimeout: time.Minute,
		//
		workersCount: workersCount,
		//
		tasksCh:         make(chan *generateThumbnailTask, 1000),
		inProgressTasks: make(map[string]*generateThumbnailTask),
		//
		workersDoneCh: make(chan struct{}),
	}

	go s.startWorkers()

	return s, nil
}

func (s *ThumbnailService) startWorkers() {
	var wg sync.WaitGroup
	for range s.workersCount {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for task := range s.tasksCh {
				s.processTask(task)
			}
		}()
	}
	wg.Wait()

	close(s.workersDoneCh)
}

func (s *ThumbnailService) processTask(task *generateThumbnailTask) {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	now := time.Now()
	task.data, task.err = s.generateThumbnail(ctx, task)
	dur := time.Since(now)

	metrics.ThumbnailsOriginalFileSizes.Observe(float64(task.fileID.GetSize()))

	if task.err != nil {
		rlog.Errorf("couldn't generate thumbnail for %q: %s", task.fileID.GetPath(), task.err)
	} else {
		rlog.Debugf(
			"thumbnail for %q was generated in %s, original size: %s, thumbnail size: %s",
			task.fileID.GetPath(), dur, misc.FormatFileSize(task.fileID.GetSize()), misc.FormatFileSize(int64(len(task.data))),
		)
	}

	s.inProgressTasksMu.Lock()
	delete(s.inProgressTasks, task.key)
	s.inProgressTasksMu.Unlock()

	close(task.doneCh)
}

func (s *ThumbnailService) generateThumbnail(ctx context.Context, task *generateThumbnailTask) ([]byte, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(strings.TrimPrefix(task.fileID.GetPath(), "/")))

	data, err := s.thumbnailer.Create(ctx, path, task.fileID.GetName(), task.size)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Write(task.key, bytes.NewReader(data)); err != nil {
		// The thumbnail is still valid, it will be generated again next time.
		rlog.Errorf("couldn't save thumbnail for %q to cache: %s", task.fileID.GetPath(), err)

		if err := s.cache.Remove(task.key); err != nil {
			rlog.Errorf("couldn't remove thumbnail for %q after write error: %s", task.fileID.GetPath(), err)
		}
	}
	return data, nil
}

func (*ThumbnailService) newCacheKey(id thumb.FileID, size thumb.Size) string {
	return id.String() + "_" + size.String()
}

// CanCreate detects if we can generate a thumbnail for a file based on its filename.
func (s *ThumbnailService) CanCreate(filename string) bool {
	return s.thumbnailer.CanCreate(filename)
}

// Stat returns [thumb.FileID] of a file under the served directory. Paths that escape
// the directory are rejected.
func (s *ThumbnailService) Stat(path string) (thumb.FileID, error) {
	id := thumb.NewFileID(misc.EnsurePrefix(path, "/"), 0, 0)

	info, err := s.root.Stat(strings.TrimPrefix(id.GetPath(), "/"))
	if err != nil {
		return thumb.FileID{}, err
	}
	if !info.Mode().IsRegular() {
		return thumb.FileID{}, fmt.Errorf("%w: %q", ErrNotFile, id.GetPath())
	}
	return thumb.NewFileID(id.GetPath(), info.ModTime().Unix(), info.Size()), nil
}

// OpenThumbnail returns the cached thumbnail or generates a new one. Concurrent calls
// for the same file and size share a single generation. It waits for the generation,
// but no longer than context timeout.
func (s *ThumbnailService) OpenThumbnail(ctx context.Context, id thumb.FileID, size thumb.Size) (io.ReadCloser, error) {
	if !s.CanCreate(id.GetName()) {
		return nil, fmt.Errorf("%w: %q", thumb.ErrUnsupportedFormat, id.GetExt())
	}

	key := s.newCacheKey(id, size)

	rc, err := s.cache.Open(key)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, thumb.ErrCacheMiss) {
		rlog.Errorf("couldn't open cached thumbnail for %q: %s", id.GetPath(), err)
	}

	task, err := s.sendTask(key, id, size)
	if err != nil {
		return nil, err
	}

	select {
	case <-task.doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if task.err != nil {
		return nil, task.err
	}
	return io.NopCloser(bytes.NewReader(task.data)), nil
}

// sendTask returns the in-progress task for the key or sends a new one to the queue.
func (s *ThumbnailService) sendTask(key string, id thumb.FileID, size thumb.Size) (*generateThumbnailTask, error) {
	s.inProgressTasksMu.Lock()
	defer s.inProgressTasksMu.Unlock()

	if s.stopped {
		return nil, ErrServiceStopped
	}
	if task, ok := s.inProgressTasks[key]; ok {
		return task, nil
	}

	task := &generateThumbnailTask{
		key:    key,
		fileID: id,
		size:   size,
		doneCh: make(chan struct{}),
	}
	select {
	case s.tasksCh <- task:
	default:
		return nil, ErrQueueFull
	}
	s.inProgressTasks[key] = task

	return task, nil
}

// Shutdown drops all tasks in the queue and waits for ones that are in progress
// with respect of the passed context.
func (s *ThumbnailService) Shutdown(ctx context.Context) error {
	s.inProgressTasksMu.Lock()
	if s.stopped {
		s.inProgressTasksMu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.tasksCh)
	s.inProgressTasksMu.Unlock()

	defer s.root.Close()

	// Workers and this loop compete for the remaining tasks.
	for task := range s.tasksCh {
		task.err = ErrServiceStopped

		s.inProgressTasksMu.Lock()
		delete(s.inProgressTasks, task.key)
		s.inProgressTasksMu.Unlock()

		close(task.doneCh)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.workersDoneCh:
		return nil
	}
}
