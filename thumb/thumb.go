package thumb

import (
	"context"
	"errors"
	"io"
)

var (
	ErrCacheMiss         = errors.New("cache miss")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

type Cache interface {
	Open(key string) (io.ReadCloser, error)
	Write(key string, r io.Reader) error
	Remove(key string) error
}

// Thumbnailer creates thumbnails for local files.
type Thumbnailer interface {
	CanCreate(filename string) bool
	// Create returns a PNG thumbnail of the file at path. Filename is used to detect the
	// file format, it can differ from path for temporary files.
	Create(ctx context.Context, path, filename string, size Size) ([]byte, error)
}

// ThumbnailService creates and caches thumbnails of files under the served directory.
type ThumbnailService interface {
	CanCreate(filename string) bool
	OpenThumbnail(ctx context.Context, id FileID, size Size) (io.ReadCloser, error)
	Shutdown(context.Context) error
}
