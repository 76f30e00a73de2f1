package thumb

import (
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FileID identifies a version of a source file.
type FileID struct {
	path    string // full path
	name    string // only filename
	modTime int64  // unix time
	size    int64
}

// NewFileID returns a new [FileID] with cleaned filepath and filename. The path is kept
// as is to access the file, only [FileID.String] is normalized.
func NewFileID(filepath string, modTime, size int64) FileID {
	filepath = path.Clean(filepath)
	name := path.Base(filepath)

	return FileID{
		path:    filepath,
		name:    name,
		modTime: modTime,
		size:    size,
	}
}

// GetPath returns full filepath.
func (id FileID) GetPath() string {
	return id.path
}

// GetName returns only filename (last path element).
func (id FileID) GetName() string {
	return id.name
}

// GetExt returns the lower-cased file extension with the leading dot.
func (id FileID) GetExt() string {
	return strings.ToLower(path.Ext(id.name))
}

// GetModTime returns the modification time.
func (id FileID) GetModTime() time.Time {
	return time.Unix(id.modTime, 0).UTC()
}

func (id FileID) GetSize() int64 {
	return id.size
}

// String returns a key that identifies the file version. The path is normalized
// to NFC, so composed and decomposed forms of the same name have the same key.
func (id FileID) String() string {
	return fmt.Sprintf("%s_%d_%d", norm.NFC.String(id.path), id.modTime, id.size)
}
