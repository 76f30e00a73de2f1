// Package office manages pooled sessions to office suites that convert documents to PDF.
package office

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when a target is unreachable or rejects a new session.
	ErrConnection = errors.New("office connection error")
	// ErrConversion is returned when a target can't load or export a document.
	// The handle stays valid.
	ErrConversion = errors.New("office conversion error")
	// ErrPath is returned when a document path doesn't exist or isn't a regular file.
	ErrPath = errors.New("invalid document path")

	ErrPoolClosed = errors.New("office pool is closed")
	// ErrLeaseReleased is returned when a released lease is used.
	ErrLeaseReleased = errors.New("office lease is released")
)

// Handle is a live session to an office service bound to a single target.
//
// A handle performs one conversion at a time: its methods must not be called
// concurrently. [HandlePool] guarantees that.
type Handle interface {
	// ConvertToPDF loads the document at the local path and returns the exported PDF.
	ConvertToPDF(ctx context.Context, path string) ([]byte, error)
	// Close releases the session. It is idempotent.
	Close() error
}

// Pinger can be implemented by handles that are able to check whether their
// session is still alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Opener establishes new sessions.
type Opener interface {
	Open(ctx context.Context, target Target) (Handle, error)
}

type OpenerFunc func(ctx context.Context, target Target) (Handle, error)

func (fn OpenerFunc) Open(ctx context.Context, target Target) (Handle, error) {
	return fn(ctx, target)
}

// ExportOptions control how documents are loaded and exported.
type ExportOptions struct {
	// Hidden loads documents without any UI. Only local soffice sessions use it.
	Hidden bool
	// PageRange restricts the export, for example "1" or "1-3". Empty means all pages.
	PageRange string
}

func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Hidden:    true,
		PageRange: "1",
	}
}

// NewOpener returns an [Opener] that picks the session implementation by the target protocol.
func NewOpener(opts ExportOptions) Opener {
	return OpenerFunc(func(ctx context.Context, target Target) (Handle, error) {
		var (
			h   Handle
			err error
		)
		switch target.Protocol {
		case ProtocolSoffice:
			h, err = openSoffice(ctx, target, opts)
		case ProtocolHTTP, ProtocolHTTPS:
			h, err = openGotenberg(ctx, target, opts)
		default:
			err = fmt.Errorf("%w: unsupported protocol %q", ErrConnection, target.Protocol)
		}
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}
