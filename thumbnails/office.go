package thumbnails

import (
	"context"
	"fmt"
	"os"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

// OfficePool is implemented by [office.HandlePool].
type OfficePool interface {
	Do(ctx context.Context, target office.Target, fn func(*office.Lease) error) error
}

// officeBackend converts documents to PDF with a pooled office session and renders
// the first page with [pdfBackend].
type officeBackend struct {
	pool   OfficePool
	target office.Target
	pdf    pdfBackend
}

func (officeBackend) name() string {
	return "office"
}

func (b officeBackend) create(ctx context.Context, path string, size thumb.Size) ([]byte, error) {
	var pdf []byte
	err := b.pool.Do(ctx, b.target, func(l *office.Lease) (err error) {
		pdf, err = l.ConvertToPDF(ctx, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't convert document to pdf: %w", err)
	}

	f, err := os.CreateTemp("", "thumbnailer-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("couldn't create temp pdf file: %w", err)
	}
	defer os.Remove(f.Name())

	_, err = f.Write(pdf)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't write temp pdf file: %w", err)
	}

	return b.pdf.create(ctx, f.Name(), size)
}
