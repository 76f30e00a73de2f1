package thumbnails

import (
	"bytes"
	"context"
	"errors"

	"github.com/ShoshinNikita/thumbnailer/thumb"
)

// pdfBackend renders the first page of PDF and PostScript files with GhostScript.
type pdfBackend struct {
	bin string
}

func (pdfBackend) name() string {
	return "pdf"
}

func (b pdfBackend) create(ctx context.Context, path string, size thumb.Size) ([]byte, error) {
	page, err := runCommand(ctx, b.bin,
		"-q",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		"-sOutputFile=-",
		"-dFirstPage=1",
		"-dLastPage=1",
		path,
	)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return nil, errors.New("ghostscript rendered no pages")
	}
	return resizeImage(bytes.NewReader(page), size)
}
