package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ShoshinNikita/thumbnailer/thumb"
)

// imageBackend scales images natively. Other backends render a frame or a page and
// pass it here.
type imageBackend struct{}

func (imageBackend) name() string {
	return "image"
}

func (imageBackend) create(_ context.Context, path string, size thumb.Size) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open image: %w", err)
	}
	defer f.Close()

	return resizeImage(f, size)
}

// resizeImage decodes an image, fits it into the box preserving the aspect ratio and
// encodes the result as PNG. Images are never upscaled.
func resizeImage(r io.Reader, size thumb.Size) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode image: %w", err)
	}

	if width, height, ok := fitSize(img.Bounds(), size.Width, size.Height); ok {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = dst
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("couldn't encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitSize calculates new width and height preserving the original aspect ratio.
// If the image already fits the box, it returns shouldResize = false.
func fitSize(bounds image.Rectangle, maxWidth, maxHeight int) (newWidth, newHeight int, shouldResize bool) {
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()

	if origWidth <= maxWidth && origHeight <= maxHeight {
		return 0, 0, false
	}

	newWidth, newHeight = origWidth, origHeight
	if newWidth > maxWidth {
		newHeight = origHeight * maxWidth / origWidth
		newWidth = maxWidth
	}
	if newHeight > maxHeight {
		newWidth = origWidth * maxHeight / origHeight
		newHeight = maxHeight
	}

	return max(newWidth, 1), max(newHeight, 1), true
}
