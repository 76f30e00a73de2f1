package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

func newTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	return img
}

func encodeImage(t *testing.T, ext string, img image.Image) []byte {
	t.Helper()

	buf := bytes.NewBuffer(nil)

	var err error
	switch ext {
	case ".png":
		err = png.Encode(buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(buf, img, nil)
	case ".gif":
		err = gif.Encode(buf, img, nil)
	case ".bmp":
		err = bmp.Encode(buf, img)
	case ".tiff":
		err = tiff.Encode(buf, img, nil)
	default:
		t.Fatalf("unexpected ext %q", ext)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func writeScript(t *testing.T, dir, name, script string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700)) //nolint:gosec
	return path
}

func TestFitSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		bounds    image.Rectangle
		maxWidth  int
		maxHeight int
		//
		wantWidth        int
		wantHeight       int
		wantShouldResize bool
	}{
		{
			bounds:   image.Rect(0, 0, 1000, 800),
			maxWidth: 1000, maxHeight: 1000,
			wantShouldResize: false,
		},
		{
			bounds:   image.Rect(0, 0, 1100, 800),
			maxWidth: 1000, maxHeight: 1000,
			wantWidth: 1000, wantHeight: 727, wantShouldResize: true,
		},
		{
			bounds:   image.Rect(0, 0, 1000, 1400),
			maxWidth: 1000, maxHeight: 500,
			wantWidth: 357, wantHeight: 500, wantShouldResize: true,
		},
		{
			// Both sides are too large.
			bounds:   image.Rect(0, 0, 1000, 800),
			maxWidth: 128, maxHeight: 64,
			wantWidth: 80, wantHeight: 64, wantShouldResize: true,
		},
		{
			bounds:   image.Rect(0, 0, 10000, 10),
			maxWidth: 128, maxHeight: 128,
			wantWidth: 128, wantHeight: 1, wantShouldResize: true,
		},
	} {
		t.Run(fmt.Sprintf("%v-%dx%d", tt.bounds.Size(), tt.maxWidth, tt.maxHeight), func(t *testing.T) {
			r := require.New(t)

			gotWidth, gotHeight, shouldResize := fitSize(tt.bounds, tt.maxWidth, tt.maxHeight)
			r.Equal(tt.wantWidth, gotWidth)
			r.Equal(tt.wantHeight, gotHeight)
			r.Equal(tt.wantShouldResize, shouldResize)
		})
	}
}

func TestDispatcher_CanCreate(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	d := NewDispatcher(Options{})
	r.True(d.CanCreate("/home/users/test.png"))
	r.True(d.CanCreate("/home/users/test.pNg"))
	r.True(d.CanCreate("test with space.JPEG"))
	r.True(d.CanCreate("movie.avi"))
	r.True(d.CanCreate("paper.pdf"))
	r.True(d.CanCreate("paper.eps"))
	r.False(d.CanCreate("report.odt"), "office documents need a pool")
	r.False(d.CanCreate("archive.zip"))
	r.False(d.CanCreate("no-ext"))

	d = NewDispatcher(Options{OfficePool: office.NewHandlePool(nil, office.Options{})})
	for _, name := range []string{"report.odt", "table.xlsx", "old.doc", "notes.txt", "slides.pptx", "data.csv", "letter.rtf"} {
		r.True(d.CanCreate(name), name)
	}
}

func TestDispatcher_Image(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := NewDispatcher(Options{})

	for _, ext := range []string{".png", ".jpg", ".gif", ".bmp", ".tiff"} {
		t.Run(ext, func(t *testing.T) {
			r := require.New(t)

			path := writeFile(t, dir, "large"+ext, encodeImage(t, ext, newTestImage(400, 200)))

			data, err := d.Create(context.Background(), path, filepath.Base(path), thumb.DefaultSize)
			r.NoError(err)
			r.Equal(image.Pt(128, 64), decodePNG(t, data).Bounds().Size())
		})
	}

	t.Run("no upscale", func(t *testing.T) {
		r := require.New(t)

		path := writeFile(t, dir, "small.png", encodeImage(t, ".png", newTestImage(30, 50)))

		data, err := d.Create(context.Background(), path, "small.png", thumb.Size{Width: 500, Height: 500})
		r.NoError(err)
		r.Equal(image.Pt(30, 50), decodePNG(t, data).Bounds().Size())
	})

	t.Run("filename is used for format detection", func(t *testing.T) {
		r := require.New(t)

		path := writeFile(t, dir, "upload-123", encodeImage(t, ".jpg", newTestImage(256, 256)))

		data, err := d.Create(context.Background(), path, "photo.JPG", thumb.DefaultSize)
		r.NoError(err)
		r.Equal(image.Pt(128, 128), decodePNG(t, data).Bounds().Size())
	})

	t.Run("invalid image", func(t *testing.T) {
		r := require.New(t)

		path := writeFile(t, dir, "broken.png", []byte("not an image"))

		_, err := d.Create(context.Background(), path, "broken.png", thumb.DefaultSize)
		r.ErrorContains(err, "couldn't decode image")
	})

	t.Run("unsupported format", func(t *testing.T) {
		r := require.New(t)

		_, err := d.Create(context.Background(), "/tmp/file.zip", "file.zip", thumb.DefaultSize)
		r.ErrorIs(err, thumb.ErrUnsupportedFormat)
	})

	t.Run("invalid size", func(t *testing.T) {
		r := require.New(t)

		_, err := d.Create(context.Background(), "/tmp/file.png", "file.png", thumb.Size{})
		r.ErrorContains(err, "invalid size")
	})
}

// fakeGhostscript prints the png from the first format argument if the input file exists.
const fakeGhostscript = `#!/bin/sh
for last; do true; done
if [ ! -f "$last" ]; then
	echo "no input file: $last" >&2
	exit 1
fi
case "$last" in
*broken*)
	echo "Error: /undefined in %%%%EOF" >&2
	exit 1
	;;
esac
cat %q
`

// fakeFFmpeg copies the png from the first format argument to the last argument.
const fakeFFmpeg = `#!/bin/sh
for last; do true; done
case "$*" in
*short*) exit 0 ;;
esac
cp %q "$last"
`

func TestDispatcher_Tools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	t.Parallel()

	dir := t.TempDir()
	frame := writeFile(t, dir, "frame.png", encodeImage(t, ".png", newTestImage(200, 400)))

	d := NewDispatcher(Options{
		FFmpegBin:      writeScript(t, dir, "ffmpeg", fmt.Sprintf(fakeFFmpeg, frame)),
		GhostscriptBin: writeScript(t, dir, "gs", fmt.Sprintf(fakeGhostscript, frame)),
	})

	for _, name := range []string{"paper.pdf", "figure.eps", "movie.mkv"} {
		t.Run(name, func(t *testing.T) {
			r := require.New(t)

			path := writeFile(t, dir, name, []byte("content"))

			data, err := d.Create(context.Background(), path, name, thumb.DefaultSize)
			r.NoError(err)
			r.Equal(image.Pt(64, 128), decodePNG(t, data).Bounds().Size())
		})
	}

	t.Run("ghostscript error", func(t *testing.T) {
		r := require.New(t)

		path := writeFile(t, dir, "broken.pdf", []byte("content"))

		_, err := d.Create(context.Background(), path, "broken.pdf", thumb.DefaultSize)
		r.ErrorContains(err, "pdf backend")
		r.ErrorContains(err, "/undefined")
	})

	t.Run("short video", func(t *testing.T) {
		r := require.New(t)

		path := writeFile(t, dir, "short.mp4", []byte("content"))

		_, err := d.Create(context.Background(), path, "short.mp4", thumb.DefaultSize)
		r.ErrorContains(err, "ffmpeg grabbed no frames")
	})

	t.Run("missing tool", func(t *testing.T) {
		r := require.New(t)

		d := NewDispatcher(Options{GhostscriptBin: filepath.Join(dir, "missing-gs")})

		_, err := d.Create(context.Background(), filepath.Join(dir, "paper.pdf"), "paper.pdf", thumb.DefaultSize)
		r.Error(err)
	})
}

type testOfficeHandle struct {
	converted []string
}

func (h *testOfficeHandle) ConvertToPDF(_ context.Context, path string) ([]byte, error) {
	if filepath.Base(path) == "broken.odt" {
		return nil, fmt.Errorf("%w: source file could not be loaded", office.ErrConversion)
	}
	h.converted = append(h.converted, path)
	return []byte("%PDF-1.4"), nil
}

func (*testOfficeHandle) Close() error {
	return nil
}

func TestDispatcher_Office(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	dir := t.TempDir()
	frame := writeFile(t, dir, "frame.png", encodeImage(t, ".png", newTestImage(300, 300)))

	target, err := office.ParseTarget("http://localhost:3000")
	r.NoError(err)

	var handles []*testOfficeHandle
	pool := office.NewHandlePool(office.OpenerFunc(func(_ context.Context, got office.Target) (office.Handle, error) {
		if got != target {
			return nil, errors.New("unexpected target")
		}
		h := &testOfficeHandle{}
		handles = append(handles, h)
		return h, nil
	}), office.Options{})
	t.Cleanup(func() {
		require.NoError(t, pool.Shutdown(context.Background()))
	})

	d := NewDispatcher(Options{
		OfficePool:     pool,
		OfficeTarget:   target,
		GhostscriptBin: writeScript(t, dir, "gs", fmt.Sprintf(fakeGhostscript, frame)),
	})

	doc := writeFile(t, dir, "report.odt", []byte("content"))
	for range 3 {
		data, err := d.Create(ctx, doc, "report.odt", thumb.DefaultSize)
		r.NoError(err)
		r.Equal(image.Pt(128, 128), decodePNG(t, data).Bounds().Size())
	}

	// Sequential conversions reuse the same session.
	r.Len(handles, 1)
	r.Equal([]string{doc, doc, doc}, handles[0].converted)
	r.Equal([]office.TargetStats{{Target: target.String(), Total: 1, InUse: 0}}, pool.Stats())

	t.Run("conversion error", func(t *testing.T) {
		r := require.New(t)

		broken := writeFile(t, dir, "broken.odt", []byte("content"))

		_, err := d.Create(ctx, broken, "broken.odt", thumb.DefaultSize)
		r.ErrorIs(err, office.ErrConversion)

		// The handle is released on error.
		r.Equal([]office.TargetStats{{Target: target.String(), Total: 1, InUse: 0}}, pool.Stats())
	})
}
