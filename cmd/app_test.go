package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

func TestSafeShutdown(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	err := safeShutdown(ctx, nil)
	r.NoError(err)

	err = safeShutdown(ctx, (*testShutdowner)(nil))
	r.NoError(err)

	err = safeShutdown(ctx, new(testShutdowner))
	r.Equal(err.Error(), "test")
}

type testShutdowner struct{}

func (*testShutdowner) Shutdown(context.Context) error { return errors.New("test") }

func TestApp_RunOnce(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	dir := t.TempDir()

	buf := bytes.NewBuffer(nil)
	r.NoError(png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 512, 256))))

	input := filepath.Join(dir, "input.png")
	r.NoError(os.WriteFile(input, buf.Bytes(), 0o600))

	app := NewApp(thumb.Config{
		ThumbnailSize: thumb.DefaultSize,
		WorkersCount:  1,
		Office:        thumb.OfficeConfig{Target: office.Target{Protocol: office.ProtocolSoffice}},
		Input:         input,
		Output:        filepath.Join(dir, "output.png"),
	})
	r.NoError(app.Prepare())
	t.Cleanup(func() {
		require.NoError(t, app.Shutdown(ctx))
	})

	r.NoError(app.RunOnce(ctx))

	f, err := os.Open(filepath.Join(dir, "output.png"))
	r.NoError(err)
	defer f.Close()

	img, err := png.Decode(f)
	r.NoError(err)
	r.Equal(image.Pt(128, 64), img.Bounds().Size())

	// Unsupported files.
	app.cfg.Input = filepath.Join(dir, "input.zip")
	r.ErrorIs(app.RunOnce(ctx), thumb.ErrUnsupportedFormat)
}

func TestApp_Server(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	dir := t.TempDir()

	app := NewApp(thumb.Config{
		ServerPort:    18080,
		Dir:           dir,
		Cache:         thumb.CacheConfig{Dir: filepath.Join(dir, "cache"), Size: 10},
		ThumbnailSize: thumb.DefaultSize,
		WorkersCount:  1,
		Office:        thumb.OfficeConfig{Target: office.Target{Protocol: office.ProtocolSoffice}},
	})
	r.NoError(app.Prepare())
	r.NotNil(app.server)
	r.DirExists(filepath.Join(dir, "cache"))

	r.NoError(app.Shutdown(ctx))
}
