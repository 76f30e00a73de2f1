package thumbnails

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShoshinNikita/thumbnailer/thumb"
)

// videoBackend grabs a frame at the first second with ffmpeg.
type videoBackend struct {
	bin string
}

func (videoBackend) name() string {
	return "video"
}

func (b videoBackend) create(ctx context.Context, path string, size thumb.Size) ([]byte, error) {
	dir, err := os.MkdirTemp("", "thumbnailer-ffmpeg-*")
	if err != nil {
		return nil, fmt.Errorf("couldn't create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	frame := filepath.Join(dir, "frame.png")

	_, err = runCommand(ctx, b.bin,
		"-nostdin",
		"-loglevel", "error",
		"-ss", "1",
		"-i", path,
		"-vframes", "1",
		frame,
	)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(frame)
	if err != nil {
		// ffmpeg exits with 0 when the video is shorter than the seek position.
		return nil, fmt.Errorf("ffmpeg grabbed no frames: %w", err)
	}
	defer f.Close()

	return resizeImage(f, size)
}
