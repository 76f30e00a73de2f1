// Package thumbnails creates PNG thumbnails of images, videos, PDF and office documents.
package thumbnails

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/pkg/metrics"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

var (
	imageExts = []string{
		".png", ".jpg", ".jpeg", ".jpe", ".gif", ".bmp", ".tif", ".tiff", ".webp",
	}
	videoExts = []string{
		".mpg", ".mpeg", ".avi", ".wmv", ".mkv", ".fli", ".flc", ".flv", ".ac3", ".cin", ".vob",
		".mp4", ".mov", ".webm",
	}
	pdfExts = []string{
		".pdf", ".ps", ".eps",
	}
	officeExts = []string{
		".odt", ".ods", ".odp", ".dot", ".docm", ".dotx", ".dotm", ".psw",
		".doc", ".xls", ".ppt", ".wpd", ".wps", ".csv", ".sdw", ".sgl", ".vor",
		".docx", ".xlsx", ".pptx", ".xlsm", ".xltx", ".xltm", ".xlt", ".xlw", ".dif",
		".rtf", ".txt", ".pxl",
	}
)

type backend interface {
	name() string
	create(ctx context.Context, path string, size thumb.Size) ([]byte, error)
}

type Options struct {
	// OfficePool converts office documents. Office documents are not supported if it is nil.
	OfficePool   OfficePool
	OfficeTarget office.Target

	// Default: "ffmpeg".
	FFmpegBin string
	// Default: "gs".
	GhostscriptBin string
}

func (opts *Options) setDefaults() {
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	if opts.GhostscriptBin == "" {
		opts.GhostscriptBin = "gs"
	}
}

// Dispatcher picks a backend by the file extension.
type Dispatcher struct {
	backends map[string]backend
}

var _ thumb.Thumbnailer = (*Dispatcher)(nil)

func NewDispatcher(opts Options) *Dispatcher {
	opts.setDefaults()

	pdf := pdfBackend{bin: opts.GhostscriptBin}

	d := &Dispatcher{
		backends: make(map[string]backend),
	}
	d.register(imageBackend{}, imageExts)
	d.register(videoBackend{bin: opts.FFmpegBin}, videoExts)
	d.register(pdf, pdfExts)
	if opts.OfficePool != nil {
		d.register(officeBackend{pool: opts.OfficePool, target: opts.OfficeTarget, pdf: pdf}, officeExts)
	}
	return d
}

func (d *Dispatcher) register(b backend, exts []string) {
	for _, ext := range exts {
		d.backends[ext] = b
	}
}

func (d *Dispatcher) getBackend(filename string) (backend, bool) {
	b, ok := d.backends[strings.ToLower(filepath.Ext(filename))]
	return b, ok
}

func (d *Dispatcher) CanCreate(filename string) bool {
	_, ok := d.getBackend(filename)
	return ok
}

// Create returns a PNG thumbnail that fits the size. It returns [thumb.ErrUnsupportedFormat]
// for unknown extensions.
func (d *Dispatcher) Create(ctx context.Context, path, filename string, size thumb.Size) ([]byte, error) {
	if err := size.Validate(); err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}

	b, ok := d.getBackend(filename)
	if !ok {
		return nil, fmt.Errorf("%w: %q", thumb.ErrUnsupportedFormat, filepath.Ext(filename))
	}

	now := time.Now()
	data, err := b.create(ctx, path, size)
	if err != nil {
		metrics.ThumbnailsErrors.WithLabelValues(b.name()).Inc()
		return nil, fmt.Errorf("%s backend: %w", b.name(), err)
	}
	metrics.ThumbnailsCreateDuration.WithLabelValues(b.name()).Observe(time.Since(now).Seconds())

	return data, nil
}

// CheckDeps logs a warning for every missing external command. Files that need
// them can't be processed, but other formats still work.
func CheckDeps(opts Options) {
	opts.setDefaults()

	for _, v := range []struct {
		bin     string
		formats string
	}{
		{opts.FFmpegBin, "videos"},
		{opts.GhostscriptBin, "pdf and office documents"},
	} {
		if _, err := exec.LookPath(v.bin); err != nil {
			rlog.Warnf("%s is not installed, thumbnails for %s can't be created: %s", v.bin, v.formats, err)
		}
	}
}
