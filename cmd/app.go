package cmd

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/pkg/cache"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
	"github.com/ShoshinNikita/thumbnailer/thumb"
	"github.com/ShoshinNikita/thumbnailer/thumbnails"
	"github.com/ShoshinNikita/thumbnailer/web"
)

type App struct {
	cfg thumb.Config

	officePool       *office.HandlePool
	thumbnailer      *thumbnails.Dispatcher
	thumbnailCache   *cache.DiskCache
	thumbnailService *thumbnails.ThumbnailService

	server *web.Server
}

func NewApp(cfg thumb.Config) *App {
	return &App{
		cfg: cfg,
	}
}

// Prepare creates the components shared by the server and one-shot modes.
func (app *App) Prepare() (err error) {
	app.prepareThumbnailer()

	if app.cfg.IsOneShot() {
		return nil
	}

	app.thumbnailCache, err = cache.NewDiskCache(app.cfg.Cache.Dir, cache.Options{
		MaxSize: app.cfg.Cache.Size.Bytes(),
		MaxAge:  app.cfg.Cache.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("couldn't prepare disk cache for thumbnails: %w", err)
	}

	app.thumbnailService, err = thumbnails.NewThumbnailService(
		app.cfg.Dir, app.thumbnailer, app.thumbnailCache, app.cfg.WorkersCount,
	)
	if err != nil {
		return fmt.Errorf("couldn't prepare thumbnail service: %w", err)
	}

	app.server = web.NewServer(app.cfg, app.thumbnailService, app.thumbnailer, app.officePool)

	return nil
}

func (app *App) prepareThumbnailer() {
	app.officePool = office.NewHandlePool(
		office.NewOpener(office.DefaultExportOptions()), app.cfg.Office.PoolOptions(),
	)

	opts := thumbnails.Options{
		OfficePool:   app.officePool,
		OfficeTarget: app.cfg.Office.Target,
	}
	thumbnails.CheckDeps(opts)

	app.thumbnailer = thumbnails.NewDispatcher(opts)
}

func (app *App) Start(onError func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for name, s := range map[string]interface{ Start() error }{
			"web server": app.server,
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := s.Start(); err != nil {
					rlog.Errorf("%s error: %s", name, err)
					onError()
				}
			}()
		}
		wg.Wait()

		close(done)
	}()

	return done
}

// RunOnce creates a thumbnail for cfg.Input and writes it to cfg.Output.
func (app *App) RunOnce(ctx context.Context) error {
	data, err := app.thumbnailer.Create(ctx, app.cfg.Input, app.cfg.Input, app.cfg.ThumbnailSize)
	if err != nil {
		return fmt.Errorf("couldn't create thumbnail for %q: %w", app.cfg.Input, err)
	}

	if err := os.WriteFile(app.cfg.Output, data, 0o600); err != nil {
		return fmt.Errorf("couldn't write thumbnail: %w", err)
	}

	rlog.Infof("thumbnail for %q was saved to %q", app.cfg.Input, app.cfg.Output)
	return nil
}

// Shutdown shutdowns all components. It is safe to call this method even if Prepare has failed.
func (app *App) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"web server", app.server},
		{"thumbnail service", app.thumbnailService},
		{"thumbnail cache", app.thumbnailCache},
		{"office pool", app.officePool},
	} {
		err := safeShutdown(ctx, v.s)
		if err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("couldn't gracefully shutdown %d component(s), see logs for more info", failed)
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
