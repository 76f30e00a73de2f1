package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShoshinNikita/thumbnailer/cmd"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
	"github.com/ShoshinNikita/thumbnailer/thumb"
)

func main() {
	cfg, err := thumb.ParseConfig()
	if err != nil {
		rlog.Errorf("invalid config: %s", err)
		os.Exit(1)
	}

	rlog.SetLevel(cfg.LogLevel)

	if !cfg.IsOneShot() {
		cfg.BuildInfo.Print()
		cfg.Print()
	}

	app := cmd.NewApp(cfg)

	// Always shutdown the app to not keep any office processes running.
	var (
		exitCode      int
		startFinished <-chan struct{}
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rlog.Debug("shutdown")
		if err := app.Shutdown(ctx); err != nil {
			rlog.Error(err)
		}

		if startFinished != nil {
			<-startFinished
		}

		os.Exit(exitCode)
	}()

	if err := app.Prepare(); err != nil {
		rlog.Error(err)
		exitCode = 1
		return
	}

	termCtx, termCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer termCtxCancel()

	if cfg.IsOneShot() {
		if err := app.RunOnce(termCtx); err != nil {
			rlog.Error(err)
			exitCode = 1
		}
		return
	}

	startFinished = app.Start(func() {
		exitCode = 1
		termCtxCancel()
	})

	<-termCtx.Done()
}
