package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"freightflow/app"
	"freightflow/config"
	"freightflow/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("freightflow api: %v", err)
	}
}

func run() error {
	path := os.Getenv("FREIGHTFLOW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return serve(ctx, a)
}

// serve runs the HTTP server, outbox relay and quote sweeper until ctx ends
// or one of them fails.
func serve(ctx context.Context, a *app.App) error {
	srv := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http listening", "addr", srv.Addr, "version", a.Config.App.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.Relay.Run(ctx) })
	g.Go(func() error { return a.Sweeper.Run(ctx) })

	return g.Wait()
}
