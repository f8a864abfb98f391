package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.Config()
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	coordinator := app.Coordinator()
	recovered, err := coordinator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		slog.Warn("marked interrupted ingestion tasks as failed", "count", recovered)
	}
	// Workers outlive the signal; Release stops them in order.
	coordinator.Start(context.WithoutCancel(ctx))

	apiServer, err := app.NewServer()
	if err != nil {
		return err
	}
	servers := []*http.Server{{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.MetricsAddr != "" {
		servers = append(servers, app.Metrics().Server(cfg.Server.MetricsAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down %s: %w", srv.Addr, err))
			}
		}
		coordinator.Release()
		return errors.Join(errs...)
	})

	return g.Wait()
}
