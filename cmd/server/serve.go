package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tourneyaudit-server-go/internal/app"
	"tourneyaudit-server-go/internal/metrics"
	"tourneyaudit-server-go/internal/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	d, err := buildDependencies(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	cfg, log := d.cfg, d.log

	shutdownTracer, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warnw("tracer shutdown", "error", err)
		}
	}()

	monitor := metrics.NewMonitor(metrics.DefaultMemoryReader(), log.Named("memory"))
	go monitor.Run(ctx, 5*time.Second)

	var registry *metrics.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.New(monitor)
		d.store.SetObserver(registry)
	}

	a, err := app.New(app.Config{
		Feed:           d.feed,
		DB:             d.store,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Log:            log.Named("http"),
		Metrics:        registry,
		MetricsPath:    cfg.Metrics.Path,
		Monitor:        monitor,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server listening", "addr", server.Addr, "dispatch", cfg.Feed.Dispatch, "redis", cfg.Redis.Enabled, "tracing", cfg.Tracing.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
