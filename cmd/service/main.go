package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"incidentwatch/internal/api"
	"incidentwatch/internal/bus"
	"incidentwatch/internal/config"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/sources"
	"incidentwatch/internal/tabular"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.Runtime.NewLogger()
	ctx := context.Background()

	loader, err := sources.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open snapshot source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer loader.Close()

	svc := incidents.NewService(nil, cfg.Settings(), logger)
	if _, err := sources.Refresh(ctx, loader, svc, logger); err != nil {
		os.Exit(1)
	}

	reload := func(ctx context.Context) ([]tabular.Report, error) {
		return sources.Refresh(ctx, loader, svc, logger)
	}
	handler := &api.Handler{
		Service:  svc,
		Defaults: cfg.DefaultQuery(),
		Reload:   reload,
		Timeout:  cfg.Limits.MaxQueryDuration.Std() + 5*time.Second,
		Logger:   logger,
	}
	if publisher, err := bus.NewPublisher(cfg.Runtime.NATSURL); err != nil {
		logger.Warn("nats unavailable, reloads will not be announced", slog.String("error", err.Error()))
	} else {
		defer publisher.Close()
		handler.Bus = publisher
	}

	stopReload := make(chan struct{})
	if interval := cfg.Runtime.ReloadInterval.Std(); interval > 0 {
		go reloadEvery(interval, reload, stopReload)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Runtime.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      handler.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		close(stopReload)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("incident service listening", slog.String("port", cfg.Runtime.Port), slog.String("source", loader.Name()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func reloadEvery(interval time.Duration, reload api.ReloadFunc, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, _ = reload(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}
