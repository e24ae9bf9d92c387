package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"incidentwatch/internal/bus"
	"incidentwatch/internal/config"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/scheduler"
	"incidentwatch/internal/sources"
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

	publisher, err := bus.NewPublisher(cfg.Runtime.NATSURL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer publisher.Close()
	subscriber, err := bus.NewSubscriber(cfg.Runtime.NATSURL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer subscriber.Close()

	reg := scheduler.NewRegistry(svc, publisher, cfg.Runtime.WorkerCount, cfg.Runtime.JobTimeout.Std(), logger)
	defer reg.Stop()
	for _, profile := range scanProfiles(cfg) {
		if err := reg.Schedule(profile); err != nil {
			logger.Error("invalid scan profile", slog.String("profile", profile.Name), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	reload := func(reason string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		logger.Info("reloading snapshot", slog.String("reason", reason))
		_, err := sources.Refresh(ctx, loader, svc, logger)
		return err
	}
	if _, err := subscriber.SubscribeReload(func(req bus.ReloadRequest) {
		_ = reload(req.Reason)
	}); err != nil {
		logger.Error("failed to subscribe", slog.String("subject", bus.SubjectSnapshotReload), slog.String("error", err.Error()))
	}

	go startAdminServer(cfg.Runtime.AdminPort, newAdminMux(reg, svc, reload), logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
}

// scanProfiles returns the configured profiles, or one profile built from
// the detection defaults when none are configured.
func scanProfiles(cfg config.Config) []scheduler.Profile {
	if len(cfg.Profiles) == 0 {
		return []scheduler.Profile{{
			Name:        "default",
			Threshold:   cfg.Detection.Threshold,
			MinDuration: cfg.Detection.MinDuration.Std(),
			Interval:    time.Minute,
			Cooldown:    time.Hour,
		}}
	}
	out := make([]scheduler.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		out = append(out, scheduler.Profile{
			Name:        p.Name,
			DeviceID:    p.DeviceID,
			Threshold:   p.Threshold,
			MinDuration: p.MinDuration.Std(),
			Interval:    p.Interval.Std(),
			Cooldown:    p.Cooldown.Std(),
		})
	}
	return out
}
