// Command mcp-server exposes the incident queries as JSON-RPC 2.0 tools on
// /rpc for agent integrations.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"incidentwatch/internal/config"
	"incidentwatch/internal/incidents"
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

	tools := &toolServer{
		svc:      svc,
		defaults: cfg.DefaultQuery(),
		allow:    cfg.Source.Allowlist(),
		timeout:  cfg.Limits.MaxQueryDuration.Std() + 5*time.Second,
		logger:   logger,
	}
	if sqlLoader, ok := loader.(*sources.SQLLoader); ok {
		tools.tables = sqlLoader.Connector
	}

	port := getenv("MCP_PORT", "9000")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           tools.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      tools.timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("mcp server listening", slog.String("port", port), slog.String("source", loader.Name()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
