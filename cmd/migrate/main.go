// Command migrate applies migrations/*.sql in name order. With SEED_DIR set
// it then imports a CSV export into the snapshot tables.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"incidentwatch/internal/config"
	"incidentwatch/internal/sources"
	"incidentwatch/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dir := getenv("MIGRATIONS_DIR", "migrations")
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		logger.Error("failed to list migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Error("failed to read migration", slog.String("file", file), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			logger.Error("failed to apply migration", slog.String("file", file), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("applied migration", slog.String("file", file))
	}

	seedDir := os.Getenv("SEED_DIR")
	if seedDir == "" {
		return
	}
	cfg := config.Defaults()
	loader := &sources.CSVLoader{Dir: seedDir, Files: cfg.Source.Files, MaxRows: cfg.Limits.MaxRowsPerTable, Logger: logger}
	snap, _, err := loader.Load(ctx)
	if err != nil {
		logger.Error("failed to read seed data", slog.String("dir", seedDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	repo := storage.NewRepository(&storage.Store{Pool: pool}, storage.Tables(cfg.Source.Tables))
	counts, err := repo.ImportSnapshot(ctx, snap)
	if err != nil {
		logger.Error("failed to import seed data", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for kind, n := range counts {
		logger.Info("seeded table", slog.String("kind", string(kind)), slog.Int64("rows", n))
	}
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
