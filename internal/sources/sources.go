// Package sources loads fleet snapshots from CSV directories, SQL databases
// reached through dbconnector, or the native Postgres store.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"incidentwatch/internal/fleet"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/metrics"
	"incidentwatch/internal/tabular"
)

// Loader produces a complete snapshot. A missing table yields an empty part
// and a report flagged Missing; other read failures abort the load.
type Loader interface {
	Name() string
	Load(ctx context.Context) (*fleet.Snapshot, []tabular.Report, error)
	Close() error
}

// tableReader returns the raw rows of one table kind, reading at most limit
// rows when limit is positive.
type tableReader func(ctx context.Context, kind tabular.Kind, limit int) (rows []map[string]any, missing bool, err error)

// readLimit asks readers for one row past the cap so a cut-off table can be
// told apart from one that fits exactly.
func readLimit(maxRows int) int {
	if maxRows <= 0 {
		return 0
	}
	return maxRows + 1
}

func load(ctx context.Context, source string, maxRows int, read tableReader, logger *slog.Logger) (*fleet.Snapshot, []tabular.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := fleet.NewBuilder()
	reports := make([]tabular.Report, 0, len(tabular.Kinds))
	for _, kind := range tabular.Kinds {
		if err := ctx.Err(); err != nil {
			metrics.SnapshotLoadsTotal.WithLabelValues(source, "error").Inc()
			return nil, nil, err
		}
		rows, missing, err := read(ctx, kind, readLimit(maxRows))
		if err != nil {
			metrics.SnapshotLoadsTotal.WithLabelValues(source, "error").Inc()
			return nil, nil, fmt.Errorf("load %s: %w", kind, err)
		}
		if missing {
			logger.Warn("snapshot table missing", slog.String("source", source), slog.String("kind", string(kind)))
			reports = append(reports, tabular.Report{Kind: kind, Missing: true})
			continue
		}
		truncated := maxRows > 0 && len(rows) > maxRows
		if truncated {
			rows = rows[:maxRows]
		}
		report := tabular.Decode(kind, rows, b)
		if truncated {
			report.Truncated = true
			metrics.TruncatedTablesTotal.WithLabelValues(string(kind)).Inc()
			logger.Warn("table truncated at limits.maxRowsPerTable",
				slog.String("source", source),
				slog.String("kind", string(kind)),
				slog.Int("maxRows", maxRows),
			)
		}
		if report.Skipped > 0 || report.SensorErrors > 0 {
			logger.Warn("skipped malformed records",
				slog.String("source", source),
				slog.String("kind", string(kind)),
				slog.Int("skipped", report.Skipped),
				slog.Int("sensorErrors", report.SensorErrors),
			)
		}
		if report.AggregateMismatches > 0 {
			logger.Warn("aggregate scores disagree with sensor maxima",
				slog.String("source", source),
				slog.Int("rows", report.AggregateMismatches),
			)
		}
		reports = append(reports, report)
	}
	metrics.SnapshotLoadsTotal.WithLabelValues(source, "ok").Inc()
	snap := b.Build(time.Now().UTC())
	if dup := snap.Summary().DuplicatePoints; dup > 0 {
		logger.Warn("dropped score points with duplicate timestamps", slog.String("source", source), slog.Int("dropped", dup))
	}
	return snap, reports, nil
}

// Refresh loads a new snapshot and swaps it into the service. On failure the
// service keeps its current snapshot.
func Refresh(ctx context.Context, loader Loader, svc *incidents.Service, logger *slog.Logger) ([]tabular.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, reports, err := loader.Load(ctx)
	if err != nil {
		logger.Error("snapshot load failed", slog.String("source", loader.Name()), slog.String("error", err.Error()))
		return nil, err
	}
	svc.Replace(snap)
	summary := snap.Summary()
	logger.Info("snapshot loaded",
		slog.String("source", loader.Name()),
		slog.Int("records", summary.Records),
		slog.Int("devices", summary.Devices),
		slog.Int("events", summary.Events),
		slog.Int("actions", summary.Actions),
	)
	return reports, nil
}
