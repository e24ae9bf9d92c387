package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dbconnector "incidentwatch"
	"incidentwatch/internal/fleet"
	"incidentwatch/internal/storage"
	"incidentwatch/internal/tabular"
)

// SQLLoader reads the snapshot tables through a dbconnector. Rows are read
// whole and ordered by the canonical order column of each kind.
type SQLLoader struct {
	Connector dbconnector.DbConnector
	Tables    map[tabular.Kind]string
	MaxRows   int
	Logger    *slog.Logger
}

func (l *SQLLoader) Name() string {
	return "sql"
}

func (l *SQLLoader) Load(ctx context.Context) (*fleet.Snapshot, []tabular.Report, error) {
	if err := l.Connector.TestConnection(ctx); err != nil {
		return nil, nil, err
	}
	return load(ctx, l.Name(), l.MaxRows, func(ctx context.Context, kind tabular.Kind, limit int) ([]map[string]any, bool, error) {
		table, ok := l.Tables[kind]
		if !ok || table == "" {
			return nil, true, nil
		}
		exists, err := dbconnector.TableExists(ctx, l.Connector, table)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, true, nil
		}
		rows, err := l.Connector.ReadTable(ctx, table, dbconnector.ReadOptions{
			OrderBy: tabular.OrderColumn(kind),
			Limit:   limit,
		})
		if err != nil {
			return nil, false, fmt.Errorf("read %s: %w", table, err)
		}
		return rows, false, nil
	}, l.Logger)
}

func (l *SQLLoader) Close() error {
	if l.Connector == nil {
		return nil
	}
	return l.Connector.Close()
}

// PostgresLoader reads the tables created by the migrations through pgx.
type PostgresLoader struct {
	Repo    *storage.Repository
	MaxRows int
	Logger  *slog.Logger
}

func (l *PostgresLoader) Name() string {
	return "postgres"
}

func (l *PostgresLoader) Load(ctx context.Context) (*fleet.Snapshot, []tabular.Report, error) {
	return load(ctx, l.Name(), l.MaxRows, func(ctx context.Context, kind tabular.Kind, limit int) ([]map[string]any, bool, error) {
		if _, ok := l.Repo.Tables[kind]; !ok {
			return nil, true, nil
		}
		rows, err := l.Repo.ReadRows(ctx, kind, limit)
		if errors.Is(err, storage.ErrTableMissing) {
			return nil, true, nil
		}
		return rows, false, err
	}, l.Logger)
}

func (l *PostgresLoader) Close() error {
	if l.Repo != nil && l.Repo.Store != nil {
		l.Repo.Store.Close()
	}
	return nil
}
