package sources

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"incidentwatch/internal/fleet"
	"incidentwatch/internal/tabular"
)

type CSVLoader struct {
	Dir     string
	Files   map[tabular.Kind]string
	MaxRows int
	Logger  *slog.Logger
}

func (l *CSVLoader) Name() string {
	return "csv"
}

func (l *CSVLoader) Load(ctx context.Context) (*fleet.Snapshot, []tabular.Report, error) {
	return load(ctx, l.Name(), l.MaxRows, func(ctx context.Context, kind tabular.Kind, limit int) ([]map[string]any, bool, error) {
		name, ok := l.Files[kind]
		if !ok || name == "" {
			return nil, true, nil
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.Dir, name)
		}
		rows, missing, err := tabular.ReadCSVFile(path, limit)
		if err != nil {
			return nil, false, fmt.Errorf("read %s: %w", kind, err)
		}
		return rows, missing, nil
	}, l.Logger)
}

func (l *CSVLoader) Close() error {
	return nil
}
