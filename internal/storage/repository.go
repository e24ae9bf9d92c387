package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"incidentwatch/internal/fleet"
	"incidentwatch/internal/tabular"
)

const defaultReadLimit = 100000

// Tables names the Postgres table of each snapshot kind.
type Tables map[tabular.Kind]string

func DefaultTables() Tables {
	return Tables{
		tabular.Scores:  "anomaly_scores",
		tabular.Events:  "alerts",
		tabular.Actions: "action_history",
		tabular.Devices: "product_info",
	}
}

type Repository struct {
	Store  *Store
	Tables Tables
}

func NewRepository(store *Store, tables Tables) *Repository {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Repository{Store: store, Tables: tables}
}

// ReadRows returns up to limit rows of a snapshot table keyed by column name.
// A non-positive limit reads the default of 100000 rows. A table that does
// not exist yields ErrTableMissing.
func (r *Repository) ReadRows(ctx context.Context, kind tabular.Kind, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	table, ok := r.Tables[kind]
	if !ok {
		return nil, fmt.Errorf("no table configured for %s", kind)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1",
		strings.Join(quoteAll(tabular.CanonicalColumns(kind)), ", "),
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		pgx.Identifier{tabular.OrderColumn(kind)}.Sanitize(),
	)
	rows, err := r.Store.Pool.Query(ctx, query, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%s: %w", table, ErrTableMissing)
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%s: %w", table, ErrTableMissing)
		}
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return results, nil
}

// ImportSnapshot copies every record of a snapshot into the snapshot tables.
// Points whose sensor map failed to decode are stored with a NULL map.
func (r *Repository) ImportSnapshot(ctx context.Context, snap *fleet.Snapshot) (map[tabular.Kind]int64, error) {
	scores := [][]any{}
	events := [][]any{}
	actions := [][]any{}
	devices := [][]any{}
	for _, id := range snap.DeviceIDs() {
		for _, p := range snap.Series(id) {
			var sensors any
			if p.SensorsErr == nil {
				encoded, err := encodeSensors(p.Sensors)
				if err != nil {
					return nil, err
				}
				sensors = encoded
			}
			scores = append(scores, []any{p.Time, p.DeviceID, sensors, p.Aggregate})
		}
	}
	for _, id := range snap.AllDeviceIDs() {
		for _, e := range snap.Events(id) {
			events = append(events, []any{e.Time, e.DeviceID, e.Identifier})
		}
		for _, a := range snap.Actions(id) {
			actions = append(actions, []any{a.Date, a.DeviceID, a.Symptom, a.Cause, a.Treatment})
		}
		if info, ok := snap.Info(id); ok {
			var installed any
			if !info.InstallationDate.IsZero() {
				installed = info.InstallationDate
			}
			devices = append(devices, []any{info.DeviceID, installed, info.HWVersion, info.FWVersion})
		}
	}

	counts := map[tabular.Kind]int64{}
	err := pgx.BeginFunc(ctx, r.Store.Pool, func(tx pgx.Tx) error {
		for _, batch := range []struct {
			kind tabular.Kind
			rows [][]any
		}{
			{tabular.Scores, scores},
			{tabular.Events, events},
			{tabular.Actions, actions},
			{tabular.Devices, devices},
		} {
			table := pgx.Identifier(strings.Split(r.Tables[batch.kind], "."))
			n, err := tx.CopyFrom(ctx, table, tabular.CanonicalColumns(batch.kind), pgx.CopyFromRows(batch.rows))
			if err != nil {
				return fmt.Errorf("copy %s: %w", batch.kind, err)
			}
			counts[batch.kind] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// encodeSensors writes a JSON object keeping the sensor order.
func encodeSensors(sensors []fleet.SensorScore) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range sensors {
		if i > 0 {
			b.WriteString(", ")
		}
		key, err := json.Marshal(s.Sensor)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(s.Score)
		if err != nil {
			return "", err
		}
		b.Write(key)
		b.WriteString(": ")
		b.Write(value)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = pgx.Identifier{name}.Sanitize()
	}
	return out
}
