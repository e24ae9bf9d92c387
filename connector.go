// file: connector.go
package dbconnector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultReadLimit = 100000
	maxReadLimit     = 1000000
)

// DbConnector reads snapshot tables from a SQL database.
type DbConnector interface {
	TestConnection(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)

	ReadTable(ctx context.Context, table string, opts ReadOptions) ([]map[string]any, error)

	Close() error
}

type ConnectionConfig struct {
	Type     string `yaml:"type" json:"type"` // mysql | postgres | mssql | sqlite
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"sslMode" json:"sslMode"`
	Path     string `yaml:"path" json:"path"`
}

type ReadOptions struct {
	Columns []string
	OrderBy string
	Limit   int
}

// dialect holds what differs between drivers. selectQuery renders a bounded
// read whose only bind parameter is the row limit. quoteTable defaults to
// quoteQualifiedTable.
type dialect struct {
	name        string
	maxSegments int
	quote       func(string) string
	listTables  string
	selectQuery func(columns, table, orderBy string) string
	quoteTable  func(table string) (string, error)
}

type baseConnector struct {
	cfg     ConnectionConfig
	db      *sql.DB
	dialect dialect
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *baseConnector) TestConnection(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", b.dialect.name, err)
	}
	return nil
}

func (b *baseConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("list %s tables: %w", b.dialect.name, err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s table name: %w", b.dialect.name, err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s tables: %w", b.dialect.name, err)
	}
	return results, nil
}

func (b *baseConnector) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]map[string]any, error) {
	query, err := b.readQuery(table, opts)
	if err != nil {
		return nil, err
	}
	stmt, err := b.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %s read query: %w", b.dialect.name, err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, normalizeReadLimit(opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", b.dialect.name, err)
	}
	defer rows.Close()
	result, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", b.dialect.name, err)
	}
	return result, nil
}

func (b *baseConnector) readQuery(table string, opts ReadOptions) (string, error) {
	quoteTable := b.dialect.quoteTable
	if quoteTable == nil {
		quoteTable = b.dialect.quoteQualifiedTable
	}
	quotedTable, err := quoteTable(table)
	if err != nil {
		return "", err
	}
	selectClause := "*"
	if len(opts.Columns) > 0 {
		selectClause, err = quoteList(opts.Columns, b.dialect.quote)
		if err != nil {
			return "", fmt.Errorf("invalid %s column list: %w", b.dialect.name, err)
		}
	}
	orderBy := ""
	if opts.OrderBy != "" {
		orderBy, err = quoteList([]string{opts.OrderBy}, b.dialect.quote)
		if err != nil {
			return "", fmt.Errorf("invalid %s order column: %w", b.dialect.name, err)
		}
	}
	return b.dialect.selectQuery(selectClause, quotedTable, orderBy), nil
}

func (d dialect) quoteQualifiedTable(table string) (string, error) {
	quoted, _, err := quoteQualified(table, d.maxSegments, d.quote)
	if err != nil {
		return "", fmt.Errorf("invalid %s table: %w", d.name, err)
	}
	return quoted, nil
}

// TableExists reports whether a listed table matches name, ignoring case and
// an optional schema prefix on the listed side.
func TableExists(ctx context.Context, c DbConnector, name string) (bool, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, table := range tables {
		if strings.EqualFold(table, name) {
			return true, nil
		}
		if i := strings.LastIndex(table, "."); i >= 0 && !strings.Contains(name, ".") && strings.EqualFold(table[i+1:], name) {
			return true, nil
		}
	}
	return false, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func quoteList(names []string, quote func(string) string) (string, error) {
	if len(names) == 0 {
		return "", errors.New("no columns provided")
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			return "", errors.New("column name is empty")
		}
		parts, err := splitIdentifier(name)
		if err != nil || len(parts) != 1 {
			return "", fmt.Errorf("invalid column name %q", name)
		}
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", "), nil
}

func normalizeReadLimit(limit int) int {
	if limit <= 0 {
		return defaultReadLimit
	}
	if limit > maxReadLimit {
		return maxReadLimit
	}
	return limit
}

func scanRowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			row[col] = normalizeValue(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
