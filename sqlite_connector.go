// file: sqlite_connector.go
package dbconnector

import (
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteConnector struct {
	baseConnector
}

var sqliteDialect = dialect{
	name:        "sqlite",
	maxSegments: 1,
	quote:       func(s string) string { return "\"" + s + "\"" },
	listTables:  "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
	selectQuery: func(columns, table, orderBy string) string {
		query := fmt.Sprintf("SELECT %s FROM %s", columns, table)
		if orderBy != "" {
			query += " ORDER BY " + orderBy
		}
		return query + " LIMIT ?"
	},
}

func newSQLiteConnector(cfg ConnectionConfig) (*SQLiteConnector, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = strings.TrimSpace(cfg.Database)
	}
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := openDatabase("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &SQLiteConnector{baseConnector{cfg: cfg, db: db, dialect: sqliteDialect}}, nil
}
