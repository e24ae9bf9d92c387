// file: factory.go
package dbconnector

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type builder func(ConnectionConfig) (DbConnector, error)

// builders is keyed by every accepted spelling of a connection type.
var builders = map[string]builder{
	"mysql":      func(c ConnectionConfig) (DbConnector, error) { return newMySQLConnector(c) },
	"postgres":   func(c ConnectionConfig) (DbConnector, error) { return newPostgresConnector(c) },
	"postgresql": func(c ConnectionConfig) (DbConnector, error) { return newPostgresConnector(c) },
	"mssql":      func(c ConnectionConfig) (DbConnector, error) { return newMSSQLConnector(c) },
	"sqlserver":  func(c ConnectionConfig) (DbConnector, error) { return newMSSQLConnector(c) },
	"sqlite":     func(c ConnectionConfig) (DbConnector, error) { return newSQLiteConnector(c) },
	"sqlite3":    func(c ConnectionConfig) (DbConnector, error) { return newSQLiteConnector(c) },
}

// SupportedType reports whether NewConnector knows the connection type.
func SupportedType(kind string) bool {
	_, ok := builders[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

// SupportedTypes lists accepted connection types in sorted order.
func SupportedTypes() []string {
	out := make([]string, 0, len(builders))
	for kind := range builders {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func NewConnector(cfg ConnectionConfig) (DbConnector, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" {
		return nil, errors.New("connection type is required")
	}
	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	return build(cfg)
}

// Snapshot loads read every table once per refresh, so a small pool is enough.
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
)

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}
