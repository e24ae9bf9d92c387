// file: postgres_connector.go
package dbconnector

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

var postgresDialect = dialect{
	name:        "postgres",
	maxSegments: 2,
	quote:       func(s string) string { return "\"" + s + "\"" },
	listTables:  "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'",
	selectQuery: func(columns, table, orderBy string) string {
		query := fmt.Sprintf("SELECT %s FROM %s", columns, table)
		if orderBy != "" {
			query += " ORDER BY " + orderBy
		}
		return query + " LIMIT $1"
	},
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{cfg: cfg, db: db, dialect: postgresDialect}}, nil
}
