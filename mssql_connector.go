// file: mssql_connector.go
package dbconnector

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLConnector struct {
	baseConnector
}

func mssqlQuote(s string) string { return "[" + s + "]" }

var mssqlDialect = dialect{
	name:        "mssql",
	maxSegments: 2,
	quote:       mssqlQuote,
	listTables:  "SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_CATALOG = DB_NAME()",
	selectQuery: func(columns, table, orderBy string) string {
		query := fmt.Sprintf("SELECT TOP (@p1) %s FROM %s", columns, table)
		if orderBy != "" {
			query += " ORDER BY " + orderBy
		}
		return query
	},
	quoteTable: quoteMSSQLTable,
}

func newMSSQLConnector(cfg ConnectionConfig) (*MSSQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	encrypt := "true"
	if sslMode == "disable" {
		encrypt = "disable"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, cfg.Port, url.QueryEscape(cfg.Database), encrypt)
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &MSSQLConnector{baseConnector{cfg: cfg, db: db, dialect: mssqlDialect}}, nil
}

// parseMSSQLTable splits schema.table, defaulting the schema to dbo.
func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, 2, mssqlQuote)
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}

func quoteMSSQLTable(table string) (string, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return "", err
	}
	return mssqlQuote(schema) + "." + mssqlQuote(name), nil
}
