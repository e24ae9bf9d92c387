// file: mysql_connector.go
package dbconnector

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLConnector struct {
	baseConnector
}

func mysqlQuote(s string) string { return "`" + s + "`" }

var mysqlDialect = dialect{
	name:        "mysql",
	maxSegments: 1,
	quote:       mysqlQuote,
	listTables:  "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'",
	selectQuery: func(columns, table, orderBy string) string {
		query := fmt.Sprintf("SELECT %s FROM %s", columns, table)
		if orderBy != "" {
			query += " ORDER BY " + orderBy
		}
		return query + " LIMIT ?"
	},
}

func newMySQLConnector(cfg ConnectionConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{cfg: cfg, db: db, dialect: mysqlDialect}}, nil
}
