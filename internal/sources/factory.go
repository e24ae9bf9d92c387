package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	dbconnector "incidentwatch"
	"incidentwatch/internal/config"
	"incidentwatch/internal/crypto"
	"incidentwatch/internal/storage"
	"incidentwatch/internal/tabular"
)

// New builds the loader selected by cfg.Source. SQL sources are connected
// and pinged before returning.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (Loader, error) {
	src := cfg.Source
	maxRows := cfg.Limits.MaxRowsPerTable
	switch strings.ToLower(src.Type) {
	case config.SourceCSV:
		return &CSVLoader{Dir: src.Dir, Files: copyTables(src.Files), MaxRows: maxRows, Logger: logger}, nil
	case config.SourceSQL:
		conn := src.Connection
		password, err := resolvePassword(src, cfg.Runtime.EncryptionKey)
		if err != nil {
			return nil, err
		}
		conn.Password = password
		connector, err := dbconnector.NewConnector(conn)
		if err != nil {
			return nil, err
		}
		if err := connector.TestConnection(ctx); err != nil {
			_ = connector.Close()
			return nil, err
		}
		return &SQLLoader{Connector: connector, Tables: copyTables(src.Tables), MaxRows: maxRows, Logger: logger}, nil
	case config.SourcePostgres:
		store, err := storage.NewStore(ctx, cfg.Runtime.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := storage.NewRepository(store, storage.Tables(copyTables(src.Tables)))
		return &PostgresLoader{Repo: repo, MaxRows: maxRows, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
}

// resolvePassword prefers the sealed password when one is configured.
func resolvePassword(src config.Source, key string) (string, error) {
	if src.EncryptedPassword == "" {
		return src.Connection.Password, nil
	}
	box, err := crypto.NewSecretBox([]byte(key))
	if err != nil {
		return "", fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return box.Open(src.EncryptedPassword)
}

func copyTables(in map[tabular.Kind]string) map[tabular.Kind]string {
	out := make(map[tabular.Kind]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
