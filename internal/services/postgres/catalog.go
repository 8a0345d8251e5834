package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/jackc/pgx/v5"
)

// DriverCatalog lists databases over the cluster's Unix socket using pgx.
type DriverCatalog struct{}

// Databases returns every datname in pg_database, unfiltered.
func (c *DriverCatalog) Databases(ctx context.Context, cfg models.Config) ([]string, error) {
	connCfg, err := ConnConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx, listDatabasesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read database names: %w", err)
	}
	return names, nil
}

// ConnConfig builds the driver configuration for the cluster socket. Every
// connection parameter is spelled out so PG* environment variables cannot
// add TLS attempts or fallback hosts.
func ConnConfig(cfg models.Config) (*pgx.ConnConfig, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable",
		dsnValue(cfg.Database.DataDir),
		cfg.Database.Port,
		dsnValue(cfg.Database.User),
		MaintenanceDatabase,
	)

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection config: %w", err)
	}
	return connCfg, nil
}

// dsnValue quotes v for a keyword/value connection string.
func dsnValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
