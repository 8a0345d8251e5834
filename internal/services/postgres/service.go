// Package postgres provides PostgreSQL dump, listing and load operations.
package postgres

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Catalog source constants.
const (
	CatalogPsql   = "psql"
	CatalogDriver = "driver"
)

// MaintenanceDatabase is the database psql connects to for catalog queries and loads.
const MaintenanceDatabase = "postgres"

const listDatabasesQuery = "select datname from pg_database"

// Service defines the interface for PostgreSQL operations.
type Service interface {
	DumpAll(ctx context.Context, cfg models.Config, outputPath string) (*models.DumpResult, error)
	DumpGlobals(ctx context.Context, cfg models.Config, outputPath string) (*models.DumpResult, error)
	ListDatabases(ctx context.Context, cfg models.Config) ([]string, error)
	DumpDatabase(ctx context.Context, cfg models.Config, database, outputPath string) (*models.DumpResult, error)
	LoadFile(ctx context.Context, cfg models.Config, path string) error
}

// Catalog lists the databases of a running cluster.
type Catalog interface {
	Databases(ctx context.Context, cfg models.Config) ([]string, error)
}

// Impl implements the PostgreSQL Service interface.
type Impl struct {
	executor command.Executor
	driver   Catalog
	logger   zerolog.Logger
}

// New creates a new PostgreSQL service.
func New(logger zerolog.Logger, executor command.Executor) *Impl {
	return &Impl{
		executor: executor,
		driver:   &DriverCatalog{},
		logger:   logger,
	}
}

// NewWithCatalog creates a new PostgreSQL service with a custom driver catalog (for testing).
func NewWithCatalog(logger zerolog.Logger, executor command.Executor, driver Catalog) *Impl {
	return &Impl{
		executor: executor,
		driver:   driver,
		logger:   logger,
	}
}

func connectionArgs(cfg models.Config) []string {
	return []string{
		"-h", cfg.Database.DataDir,
		"-p", strconv.Itoa(cfg.Database.Port),
		"-U", cfg.Database.User,
	}
}

// DumpAll writes a full-cluster dump of every database to outputPath.
func (s *Impl) DumpAll(ctx context.Context, cfg models.Config, outputPath string) (*models.DumpResult, error) {
	s.logger.Info().Str("output", outputPath).Msg("running pg_dumpall backup")

	cmd := command.Command{
		Name: cfg.Tools.PgDumpAll,
		Args: connectionArgs(cfg),
		User: cfg.Accounts.Privileged,
	}
	return s.dumpTo(ctx, cmd, "", outputPath, false)
}

// DumpGlobals writes a gzip-compressed dump of roles, tablespaces and grants to outputPath.
func (s *Impl) DumpGlobals(ctx context.Context, cfg models.Config, outputPath string) (*models.DumpResult, error) {
	s.logger.Info().Str("output", outputPath).Msg("backing up global objects")

	cmd := command.Command{
		Name: cfg.Tools.PgDumpAll,
		Args: append(connectionArgs(cfg), "-g"),
		User: cfg.Accounts.Privileged,
	}
	return s.dumpTo(ctx, cmd, "", outputPath, true)
}

// DumpDatabase writes a custom-format dump of one database to outputPath.
func (s *Impl) DumpDatabase(ctx context.Context, cfg models.Config, database, outputPath string) (*models.DumpResult, error) {
	s.logger.Debug().Str("database", database).Str("output", outputPath).Msg("running pg_dump")

	args := []string{"-C", "-F", "c", "-U", cfg.Database.User, "-p", strconv.Itoa(cfg.Database.Port), "-h", cfg.Database.DataDir, database}
	cmd := command.Command{
		Name: cfg.Tools.PgDump,
		Args: args,
		User: cfg.Accounts.Privileged,
	}
	return s.dumpTo(ctx, cmd, database, outputPath, false)
}

func (s *Impl) dumpTo(ctx context.Context, cmd command.Command, database, outputPath string, compress bool) (*models.DumpResult, error) {
	start := time.Now()
	result := &models.DumpResult{
		Database:   database,
		OutputPath: outputPath,
	}

	// Ensure output directory exists
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	output, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	var w io.Writer = output
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(output)
		w = zw
	}
	cmd.Stdout = w

	_, execErr := s.executor.Run(ctx, cmd)
	if zw != nil {
		if err := zw.Close(); err != nil && execErr == nil {
			execErr = fmt.Errorf("failed to finish compressed output: %w", err)
		}
	}
	if err := output.Close(); err != nil && execErr == nil {
		execErr = fmt.Errorf("failed to close output file: %w", err)
	}

	if execErr != nil {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = fmt.Errorf("%s failed: %w", filepath.Base(cmd.Name), execErr)
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))). //nolint:gosec // file sizes are non-negative
		Dur("duration", result.Duration).
		Msg("dump completed")

	return result, nil
}

// ListDatabases returns the names of all non-template databases in the cluster.
func (s *Impl) ListDatabases(ctx context.Context, cfg models.Config) ([]string, error) {
	var (
		names []string
		err   error
	)

	switch cfg.Database.Catalog {
	case CatalogDriver:
		names, err = s.driver.Databases(ctx, cfg)
	default:
		names, err = s.listWithPsql(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	databases := FilterDatabases(names)
	s.logger.Debug().Strs("databases", databases).Msg("databases listed")
	return databases, nil
}

func (s *Impl) listWithPsql(ctx context.Context, cfg models.Config) ([]string, error) {
	args := []string{
		"-U", cfg.Database.User,
		"-d", MaintenanceDatabase,
		"-p", strconv.Itoa(cfg.Database.Port),
		"-h", cfg.Database.DataDir,
		"--tuples-only", "--no-align",
		"-c", listDatabasesQuery,
	}

	result, err := s.executor.Run(ctx, command.Command{
		Name: cfg.Tools.Psql,
		Args: args,
		User: cfg.Accounts.Privileged,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	return strings.Split(result.Stdout, "\n"), nil
}

// FilterDatabases trims names and drops blanks and the template databases.
func FilterDatabases(names []string) []string {
	databases := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch name {
		case "", "template0", "template1":
			continue
		}
		databases = append(databases, name)
	}
	return databases
}

// LoadCommand returns the psql invocation that executes the SQL script at path.
func LoadCommand(cfg models.Config, path string) command.Command {
	return command.Command{
		Name: cfg.Tools.Psql,
		Args: []string{
			"-U", cfg.Database.User,
			"-d", MaintenanceDatabase,
			"-p", strconv.Itoa(cfg.Database.Port),
			"-h", cfg.Database.DataDir,
			"-f", path,
		},
	}
}

// LoadFile executes the SQL script at path against the maintenance database.
// Failed statements do not stop the load; they are logged as a warning.
func (s *Impl) LoadFile(ctx context.Context, cfg models.Config, path string) error {
	s.logger.Info().Str("file", path).Msg("loading SQL file")

	result, err := s.executor.Run(ctx, LoadCommand(cfg, path))
	if err != nil {
		return fmt.Errorf("psql restore failed: %w", err)
	}

	if errs := StatementErrors(result.Stderr); len(errs) > 0 {
		s.logger.Warn().
			Int("errors", len(errs)).
			Str("first", errs[0]).
			Msg("some statements failed during load, review psql output")
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("SQL file loaded")
	return nil
}

// StatementErrors returns the ERROR lines psql printed while running a script.
// A load into a freshly initialized cluster always reports some, such as
// roles that already exist.
func StatementErrors(stderr string) []string {
	var errs []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "ERROR:") {
			errs = append(errs, strings.TrimSpace(line))
		}
	}
	return errs
}

// DatabaseFilename returns the per-database dump filename for the given date.
func DatabaseFilename(database string, date time.Time) string {
	return fmt.Sprintf("%s-%s.sql", database, date.Format("2006-01-02"))
}
