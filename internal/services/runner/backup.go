package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/clc-backup/internal/manifest"
	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/keys"
	"github.com/fgeck/clc-backup/internal/services/postgres"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	dayFormat   = "2006-01-02"
	stampFormat = "2006-01-02-1504"
)

// FullDumpFilename returns the name of the full-cluster dump for a run
// started at the given stamp.
func FullDumpFilename(stamp string) string {
	return fmt.Sprintf("eucalyptus-pg_dumpall-%s.sql", stamp)
}

// GlobalsDumpFilename returns the name of the compressed globals dump.
func GlobalsDumpFilename(stamp string) string {
	return fmt.Sprintf("system.%s.sql.gz", stamp)
}

// Backup executes the complete backup workflow. The returned report
// describes every step that ran, also when an error is returned.
//
//nolint:gocognit,gocyclo,funlen // backup workflow has multiple steps by design
func (s *Impl) Backup(ctx context.Context, cfg models.Config) (*models.BackupReport, error) {
	startTime := s.now()
	report := &models.BackupReport{
		RunID:     uuid.NewString(),
		StartTime: startTime,
	}
	var failedStep string
	var runErr error

	s.logger.Info().
		Str("run_id", report.RunID).
		Str("euca_home", cfg.EucaHome).
		Int("port", cfg.Database.Port).
		Msg("starting backup run")

	defer func() {
		report.Duration = s.now().Sub(startTime)
		s.sendNotification(ctx, cfg, s.backupMessage(report, failedStep, runErr))
	}()

	// Step 1: Preconditions, before anything touches the filesystem
	failedStep = "preconditions"
	if err := CheckBackupPreconditions(cfg); err != nil {
		runErr = err
		return report, err
	}

	// Step 2: Backup directories
	failedStep = "directory"
	dir, err := s.prepareDirectory(cfg, startTime.Format(dayFormat))
	if err != nil {
		runErr = err
		return report, err
	}
	report.Directory = dir

	stamp := startTime.Format(stampFormat)

	// Step 3: Full-cluster dump
	failedStep = "dumpall"
	full, err := s.postgresSvc.DumpAll(ctx, cfg, filepath.Join(dir, FullDumpFilename(stamp)))
	if err != nil {
		runErr = err
		return report, fmt.Errorf("full dump failed: %w", err)
	}
	report.FullDump = full
	if full.Error != nil {
		runErr = full.Error
		return report, fmt.Errorf("full dump failed: %w", full.Error)
	}

	// Step 4: Roles and tablespaces
	failedStep = "globals"
	globals, err := s.postgresSvc.DumpGlobals(ctx, cfg, filepath.Join(dir, GlobalsDumpFilename(stamp)))
	if err != nil {
		runErr = err
		return report, fmt.Errorf("globals dump failed: %w", err)
	}
	report.GlobalsDump = globals
	if globals.Error != nil {
		runErr = globals.Error
		return report, fmt.Errorf("globals dump failed: %w", globals.Error)
	}

	// Step 5: Database list
	failedStep = "list"
	databases, err := s.postgresSvc.ListDatabases(ctx, cfg)
	if err != nil {
		runErr = err
		return report, fmt.Errorf("listing databases failed: %w", err)
	}

	// Step 6: One dump per database. Failures are collected, the loop goes on.
	failedStep = "databases"
	var errs error
	var partialStep string
	for _, db := range databases {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		result := s.dumpDatabase(ctx, cfg, dir, db, startTime)
		report.Databases = append(report.Databases, *result)
		if result.Error != nil {
			s.logger.Error().Err(result.Error).Str("database", db).Msg("database dump failed")
			errs = multierr.Append(errs, fmt.Errorf("database %s: %w", db, result.Error))
		}
	}
	if errs != nil {
		partialStep = "databases"
	}

	// Step 7: Key material
	if cfg.Keys.Enabled {
		failedStep = "keys"
		archive, err := s.keysSvc.Archive(ctx, cfg.Keys, filepath.Join(dir, keys.ArchiveFilename(cfg.Keys, startTime)))
		switch {
		case errors.Is(err, keys.ErrNoKeyDirectory):
			s.logger.Warn().Str("directory", cfg.Keys.Directory).Msg("key directory does not exist, skipping key archive")
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("key archive failed: %w", err))
			if partialStep == "" {
				partialStep = "keys"
			}
		default:
			report.KeyArchive = archive
		}
	}

	// Step 8: Manifest of what was written
	failedStep = "manifest"
	m := manifest.FromReport(cfg, report, hostname())
	manifestPath, err := manifest.Write(dir, m)
	if err != nil {
		errs = multierr.Append(errs, err)
		if partialStep == "" {
			partialStep = "manifest"
		}
	} else {
		s.logger.Debug().Str("path", manifestPath).Msg("manifest written")
	}

	if errs != nil {
		failedStep = partialStep
		runErr = errs
		return report, fmt.Errorf("backup incomplete: %w", errs)
	}

	// Step 9: Off-host copy (if configured)
	if cfg.Restic != nil {
		if err := s.runOffsite(ctx, cfg, report, &failedStep); err != nil {
			runErr = err
			return report, err
		}
	}

	failedStep = ""
	s.logger.Info().
		Str("directory", dir).
		Int("databases", len(report.Databases)).
		Str("size", humanize.Bytes(uint64(m.TotalBytes()))). //nolint:gosec // sizes are non-negative
		Dur("duration", s.now().Sub(startTime)).
		Msg("backup run completed successfully")

	return report, nil
}

func (s *Impl) prepareDirectory(cfg models.Config, day string) (string, error) {
	if _, err := os.Stat(cfg.Backup.Directory); os.IsNotExist(err) {
		s.logger.Warn().Str("directory", cfg.Backup.Directory).Msg("backup directory does not exist, creating")
	}

	dir := filepath.Join(cfg.Backup.Directory, day)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.logger.Info().Str("directory", dir).Msg("backup directory ready")
	return dir, nil
}

func (s *Impl) dumpDatabase(ctx context.Context, cfg models.Config, dir, db string, day time.Time) *models.DumpResult {
	if db == "." || db == ".." || strings.ContainsAny(db, `/\`) {
		return &models.DumpResult{
			Database: db,
			Error:    fmt.Errorf("refusing to dump database with unsafe name %q", db),
		}
	}

	output := filepath.Join(dir, postgres.DatabaseFilename(db, day))
	result, err := s.postgresSvc.DumpDatabase(ctx, cfg, db, output)
	if err != nil {
		return &models.DumpResult{Database: db, OutputPath: output, Error: err}
	}
	return result
}

func (s *Impl) runOffsite(ctx context.Context, cfg models.Config, report *models.BackupReport, failedStep *string) error {
	*failedStep = "restic_init"
	if err := s.resticSvc.Init(ctx, *cfg.Restic); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}

	*failedStep = "restic_backup"
	backup, err := s.resticSvc.Backup(ctx, *cfg.Restic, []string{report.Directory})
	if err != nil {
		return fmt.Errorf("off-host backup failed: %w", err)
	}
	report.Offsite = backup
	if backup.Error != nil {
		return fmt.Errorf("off-host backup failed: %w", backup.Error)
	}

	*failedStep = "restic_forget"
	forget, err := s.resticSvc.Forget(ctx, *cfg.Restic)
	if err != nil {
		return fmt.Errorf("forget failed: %w", err)
	}
	if forget.Error != nil {
		return fmt.Errorf("forget failed: %w", forget.Error)
	}

	return nil
}

func (s *Impl) backupMessage(report *models.BackupReport, failedStep string, runErr error) models.TelegramMessage {
	msg := models.TelegramMessage{
		Operation: "backup",
		Success:   runErr == nil,
		Host:      hostname(),
		StartTime: report.StartTime,
		Duration:  report.Duration,
		Directory: report.Directory,
	}

	for _, d := range []*models.DumpResult{report.FullDump, report.GlobalsDump} {
		if d != nil && d.Error == nil {
			msg.TotalBytes += d.SizeBytes
		}
	}
	for _, d := range report.Databases {
		if d.Error == nil {
			msg.Databases++
			msg.TotalBytes += d.SizeBytes
		}
	}
	if report.KeyArchive != nil {
		msg.TotalBytes += report.KeyArchive.SizeBytes
	}
	if report.Offsite != nil {
		msg.SnapshotID = report.Offsite.SnapshotID
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	return msg
}
