// Package runner orchestrates the backup and restore workflows.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/cluster"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/fgeck/clc-backup/internal/services/engine"
	"github.com/fgeck/clc-backup/internal/services/keys"
	"github.com/fgeck/clc-backup/internal/services/postgres"
	"github.com/fgeck/clc-backup/internal/services/process"
	"github.com/fgeck/clc-backup/internal/services/restic"
	"github.com/fgeck/clc-backup/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Precondition failures.
var (
	ErrDatabaseNotRunning = errors.New("database socket not found, is PostgreSQL running?")
	ErrDumpToolMissing    = errors.New("pg_dumpall not found")
	ErrServiceRunning     = errors.New("cloud service is running")
	ErrBackupFileMissing  = errors.New("backup file does not exist")
)

// Service defines the interface for the backup/restore runner.
type Service interface {
	Backup(ctx context.Context, cfg models.Config) (*models.BackupReport, error)
	Restore(ctx context.Context, cfg models.Config, opts models.RestoreOptions) (*models.RestoreReport, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	postgresSvc postgres.Service
	engineSvc   engine.Service
	clusterSvc  cluster.Service
	processSvc  process.Service
	keysSvc     keys.Service
	resticSvc   restic.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service. All external programs are started
// through one executor using the configured privilege switch.
func New(logger zerolog.Logger, cfg models.Config) *Impl {
	executor := command.NewExecutor(cfg.Tools.Privilege)

	return &Impl{
		postgresSvc: postgres.New(logger, executor),
		engineSvc:   engine.New(logger, executor),
		clusterSvc:  cluster.New(logger, executor),
		processSvc:  process.New(logger),
		keysSvc:     keys.New(logger),
		resticSvc:   restic.New(logger, executor),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	postgresSvc postgres.Service,
	engineSvc engine.Service,
	clusterSvc cluster.Service,
	processSvc process.Service,
	keysSvc keys.Service,
	resticSvc restic.Service,
	telegramSvc telegram.Service,
	now func() time.Time,
) *Impl {
	return &Impl{
		postgresSvc: postgresSvc,
		engineSvc:   engineSvc,
		clusterSvc:  clusterSvc,
		processSvc:  processSvc,
		keysSvc:     keysSvc,
		resticSvc:   resticSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		now:         now,
	}
}

// CheckBackupPreconditions verifies that the database socket exists and
// that pg_dumpall is installed.
func CheckBackupPreconditions(cfg models.Config) error {
	if _, err := os.Stat(cfg.Database.SocketFile); err != nil {
		return fmt.Errorf("%w: %s", ErrDatabaseNotRunning, cfg.Database.SocketFile)
	}

	info, err := os.Stat(cfg.Tools.PgDumpAll)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w at %s", ErrDumpToolMissing, cfg.Tools.PgDumpAll)
	}

	return nil
}

// CheckNotRunning fails when the cloud service appears in the process table.
func (s *Impl) CheckNotRunning(ctx context.Context, cfg models.Config) error {
	pids, err := s.processSvc.Find(ctx, cfg.Service.ProcessName)
	if err != nil {
		return fmt.Errorf("failed to inspect process table: %w", err)
	}
	if len(pids) > 0 {
		return fmt.Errorf("%w: %s (pid %v), stop it before restoring", ErrServiceRunning, cfg.Service.ProcessName, pids)
	}
	return nil
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.Config, msg models.TelegramMessage) {
	if cfg.Telegram == nil {
		return
	}

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
