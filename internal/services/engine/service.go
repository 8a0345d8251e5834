// Package engine starts and stops the controller's PostgreSQL engine.
package engine

import (
	"context"
	"fmt"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/rs/zerolog"
)

// Service defines the interface for database engine control.
type Service interface {
	Start(ctx context.Context, cfg models.Config) error
	Stop(ctx context.Context, cfg models.Config) error
}

// Impl implements the engine Service interface using pg_ctl.
type Impl struct {
	executor command.Executor
	logger   zerolog.Logger
}

// New creates a new engine service.
func New(logger zerolog.Logger, executor command.Executor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// StartCommand builds the pg_ctl invocation that starts the engine.
func StartCommand(cfg models.Config) command.Command {
	// pg_ctl hands -o through to the postgres server.
	serverOpts := fmt.Sprintf("-h %s -p %d", cfg.Database.ListenAddress, cfg.Database.Port)
	return command.Command{
		Name: cfg.Tools.PgCtl,
		Args: []string{"start", "-w", "-s", "-D", cfg.Database.DataDir, "-o", serverOpts},
		User: cfg.Accounts.Service,
	}
}

// StopCommand builds the pg_ctl invocation that stops the engine.
func StopCommand(cfg models.Config) command.Command {
	return command.Command{
		Name: cfg.Tools.PgCtl,
		Args: []string{"stop", "-w", "-D", cfg.Database.DataDir},
		User: cfg.Accounts.Service,
	}
}

// Start starts the engine and blocks until it accepts connections.
func (s *Impl) Start(ctx context.Context, cfg models.Config) error {
	s.logger.Info().
		Str("data_dir", cfg.Database.DataDir).
		Int("port", cfg.Database.Port).
		Str("user", cfg.Accounts.Service).
		Msg("starting PostgreSQL")

	result, err := s.executor.Run(ctx, StartCommand(cfg))
	if err != nil {
		return fmt.Errorf("failed to start database: %w", err)
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("PostgreSQL started")
	return nil
}

// Stop stops the engine and blocks until it has shut down.
func (s *Impl) Stop(ctx context.Context, cfg models.Config) error {
	s.logger.Info().Str("data_dir", cfg.Database.DataDir).Msg("stopping PostgreSQL")

	result, err := s.executor.Run(ctx, StopCommand(cfg))
	if err != nil {
		return fmt.Errorf("failed to stop database: %w", err)
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("PostgreSQL stopped")
	return nil
}
