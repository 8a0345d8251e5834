// Package cluster drives euca_conf to reset the controller's database.
package cluster

import (
	"context"
	"fmt"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/rs/zerolog"
)

// Service defines the interface for cluster initialization.
type Service interface {
	Reinitialize(ctx context.Context, cfg models.Config) error
}

// Impl implements the cluster Service interface.
type Impl struct {
	executor command.Executor
	logger   zerolog.Logger
}

// New creates a new cluster service.
func New(logger zerolog.Logger, executor command.Executor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// SetupCommand builds the privileged euca_conf --setup invocation.
func SetupCommand(cfg models.Config) command.Command {
	return command.Command{
		Name: cfg.Tools.EucaConf,
		Args: []string{"--setup"},
		User: cfg.Accounts.Privileged,
	}
}

// InitializeCommand builds the euca_conf --initialize invocation run as the service account.
func InitializeCommand(cfg models.Config) command.Command {
	return command.Command{
		Name: cfg.Tools.EucaConf,
		Args: []string{"--initialize"},
		User: cfg.Accounts.Service,
	}
}

// Reinitialize runs euca_conf --setup followed by euca_conf --initialize.
// The second step is not attempted when the first fails.
func (s *Impl) Reinitialize(ctx context.Context, cfg models.Config) error {
	s.logger.Info().Str("tool", cfg.Tools.EucaConf).Msg("running setup")
	if _, err := s.executor.Run(ctx, SetupCommand(cfg)); err != nil {
		return fmt.Errorf("euca_conf --setup failed: %w", err)
	}

	s.logger.Info().Str("user", cfg.Accounts.Service).Msg("initializing a clean database, this will take a while")
	result, err := s.executor.Run(ctx, InitializeCommand(cfg))
	if err != nil {
		return fmt.Errorf("euca_conf --initialize failed: %w", err)
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("database initialized")
	return nil
}
