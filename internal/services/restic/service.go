// Package restic copies finished backup directories into a restic repository.
package restic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/rs/zerolog"
)

const resticBinary = "restic"

// Service defines the interface for restic operations.
type Service interface {
	Init(ctx context.Context, cfg models.ResticConfig) error
	Backup(ctx context.Context, cfg models.ResticConfig, paths []string) (*models.BackupResult, error)
	Forget(ctx context.Context, cfg models.ResticConfig) (*models.ForgetResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor command.Executor
	logger   zerolog.Logger
}

// New creates a new restic service.
func New(logger zerolog.Logger, executor command.Executor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

func buildEnv(cfg models.ResticConfig) []string {
	env := []string{
		"RESTIC_REPOSITORY=" + cfg.Repository,
		"RESTIC_PASSWORD=" + cfg.Password,
	}

	if cfg.RestUser != "" {
		env = append(env, "RESTIC_REST_USERNAME="+cfg.RestUser)
	}
	if cfg.RestPassword != "" {
		env = append(env, "RESTIC_REST_PASSWORD="+cfg.RestPassword)
	}

	return env
}

func (s *Impl) run(ctx context.Context, cfg models.ResticConfig, args ...string) (*models.CommandResult, error) {
	return s.executor.Run(ctx, command.Command{
		Name: resticBinary,
		Args: args,
		Env:  buildEnv(cfg),
	})
}

// Init initializes the repository if it doesn't exist.
func (s *Impl) Init(ctx context.Context, cfg models.ResticConfig) error {
	s.logger.Info().Str("repository", cfg.Repository).Msg("checking if repository needs initialization")

	// Check if repository already exists by running cat config
	if _, err := s.run(ctx, cfg, "cat", "config"); err == nil {
		s.logger.Debug().Msg("repository already initialized")
		return nil
	}

	s.logger.Info().Msg("initializing repository")
	if _, err := s.run(ctx, cfg, "init"); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	s.logger.Info().Msg("repository initialized successfully")
	return nil
}

// backupSummary is the summary part of restic backup --json output.
type backupSummary struct {
	MessageType         string `json:"message_type"`
	FilesNew            int    `json:"files_new"`
	FilesChanged        int    `json:"files_changed"`
	DataAdded           int64  `json:"data_added"`
	TotalFilesProcessed int    `json:"total_files_processed"`
	TotalBytesProcessed int64  `json:"total_bytes_processed"`
	SnapshotID          string `json:"snapshot_id"`
}

// Backup stores paths as a new snapshot.
func (s *Impl) Backup(ctx context.Context, cfg models.ResticConfig, paths []string) (*models.BackupResult, error) {
	s.logger.Info().Strs("paths", paths).Msg("starting off-host backup")

	start := time.Now()
	args := []string{"backup", "--json"}
	if cfg.Host != "" {
		args = append(args, "--host", cfg.Host)
	}
	for _, tag := range cfg.Tags {
		args = append(args, "--tag", tag)
	}
	args = append(args, paths...)

	result, err := s.run(ctx, cfg, args...)
	if err != nil {
		return &models.BackupResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("backup failed: %w", err),
		}, nil
	}

	summary := parseSummary([]byte(result.Stdout))

	backup := &models.BackupResult{
		SnapshotID:          summary.SnapshotID,
		FilesNew:            summary.FilesNew,
		FilesChanged:        summary.FilesChanged,
		DataAdded:           summary.DataAdded,
		TotalFilesProcessed: summary.TotalFilesProcessed,
		TotalBytesProcessed: summary.TotalBytesProcessed,
		Duration:            time.Since(start),
	}

	s.logger.Info().
		Str("snapshot_id", backup.SnapshotID).
		Int("files_new", backup.FilesNew).
		Int64("data_added", backup.DataAdded).
		Dur("duration", backup.Duration).
		Msg("off-host backup completed")

	return backup, nil
}

// parseSummary finds the summary line in restic's JSON lines output.
func parseSummary(output []byte) backupSummary {
	var summary backupSummary
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var msg struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" {
			_ = json.Unmarshal(line, &summary)
			break
		}
	}
	return summary
}

// forgetGroup is the JSON structure returned by restic forget --json.
type forgetGroup struct {
	Keep   []json.RawMessage `json:"keep"`
	Remove []json.RawMessage `json:"remove"`
}

// Forget removes old snapshots according to the configured retention policy.
func (s *Impl) Forget(ctx context.Context, cfg models.ResticConfig) (*models.ForgetResult, error) {
	policy := cfg.Retention
	s.logger.Info().
		Int("keep_daily", policy.KeepDaily).
		Int("keep_weekly", policy.KeepWeekly).
		Int("keep_monthly", policy.KeepMonthly).
		Msg("applying retention policy")

	start := time.Now()
	args := []string{"forget", "--prune", "--json"}
	if policy.KeepDaily > 0 {
		args = append(args, "--keep-daily", strconv.Itoa(policy.KeepDaily))
	}
	if policy.KeepWeekly > 0 {
		args = append(args, "--keep-weekly", strconv.Itoa(policy.KeepWeekly))
	}
	if policy.KeepMonthly > 0 {
		args = append(args, "--keep-monthly", strconv.Itoa(policy.KeepMonthly))
	}

	result, err := s.run(ctx, cfg, args...)
	if err != nil {
		return &models.ForgetResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("forget failed: %w", err),
		}, nil
	}

	var groups []forgetGroup
	if err := json.Unmarshal([]byte(result.Stdout), &groups); err != nil {
		// If the output is empty or not valid JSON, that's okay
		s.logger.Debug().Err(err).Msg("could not parse forget output")
	}

	forget := &models.ForgetResult{Duration: time.Since(start)}
	for _, group := range groups {
		forget.SnapshotsKept += len(group.Keep)
		forget.SnapshotsRemoved += len(group.Remove)
	}

	s.logger.Info().
		Int("kept", forget.SnapshotsKept).
		Int("removed", forget.SnapshotsRemoved).
		Msg("retention policy applied")

	return forget, nil
}
