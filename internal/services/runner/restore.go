package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/clc-backup/internal/manifest"
	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/cluster"
	"github.com/fgeck/clc-backup/internal/services/command"
	"github.com/fgeck/clc-backup/internal/services/engine"
	"github.com/fgeck/clc-backup/internal/services/postgres"
	"go.uber.org/multierr"
)

// Restore steps, in the order they run.
const (
	StepWipe         = "wipe"
	StepReinitialize = "reinitialize"
	StepStart        = "start"
	StepLoad         = "load"
	StepStop         = "stop"
)

// Restore rebuilds the database from a full-cluster dump. Without
// opts.Commit only the planned actions are logged.
//
//nolint:gocognit,funlen // restore workflow has multiple steps by design
func (s *Impl) Restore(ctx context.Context, cfg models.Config, opts models.RestoreOptions) (*models.RestoreReport, error) {
	startTime := s.now()
	report := &models.RestoreReport{File: opts.File, Committed: opts.Commit}
	var failedStep string
	var runErr error

	defer func() {
		report.Duration = s.now().Sub(startTime)
		if opts.Commit {
			s.sendNotification(ctx, cfg, models.TelegramMessage{
				Operation:    "restore",
				Success:      runErr == nil,
				Host:         hostname(),
				StartTime:    startTime,
				Duration:     report.Duration,
				RestoreFile:  opts.File,
				FailedStep:   failedStep,
				ErrorMessage: errorMessage(runErr),
			})
		}
	}()

	// Step 1: Nothing may happen while the cloud service is up
	failedStep = "preconditions"
	if _, err := os.Stat(opts.File); err != nil {
		runErr = fmt.Errorf("%w: %s", ErrBackupFileMissing, opts.File)
		return report, runErr
	}
	if err := s.CheckNotRunning(ctx, cfg); err != nil {
		runErr = err
		return report, err
	}

	s.logManifest(opts.File)

	// Step 2: Mode
	if !opts.Commit {
		failedStep = ""
		s.logger.Warn().Msg("Dry run only. Run with --forreal to commit the restore.")
		s.logPlan(cfg, opts.File)
		s.logger.Info().Msgf("Dry run complete, nothing was changed. After a real restore, start %s.", cfg.Service.ProcessName)
		return report, nil
	}
	s.logger.Info().Str("file", opts.File).Msg("restoring database, this is destructive")

	// Step 3: Wipe
	failedStep = StepWipe
	if err := s.wipe(cfg); err != nil {
		runErr = err
		return report, err
	}
	report.Steps = append(report.Steps, StepWipe)

	// Step 4: Reinitialize
	failedStep = StepReinitialize
	if err := s.clusterSvc.Reinitialize(ctx, cfg); err != nil {
		runErr = err
		return report, err
	}
	report.Steps = append(report.Steps, StepReinitialize)

	// Step 5: Start
	failedStep = StepStart
	if err := s.engineSvc.Start(ctx, cfg); err != nil {
		runErr = err
		return report, err
	}
	report.Steps = append(report.Steps, StepStart)

	// Step 6: Load. The engine is stopped even when this fails.
	failedStep = StepLoad
	loadErr := s.postgresSvc.LoadFile(ctx, cfg, opts.File)
	report.Steps = append(report.Steps, StepLoad)

	// Step 7: Stop
	stopErr := s.engineSvc.Stop(ctx, cfg)
	report.Steps = append(report.Steps, StepStop)

	if loadErr != nil {
		runErr = multierr.Append(loadErr, stopErr)
		return report, runErr
	}
	if stopErr != nil {
		failedStep = StepStop
		runErr = stopErr
		return report, stopErr
	}

	// Step 8: Hand back to the operator
	failedStep = ""
	s.logger.Info().
		Dur("duration", s.now().Sub(startTime)).
		Msgf("Restore complete. Please start %s.", cfg.Service.ProcessName)

	return report, nil
}

func (s *Impl) wipe(cfg models.Config) error {
	root := cfg.Database.RootDir
	if _, err := os.Stat(root); os.IsNotExist(err) {
		s.logger.Warn().Str("directory", root).Msg("database root does not exist, nothing to remove")
		return nil
	}

	s.logger.Info().Str("directory", root).Msg("removing database root")
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove database root: %w", err)
	}
	return nil
}

// logPlan logs every action a committed restore would take.
func (s *Impl) logPlan(cfg models.Config, file string) {
	s.logger.Info().Str("directory", cfg.Database.RootDir).Msg("would remove database root")

	plan := []struct {
		step string
		cmd  command.Command
	}{
		{StepReinitialize, cluster.SetupCommand(cfg)},
		{StepReinitialize, cluster.InitializeCommand(cfg)},
		{StepStart, engine.StartCommand(cfg)},
		{StepLoad, postgres.LoadCommand(cfg, file)},
		{StepStop, engine.StopCommand(cfg)},
	}
	for _, p := range plan {
		s.logger.Info().
			Str("step", p.step).
			Str("command", command.String(p.cmd)).
			Msg("would run")
	}
}

// logManifest reports which backup run the dump file belongs to, if known.
func (s *Impl) logManifest(file string) {
	m, err := manifest.Read(filepath.Dir(file))
	if err != nil {
		s.logger.Debug().Err(err).Msg("no backup manifest next to restore file")
		return
	}

	s.logger.Info().
		Str("run_id", m.RunID).
		Time("created", m.Created).
		Str("host", m.Host).
		Msg("restoring from backup run")
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
