package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/clc-backup/internal/config"
	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type mode int

const (
	modeBackup mode = iota + 1
	modeRestore
)

var (
	errConflictingModes = errors.New("--backup and --restore are mutually exclusive")
	errNoRestoreFile    = errors.New("--restore requires --file")
	errNoMode           = errors.New("one of --backup or --restore is required")
)

// selectMode checks the mode flags in a fixed order: conflicting modes,
// missing --file, missing dump file, no mode at all.
func selectMode(backup, restore bool, file string) (mode, error) {
	if backup && restore {
		return 0, errConflictingModes
	}
	if backup {
		return modeBackup, nil
	}
	if restore {
		if file == "" {
			return 0, errNoRestoreFile
		}
		if _, err := os.Stat(file); err != nil {
			return 0, fmt.Errorf("%w: %s", runner.ErrBackupFileMissing, file)
		}
		return modeRestore, nil
	}
	return 0, errNoMode
}

// fatal logs at fatal level without exiting; main turns the returned
// error into exit status 1.
func fatal(err error) error {
	log.WithLevel(zerolog.FatalLevel).Err(err).Msg("aborting")
	return err
}

func isPrecondition(err error) bool {
	return errors.Is(err, runner.ErrDatabaseNotRunning) ||
		errors.Is(err, runner.ErrDumpToolMissing) ||
		errors.Is(err, runner.ErrServiceRunning) ||
		errors.Is(err, runner.ErrBackupFileMissing)
}

func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	parser := config.NewParser()
	if cmd.Flags().Changed("eucahome") {
		parser.SetEucaHome(eucaHome)
	}

	var (
		cfg *models.Config
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.LoadDefaults()
	}
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	log.Debug().
		Str("config", configFile).
		Str("euca_home", cfg.EucaHome).
		Str("data_dir", cfg.Database.DataDir).
		Int("port", cfg.Database.Port).
		Msg("configuration loaded")

	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runMain(cmd *cobra.Command, args []string) error {
	m, err := selectMode(backupMode, restoreMode, restoreFile)
	if err != nil {
		return fatal(err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, *cfg)

	switch m {
	case modeBackup:
		report, err := runnerSvc.Backup(ctx, *cfg)
		if err != nil {
			if isPrecondition(err) {
				return fatal(err)
			}
			log.Error().Err(err).Strs("failed_databases", report.FailedDatabases()).Msg("backup failed")
			return err
		}
		log.Info().Str("directory", report.Directory).Msg("backup completed successfully")

	case modeRestore:
		report, err := runnerSvc.Restore(ctx, *cfg, models.RestoreOptions{File: restoreFile, Commit: forReal})
		if err != nil {
			if isPrecondition(err) {
				return fatal(err)
			}
			log.Error().Err(err).Strs("completed_steps", report.Steps).Msg("restore failed")
			return err
		}
	}

	return nil
}
