package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/fgeck/clc-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and check preconditions",
	Long: `Print the resolved configuration and whether backup and restore could
run right now. Nothing is changed.`,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), cfg)

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Preconditions:")
	_, _ = fmt.Fprintf(out, "  Backup: %s\n", status(runner.CheckBackupPreconditions(*cfg)))
	_, _ = fmt.Fprintf(out, "  Restore: %s\n", status(runner.New(log.Logger, *cfg).CheckNotRunning(ctx, *cfg)))

	return nil
}

func status(err error) string {
	if err != nil {
		return "not ready (" + err.Error() + ")"
	}
	return "ready"
}

func printSummary(out io.Writer, cfg *models.Config) {
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(out, format, a...) }

	p("Configuration is valid!\n\n")
	p("Installation:\n")
	p("  Root: %s\n", cfg.EucaHome)
	p("  Cloud service: %s\n", cfg.Service.ProcessName)
	p("\nDatabase:\n")
	p("  Port: %d\n", cfg.Database.Port)
	p("  User: %s\n", cfg.Database.User)
	p("  Data dir: %s\n", cfg.Database.DataDir)
	p("  Root dir: %s\n", cfg.Database.RootDir)
	p("  Socket: %s\n", cfg.Database.SocketFile)
	p("  Catalog: %s\n", cfg.Database.Catalog)
	p("\nTools:\n")
	p("  pg_dumpall: %s\n", cfg.Tools.PgDumpAll)
	p("  pg_dump: %s\n", cfg.Tools.PgDump)
	p("  psql: %s\n", cfg.Tools.Psql)
	p("  pg_ctl: %s\n", cfg.Tools.PgCtl)
	p("  euca_conf: %s\n", cfg.Tools.EucaConf)
	p("  Privilege switch: %s (privileged: %s, service: %s)\n",
		cfg.Tools.Privilege, cfg.Accounts.Privileged, cfg.Accounts.Service)
	p("\nBackup:\n")
	p("  Directory: %s\n", cfg.Backup.Directory)
	p("  Key archive: %v\n", cfg.Keys.Enabled)
	if cfg.Keys.Enabled {
		p("  Key directory: %s\n", cfg.Keys.Directory)
		p("  Encrypted: %v\n", len(cfg.Keys.AgeRecipients) > 0)
	}

	p("\nOptional Features:\n")
	p("  Restic: %v\n", cfg.Restic != nil)
	p("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Restic != nil {
		p("\nRestic Configuration:\n")
		p("  Repository: %s\n", cfg.Restic.Repository)
		p("  Host: %s\n", cfg.Restic.Host)
		if len(cfg.Restic.Tags) > 0 {
			p("  Tags: %s\n", strings.Join(cfg.Restic.Tags, ", "))
		}
		p("  Keep daily/weekly/monthly: %d/%d/%d\n",
			cfg.Restic.Retention.KeepDaily, cfg.Restic.Retention.KeepWeekly, cfg.Restic.Retention.KeepMonthly)
	}

	if cfg.Telegram != nil {
		p("\nTelegram Configuration:\n")
		p("  Chat ID: %s\n", cfg.Telegram.ChatID)
		p("  Bot Token: (configured)\n")
	}
}

