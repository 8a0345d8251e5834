// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/spf13/viper"
)

// Defaults for a stock controller installation.
const (
	DefaultEucaHome      = "/"
	DefaultPort          = 8777
	DefaultDBUser        = "root"
	DefaultDataDir       = "var/lib/eucalyptus/db/data"
	DefaultRootDir       = "var/lib/eucalyptus/db"
	DefaultKeyDir        = "var/lib/eucalyptus/keys"
	DefaultListenAddress = "0.0.0.0"
	DefaultBackupDir     = "/var/lib/eucalyptus/backup"
	DefaultProcessName   = "eucalyptus-cloud"
	DefaultServiceUser   = "eucalyptus"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with all defaults registered.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("euca_home", DefaultEucaHome)

	v.SetDefault("database.port", DefaultPort)
	v.SetDefault("database.user", DefaultDBUser)
	v.SetDefault("database.data_dir", DefaultDataDir)
	v.SetDefault("database.root_dir", DefaultRootDir)
	v.SetDefault("database.listen_address", DefaultListenAddress)
	v.SetDefault("database.catalog", "psql")

	v.SetDefault("tools.pg_dumpall", "/usr/bin/pg_dumpall")
	v.SetDefault("tools.pg_dump", "pg_dump")
	v.SetDefault("tools.psql", "psql")
	v.SetDefault("tools.pg_ctl", "/usr/pgsql-9.1/bin/pg_ctl")
	v.SetDefault("tools.euca_conf", "usr/sbin/euca_conf")
	v.SetDefault("tools.privilege", "sudo")

	v.SetDefault("accounts.privileged", "root")
	v.SetDefault("accounts.service", DefaultServiceUser)

	v.SetDefault("backup.directory", DefaultBackupDir)
	v.SetDefault("service.process_name", DefaultProcessName)

	v.SetDefault("keys.enabled", true)
	v.SetDefault("keys.directory", DefaultKeyDir)

	return &Parser{v: v}
}

// SetEucaHome overrides the installation root from the command line.
func (p *Parser) SetEucaHome(home string) {
	p.v.Set("euca_home", home)
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds the configuration without a config file.
func (p *Parser) LoadDefaults() (*models.Config, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	home := p.v.GetString("euca_home")
	if home == "" {
		return nil, fmt.Errorf("euca_home must not be empty")
	}
	home = filepath.Clean(home)

	cfg := &models.Config{EucaHome: home}

	cfg.Database = models.DatabaseConfig{
		Port:          p.v.GetInt("database.port"),
		User:          p.v.GetString("database.user"),
		DataDir:       underHome(home, p.v.GetString("database.data_dir")),
		RootDir:       underHome(home, p.v.GetString("database.root_dir")),
		ListenAddress: p.v.GetString("database.listen_address"),
		Catalog:       p.v.GetString("database.catalog"),
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("database.port must be between 1 and 65535")
	}
	validCatalogs := map[string]bool{"psql": true, "driver": true}
	if !validCatalogs[cfg.Database.Catalog] {
		return nil, fmt.Errorf("database.catalog must be one of: psql, driver")
	}
	cfg.Database.SocketFile = filepath.Join(cfg.Database.DataDir, fmt.Sprintf(".s.PGSQL.%d", cfg.Database.Port))

	cfg.Tools = models.ToolPaths{
		PgDumpAll: toolPath(home, p.v.GetString("tools.pg_dumpall")),
		PgDump:    toolPath(home, p.v.GetString("tools.pg_dump")),
		Psql:      toolPath(home, p.v.GetString("tools.psql")),
		PgCtl:     toolPath(home, p.v.GetString("tools.pg_ctl")),
		EucaConf:  toolPath(home, p.v.GetString("tools.euca_conf")),
		Privilege: p.v.GetString("tools.privilege"),
	}

	cfg.Accounts = models.Accounts{
		Privileged: p.v.GetString("accounts.privileged"),
		Service:    p.v.GetString("accounts.service"),
	}

	cfg.Backup = models.BackupSettings{
		Directory: p.expandEnv(p.v.GetString("backup.directory")),
	}
	if !filepath.IsAbs(cfg.Backup.Directory) {
		return nil, fmt.Errorf("backup.directory must be an absolute path")
	}

	cfg.Service = models.ServiceSettings{
		ProcessName: p.v.GetString("service.process_name"),
	}

	cfg.Keys = models.KeyArchiveConfig{
		Enabled:       p.v.GetBool("keys.enabled"),
		Directory:     underHome(home, p.v.GetString("keys.directory")),
		AgeRecipients: p.v.GetStringSlice("keys.age_recipients"),
	}

	// Parse optional restic config.
	if p.v.IsSet("restic") { //nolint:nestif // config parsing with defaults
		cfg.Restic = &models.ResticConfig{
			Repository:   p.expandEnv(p.v.GetString("restic.repository")),
			Password:     p.expandEnv(p.v.GetString("restic.password")),
			RestUser:     p.expandEnv(p.v.GetString("restic.rest_user")),
			RestPassword: p.expandEnv(p.v.GetString("restic.rest_password")),
			Host:         p.v.GetString("restic.host"),
			Tags:         p.v.GetStringSlice("restic.tags"),
			Retention: models.RetentionPolicy{
				KeepDaily:   p.v.GetInt("restic.retention.keep_daily"),
				KeepWeekly:  p.v.GetInt("restic.retention.keep_weekly"),
				KeepMonthly: p.v.GetInt("restic.retention.keep_monthly"),
			},
		}

		if cfg.Restic.Repository == "" {
			return nil, fmt.Errorf("restic.repository is required when restic is configured")
		}
		if cfg.Restic.Password == "" {
			return nil, fmt.Errorf("restic.password is required when restic is configured")
		}

		// Set default host if not specified.
		if cfg.Restic.Host == "" {
			hostname, err := os.Hostname()
			if err != nil {
				cfg.Restic.Host = "unknown"
			} else {
				cfg.Restic.Host = hostname
			}
		}

		r := &cfg.Restic.Retention
		if r.KeepDaily == 0 && r.KeepWeekly == 0 && r.KeepMonthly == 0 {
			r.KeepDaily = 7
			r.KeepWeekly = 4
			r.KeepMonthly = 6
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// underHome resolves a relative path against the installation root.
func underHome(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

// toolPath resolves tool locations. Bare program names are left for PATH
// lookup; relative paths are taken from the installation root.
func toolPath(home, path string) string {
	if !strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	return underHome(home, path)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if cfg.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	if cfg.Database.RootDir == "" {
		return fmt.Errorf("database.root_dir is required")
	}
	if cfg.Tools.PgDumpAll == "" {
		return fmt.Errorf("tools.pg_dumpall is required")
	}
	if cfg.Accounts.Privileged == "" || cfg.Accounts.Service == "" {
		return fmt.Errorf("accounts.privileged and accounts.service are required")
	}
	if cfg.Service.ProcessName == "" {
		return fmt.Errorf("service.process_name is required")
	}
	if cfg.Keys.Enabled && cfg.Keys.Directory == "" {
		return fmt.Errorf("keys.directory is required when keys.enabled is set")
	}

	return nil
}
