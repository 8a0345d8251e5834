package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadDefaults(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadDefaults()

	require.NoError(t, err)
	assert.Equal(t, "/", cfg.EucaHome)
	assert.Equal(t, 8777, cfg.Database.Port)
	assert.Equal(t, "root", cfg.Database.User)
	assert.Equal(t, "/var/lib/eucalyptus/db/data", cfg.Database.DataDir)
	assert.Equal(t, "/var/lib/eucalyptus/db", cfg.Database.RootDir)
	assert.Equal(t, "/var/lib/eucalyptus/db/data/.s.PGSQL.8777", cfg.Database.SocketFile)
	assert.Equal(t, "0.0.0.0", cfg.Database.ListenAddress)
	assert.Equal(t, "psql", cfg.Database.Catalog)

	assert.Equal(t, "/usr/bin/pg_dumpall", cfg.Tools.PgDumpAll)
	assert.Equal(t, "pg_dump", cfg.Tools.PgDump)
	assert.Equal(t, "psql", cfg.Tools.Psql)
	assert.Equal(t, "/usr/pgsql-9.1/bin/pg_ctl", cfg.Tools.PgCtl)
	assert.Equal(t, "/usr/sbin/euca_conf", cfg.Tools.EucaConf)
	assert.Equal(t, "sudo", cfg.Tools.Privilege)

	assert.Equal(t, "root", cfg.Accounts.Privileged)
	assert.Equal(t, "eucalyptus", cfg.Accounts.Service)
	assert.Equal(t, "/var/lib/eucalyptus/backup", cfg.Backup.Directory)
	assert.Equal(t, "eucalyptus-cloud", cfg.Service.ProcessName)

	assert.True(t, cfg.Keys.Enabled)
	assert.Equal(t, "/var/lib/eucalyptus/keys", cfg.Keys.Directory)
	assert.Empty(t, cfg.Keys.AgeRecipients)

	assert.Nil(t, cfg.Restic)
	assert.Nil(t, cfg.Telegram)
	require.NoError(t, Validate(cfg))
}

func TestParser_SetEucaHome(t *testing.T) {
	parser := NewParser()
	parser.SetEucaHome("/opt/eucalyptus")
	cfg, err := parser.LoadDefaults()

	require.NoError(t, err)
	assert.Equal(t, "/opt/eucalyptus", cfg.EucaHome)
	assert.Equal(t, "/opt/eucalyptus/var/lib/eucalyptus/db/data", cfg.Database.DataDir)
	assert.Equal(t, "/opt/eucalyptus/var/lib/eucalyptus/db", cfg.Database.RootDir)
	assert.Equal(t, "/opt/eucalyptus/var/lib/eucalyptus/keys", cfg.Keys.Directory)
	assert.Equal(t, "/opt/eucalyptus/usr/sbin/euca_conf", cfg.Tools.EucaConf)
	// Absolute tool paths are not moved under the installation root.
	assert.Equal(t, "/usr/bin/pg_dumpall", cfg.Tools.PgDumpAll)
}

func TestParser_SetEucaHome_OverridesFile(t *testing.T) {
	parser := NewParser()
	parser.SetEucaHome("/srv/euca")
	cfg, err := parser.LoadReader(`euca_home: /opt/eucalyptus`)

	require.NoError(t, err)
	assert.Equal(t, "/srv/euca", cfg.EucaHome)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
euca_home: /opt/eucalyptus

database:
  port: 5433
  user: postgres
  data_dir: /data/pg
  root_dir: db
  listen_address: 127.0.0.1
  catalog: driver

tools:
  pg_dumpall: /usr/pgsql-9.1/bin/pg_dumpall
  pg_dump: /usr/pgsql-9.1/bin/pg_dump
  psql: /usr/pgsql-9.1/bin/psql
  pg_ctl: /usr/pgsql-9.1/bin/pg_ctl
  euca_conf: /usr/sbin/euca_conf
  privilege: doas

accounts:
  privileged: admin
  service: euca

backup:
  directory: /srv/backup

service:
  process_name: eucalyptus-cloud-java

keys:
  enabled: true
  directory: /etc/euca/keys
  age_recipients:
    - age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p

restic:
  repository: "rest:http://192.168.1.100:8000/clc/"
  password: "secret123"
  rest_user: "backup"
  rest_password: "restpass"
  host: "clc-01"
  tags:
    - clc
    - nightly
  retention:
    keep_daily: 14
    keep_weekly: 8
    keep_monthly: 12

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	assert.Equal(t, "/opt/eucalyptus", cfg.EucaHome)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "/data/pg", cfg.Database.DataDir)
	assert.Equal(t, "/opt/eucalyptus/db", cfg.Database.RootDir)
	assert.Equal(t, "/data/pg/.s.PGSQL.5433", cfg.Database.SocketFile)
	assert.Equal(t, "127.0.0.1", cfg.Database.ListenAddress)
	assert.Equal(t, "driver", cfg.Database.Catalog)

	assert.Equal(t, "/usr/pgsql-9.1/bin/pg_dump", cfg.Tools.PgDump)
	assert.Equal(t, "/usr/sbin/euca_conf", cfg.Tools.EucaConf)
	assert.Equal(t, "doas", cfg.Tools.Privilege)

	assert.Equal(t, "admin", cfg.Accounts.Privileged)
	assert.Equal(t, "euca", cfg.Accounts.Service)
	assert.Equal(t, "/srv/backup", cfg.Backup.Directory)
	assert.Equal(t, "eucalyptus-cloud-java", cfg.Service.ProcessName)

	assert.Equal(t, "/etc/euca/keys", cfg.Keys.Directory)
	assert.Len(t, cfg.Keys.AgeRecipients, 1)

	require.NotNil(t, cfg.Restic)
	assert.Equal(t, "rest:http://192.168.1.100:8000/clc/", cfg.Restic.Repository)
	assert.Equal(t, "secret123", cfg.Restic.Password)
	assert.Equal(t, "backup", cfg.Restic.RestUser)
	assert.Equal(t, "restpass", cfg.Restic.RestPassword)
	assert.Equal(t, "clc-01", cfg.Restic.Host)
	assert.Equal(t, []string{"clc", "nightly"}, cfg.Restic.Tags)
	assert.Equal(t, 14, cfg.Restic.Retention.KeepDaily)
	assert.Equal(t, 8, cfg.Restic.Retention.KeepWeekly)
	assert.Equal(t, 12, cfg.Restic.Retention.KeepMonthly)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123456789", cfg.Telegram.ChatID)
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clc-backup.yml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  port: 9000\n"), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Database.Port)
	assert.Equal(t, "/var/lib/eucalyptus/db/data/.s.PGSQL.9000", cfg.Database.SocketFile)
}

func TestParser_LoadFile_Missing(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile(filepath.Join(t.TempDir(), "nope.yml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_RESTIC_PASSWORD", "env_secret")
	t.Setenv("TEST_BOT_TOKEN", "env_token")
	t.Setenv("TEST_BACKUP_ROOT", "/mnt/backup")

	yaml := `
backup:
  directory: "${TEST_BACKUP_ROOT}/clc"
restic:
  repository: "/repo"
  password: "${TEST_RESTIC_PASSWORD}"
telegram:
  bot_token: "$TEST_BOT_TOKEN"
  chat_id: "1"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "/mnt/backup/clc", cfg.Backup.Directory)
	assert.Equal(t, "env_secret", cfg.Restic.Password)
	assert.Equal(t, "env_token", cfg.Telegram.BotToken)
}

func TestParser_LoadReader_ResticDefaults(t *testing.T) {
	yaml := `
restic:
  repository: "/repo"
  password: "secret"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.Restic)
	assert.Equal(t, 7, cfg.Restic.Retention.KeepDaily)
	assert.Equal(t, 4, cfg.Restic.Retention.KeepWeekly)
	assert.Equal(t, 6, cfg.Restic.Retention.KeepMonthly)

	expectedHost, _ := os.Hostname()
	if expectedHost == "" {
		expectedHost = "unknown"
	}
	assert.Equal(t, expectedHost, cfg.Restic.Host)
}

func TestParser_LoadReader_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "port out of range",
			yaml:   "database:\n  port: 70000\n",
			errMsg: "database.port must be between",
		},
		{
			name:   "unknown catalog",
			yaml:   "database:\n  catalog: odbc\n",
			errMsg: "database.catalog must be one of",
		},
		{
			name:   "relative backup directory",
			yaml:   "backup:\n  directory: backup\n",
			errMsg: "backup.directory must be an absolute path",
		},
		{
			name:   "empty euca home",
			yaml:   "euca_home: \"\"\n",
			errMsg: "euca_home must not be empty",
		},
		{
			name:   "restic without repository",
			yaml:   "restic:\n  password: secret\n",
			errMsg: "restic.repository is required",
		},
		{
			name:   "restic without password",
			yaml:   "restic:\n  repository: /repo\n",
			errMsg: "restic.password is required",
		},
		{
			name:   "telegram without token",
			yaml:   "telegram:\n  chat_id: \"1\"\n",
			errMsg: "telegram.bot_token is required",
		},
		{
			name:   "telegram without chat",
			yaml:   "telegram:\n  bot_token: abc\n",
			errMsg: "telegram.chat_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			_, err := parser.LoadReader(tt.yaml)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *models.Config {
		cfg, err := NewParser().LoadDefaults()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *models.Config) *models.Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "nil config",
			mutate:  func(*models.Config) *models.Config { return nil },
			wantErr: true,
			errMsg:  "configuration is nil",
		},
		{
			name: "missing database user",
			mutate: func(cfg *models.Config) *models.Config {
				cfg.Database.User = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "database.user is required",
		},
		{
			name: "missing service account",
			mutate: func(cfg *models.Config) *models.Config {
				cfg.Accounts.Service = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "accounts.privileged and accounts.service are required",
		},
		{
			name: "missing process name",
			mutate: func(cfg *models.Config) *models.Config {
				cfg.Service.ProcessName = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "service.process_name is required",
		},
		{
			name: "key archive without directory",
			mutate: func(cfg *models.Config) *models.Config {
				cfg.Keys.Directory = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "keys.directory is required",
		},
		{
			name: "disabled key archive without directory",
			mutate: func(cfg *models.Config) *models.Config {
				cfg.Keys.Enabled = false
				cfg.Keys.Directory = ""
				return cfg
			},
			wantErr: false,
		},
		{
			name:    "defaults",
			mutate:  func(cfg *models.Config) *models.Config { return cfg },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(valid()))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
