package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnConfig_IgnoresEnvironment(t *testing.T) {
	t.Setenv("PGHOST", "db.example.com")
	t.Setenv("PGPORT", "5432")
	t.Setenv("PGSSLMODE", "require")
	t.Setenv("PGDATABASE", "other")

	connCfg, err := ConnConfig(testConfig())

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/eucalyptus/db/data", connCfg.Host)
	assert.Equal(t, uint16(8777), connCfg.Port)
	assert.Equal(t, "root", connCfg.User)
	assert.Equal(t, MaintenanceDatabase, connCfg.Database)
	assert.Nil(t, connCfg.TLSConfig)
	assert.Empty(t, connCfg.Fallbacks)
}

func TestConnConfig_QuotesValues(t *testing.T) {
	cfg := testConfig()
	cfg.Database.DataDir = "/opt/euca home/db/it's"

	connCfg, err := ConnConfig(cfg)

	require.NoError(t, err)
	assert.Equal(t, "/opt/euca home/db/it's", connCfg.Host)
	assert.Empty(t, connCfg.Fallbacks)
}

func TestDsnValue(t *testing.T) {
	assert.Equal(t, `'plain'`, dsnValue("plain"))
	assert.Equal(t, `'a\'b\\c'`, dsnValue(`a'b\c`))
}
