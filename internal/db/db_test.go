package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flexible-voting/internal/config"
	"flexible-voting/internal/models"
)

func TestOpen_Disabled(t *testing.T) {
	gdb, err := Open(config.Config{})
	require.NoError(t, err)
	require.Nil(t, gdb)
	require.NoError(t, AutoMigrate(nil))
}

func TestOpen_SQLite(t *testing.T) {
	gdb, err := Open(config.Config{DBDialect: config.DatabaseSchemeSQLite, DBDsn: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gdb))
	require.True(t, gdb.Migrator().HasTable(&models.HostEvent{}))
	require.True(t, gdb.Migrator().HasTable(&models.PoolCast{}))
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(config.Config{DBDialect: "mysql", DBDsn: "x"})
	require.Error(t, err)
}
