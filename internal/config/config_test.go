package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flexible-voting/internal/counting"
	"flexible-voting/internal/flexvote"
)

func TestParseDatabaseURL(t *testing.T) {
	for _, tc := range []struct {
		in      string
		dialect string
		dsn     string
		wantErr bool
	}{
		{in: "postgres://u:p@db:5432/pool", dialect: DatabaseSchemePostgres, dsn: "postgres://u:p@db:5432/pool"},
		{in: "postgresql://db/pool", dialect: DatabaseSchemePostgres, dsn: "postgresql://db/pool"},
		{in: "sqlite://pool.db", dialect: DatabaseSchemeSQLite, dsn: "pool.db"},
		{in: "sqlite://:memory:", dialect: DatabaseSchemeSQLite, dsn: ":memory:"},
		{in: "sqlite://", wantErr: true},
		{in: "mysql://db/pool", wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			dialect, dsn, err := parseDatabaseURL(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.dialect, dialect)
			require.Equal(t, tc.dsn, dsn)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"RPC_URL", "DATABASE_URL", "VOTE_MODE", "QUORUM_POLICY", "CAST_VOTE_WINDOW", "VOTING_DELAY", "VOTING_PERIOD", "QUORUM_NUMERATOR", "START_HEIGHT", "POOL_ADDRESS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:26657", cfg.RPCURL)
	require.Equal(t, "flexvote-pool", cfg.PoolAddress)
	require.Equal(t, flexvote.ModeOneShot, cfg.VoteMode)
	require.Equal(t, counting.QuorumForAbstain, cfg.QuorumPolicy)
	require.Equal(t, uint64(1200), cfg.CastVoteWindow)
	require.Equal(t, uint64(50400), cfg.VotingPeriod)
	require.Equal(t, uint64(4), cfg.QuorumNumerator)
	require.Equal(t, uint64(1), cfg.StartHeight)
	require.Empty(t, cfg.DBDialect)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VOTE_MODE", "rolling")
	t.Setenv("QUORUM_POLICY", "for")
	t.Setenv("CAST_VOTE_WINDOW", "10")
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("POOL_ADDRESS", "cosmos1pool")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, flexvote.ModeRolling, cfg.VoteMode)
	require.Equal(t, counting.QuorumForOnly, cfg.QuorumPolicy)
	require.Equal(t, DatabaseSchemeSQLite, cfg.DBDialect)

	s := cfg.EngineSettings()
	require.Equal(t, "cosmos1pool", s.Pool.Address)
	require.Equal(t, uint64(10), s.Pool.CastVoteWindow)
	require.Equal(t, counting.QuorumForOnly, s.Governor.QuorumPolicy)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("mode", func(t *testing.T) {
		t.Setenv("VOTE_MODE", "sometimes")
		_, err := Load()
		require.ErrorIs(t, err, flexvote.ErrUnknownMode)
	})
	t.Run("number", func(t *testing.T) {
		t.Setenv("VOTING_PERIOD", "-1")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("quorum", func(t *testing.T) {
		t.Setenv("QUORUM_NUMERATOR", "101")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestMaskDSN(t *testing.T) {
	require.Equal(t, "postgres://user@db/pool", maskDSN(DatabaseSchemePostgres, "postgres://user:secret@db/pool"))
	require.Equal(t, "host=db password=*** dbname=pool", maskDSN(DatabaseSchemePostgres, "host=db password=secret dbname=pool"))
	require.Equal(t, "pool.db", maskDSN(DatabaseSchemeSQLite, "pool.db"))
}
