package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"flexible-voting/internal/counting"
	"flexible-voting/internal/engine"
	"flexible-voting/internal/flexvote"
	"flexible-voting/internal/governor"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
	// DatabaseSchemeSQLite is the sqlite database scheme identifier
	DatabaseSchemeSQLite = "sqlite"
)

type Config struct {
	RPCURL    string
	WSPath    string
	DBDialect string // postgres or sqlite
	DBDsn     string // DSN string passed to GORM driver
	AppAPIURL string // optional: Cosmos REST API base URL (e.g., http://node:1317)
	Debug     bool   // if true: show logs, no TUI; if false: no logs, show TUI

	PoolAddress    string
	VoteMode       flexvote.Mode
	CastVoteWindow uint64
	VotingDelay    uint64
	VotingPeriod   uint64
	// QuorumNumerator is a percentage of the total supply at the snapshot.
	QuorumNumerator uint64
	QuorumPolicy    counting.QuorumPolicy
	EventPrefix     string
	StartHeight     uint64
	MetricsAddr     string // empty disables the metrics endpoint
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvUint(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql, sqlite.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	// sqlite paths such as ":memory:" are not valid URL hosts
	if rest, ok := strings.CutPrefix(databaseURL, DatabaseSchemeSQLite+"://"); ok {
		if rest == "" {
			return "", "", fmt.Errorf("empty sqlite path in DATABASE_URL")
		}
		return DatabaseSchemeSQLite, rest, nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func parseQuorumPolicy(s string) (counting.QuorumPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "for,abstain", "for_abstain":
		return counting.QuorumForAbstain, nil
	case "for", "for_only":
		return counting.QuorumForOnly, nil
	}
	return 0, fmt.Errorf("unsupported QUORUM_POLICY: %s", s)
}

// Load reads the configuration from the environment. Malformed voting
// parameters are an error; a malformed DATABASE_URL only disables persistence.
func Load() (Config, error) {
	cfg := Config{
		RPCURL:      getenv("RPC_URL", "http://localhost:26657"),
		WSPath:      getenv("WS_PATH", "/websocket"),
		AppAPIURL:   os.Getenv("APP_API_URL"),
		Debug:       getenvBool("DEBUG", false),
		PoolAddress: getenv("POOL_ADDRESS", "flexvote-pool"),
		EventPrefix: getenv("EVENT_PREFIX", "flexvote"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	var err error
	if cfg.VoteMode, err = flexvote.ParseMode(os.Getenv("VOTE_MODE")); err != nil {
		return cfg, err
	}
	if cfg.QuorumPolicy, err = parseQuorumPolicy(os.Getenv("QUORUM_POLICY")); err != nil {
		return cfg, err
	}
	for _, u := range []struct {
		key string
		def uint64
		dst *uint64
	}{
		{"CAST_VOTE_WINDOW", 1200, &cfg.CastVoteWindow},
		{"VOTING_DELAY", 1, &cfg.VotingDelay},
		{"VOTING_PERIOD", 50400, &cfg.VotingPeriod},
		{"QUORUM_NUMERATOR", 4, &cfg.QuorumNumerator},
		{"START_HEIGHT", 1, &cfg.StartHeight},
	} {
		if *u.dst, err = getenvUint(u.key, u.def); err != nil {
			return cfg, err
		}
	}
	if cfg.QuorumNumerator > 100 {
		return cfg, fmt.Errorf("QUORUM_NUMERATOR must be at most 100, got %d", cfg.QuorumNumerator)
	}
	if cfg.StartHeight == 0 {
		cfg.StartHeight = 1
	}
	return cfg, nil
}

// EngineSettings maps the configuration onto the state machine.
func (c Config) EngineSettings() engine.Settings {
	return engine.Settings{
		Pool: flexvote.Settings{
			Address:        c.PoolAddress,
			Mode:           c.VoteMode,
			CastVoteWindow: c.CastVoteWindow,
			Reason:         "flexible voting pool " + c.PoolAddress,
		},
		Governor: governor.Settings{
			VotingDelay:     c.VotingDelay,
			VotingPeriod:    c.VotingPeriod,
			QuorumNumerator: c.QuorumNumerator,
			QuorumPolicy:    c.QuorumPolicy,
		},
	}
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s ws_path=%s db=%s pool=%s mode=%s", c.RPCURL, c.WSPath, c.DBDialect, c.PoolAddress, c.VoteMode)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws_path=%s db=%s dsn=%s app_api_url=%s pool=%s mode=%s window=%d delay=%d period=%d quorum=%d%% prefix=%s start=%d metrics=%s",
		c.RPCURL,
		c.WSPath,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.AppAPIURL,
		c.PoolAddress,
		c.VoteMode,
		c.CastVoteWindow,
		c.VotingDelay,
		c.VotingPeriod,
		c.QuorumNumerator,
		c.EventPrefix,
		c.StartHeight,
		c.MetricsAddr,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
