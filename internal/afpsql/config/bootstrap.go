package config

import (
	"os"

	"github.com/spf13/viper"
)

// CLIFlags mirrors the canonical AFD flags of spec §6 that affect the
// initial configuration snapshot. Zero values mean "not set on the command
// line".
type CLIFlags struct {
	Session            string
	DSNSecret          string
	ConninfoSecret     string
	Host               string
	Port               int
	User               string
	DBName             string
	PasswordSecret     string
	InlineMaxRows      int
	InlineMaxBytes     int
	StatementTimeoutMS int
	LockTimeoutMS      int
	Log                []string
}

// SetupViper configures v with the AFPSQL_* environment prefix and the
// built-in defaults, mirroring internal/tiger/config.SetupViper's
// flags>env>defaults layering (minus a config file layer: this engine has
// no on-disk configuration, see SPEC_FULL.md).
func SetupViper(v *viper.Viper) {
	v.SetEnvPrefix("AFPSQL")
	v.AutomaticEnv()

	v.SetDefault("inline_max_rows", DefaultInlineMaxRows)
	v.SetDefault("inline_max_bytes", DefaultInlineMaxBytes)
	v.SetDefault("statement_timeout_ms", DefaultStatementTimeoutMS)
	v.SetDefault("lock_timeout_ms", DefaultLockTimeoutMS)
	v.SetDefault("session", DefaultSessionName)
}

// envFallback reads the canonical AFPSQL_<key> variable first, then the
// standard PG<key> variable, per spec §6's documented precedence.
func envFallback(canonical, standard string) string {
	if v := os.Getenv("AFPSQL_" + canonical); v != "" {
		return v
	}
	if standard != "" {
		return os.Getenv(standard)
	}
	return ""
}

// ResolveDefaultConnectionSpec builds the Connection Spec for the default
// session from CLI-translated flags, falling back to the environment
// (canonical AFPSQL_* first, then standard PG*), per spec §3's resolution
// precedence. It never consults a request or a registered session — that is
// session.ResolveSpec's job, one precedence level up.
func ResolveDefaultConnectionSpec(flags CLIFlags) ConnectionSpec {
	spec := ConnectionSpec{
		DSNSecret:      flags.DSNSecret,
		ConninfoSecret: flags.ConninfoSecret,
		Host:           flags.Host,
		Port:           flags.Port,
		User:           flags.User,
		DBName:         flags.DBName,
		PasswordSecret: flags.PasswordSecret,
	}

	if spec.DSNSecret == "" {
		spec.DSNSecret = envFallback("DSN_SECRET", "")
	}
	if spec.ConninfoSecret == "" {
		spec.ConninfoSecret = envFallback("CONNINFO_SECRET", "")
	}
	if spec.Host == "" {
		spec.Host = envFallback("HOST", "PGHOST")
	}
	if spec.Port == 0 {
		if p := envFallback("PORT", "PGPORT"); p != "" {
			spec.Port = parsePortOrZero(p)
		}
	}
	if spec.User == "" {
		spec.User = envFallback("USER", "PGUSER")
	}
	if spec.DBName == "" {
		spec.DBName = envFallback("DBNAME", "PGDATABASE")
	}
	if spec.PasswordSecret == "" {
		spec.PasswordSecret = envFallback("PASSWORD_SECRET", "")
	}

	return spec
}

func parsePortOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Bootstrap builds the process's initial Snapshot from CLI flags layered
// over environment fallback layered over built-in defaults.
func Bootstrap(flags CLIFlags) *Snapshot {
	snap := Default()

	sessionName := flags.Session
	if sessionName == "" {
		sessionName = DefaultSessionName
	}
	snap.DefaultSession = sessionName
	snap.Sessions[sessionName] = ResolveDefaultConnectionSpec(flags)

	if flags.InlineMaxRows > 0 {
		snap.InlineMaxRows = flags.InlineMaxRows
	}
	if flags.InlineMaxBytes > 0 {
		snap.InlineMaxBytes = flags.InlineMaxBytes
	}
	if flags.StatementTimeoutMS > 0 {
		snap.StatementTimeoutMS = flags.StatementTimeoutMS
	}
	if flags.LockTimeoutMS > 0 {
		snap.LockTimeoutMS = flags.LockTimeoutMS
	}
	if len(flags.Log) > 0 {
		snap.Log = make(map[string]struct{}, len(flags.Log))
		for _, cat := range flags.Log {
			snap.Log[cat] = struct{}{}
		}
	}

	return snap
}
