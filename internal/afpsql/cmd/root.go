package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/diag"
)

// buildRootCmd wires the root command. ctx is the background context
// pipe-mode query dispatch runs under — it is never cancelled by a shutdown
// signal. shutdown is cancelled on SIGINT/SIGTERM; in pipe mode it only
// interrupts the read loop and triggers the router's graceful close, kept
// separate from ctx so a shutdown signal can't directly tear down in-flight
// queries. In cli mode shutdown is the single query's context (see runServe).
func buildRootCmd(ctx, shutdown context.Context) (*cobra.Command, error) {
	var (
		mode               string
		sessionName        string
		dsnSecret          string
		conninfoSecret     string
		host               string
		port               int
		user               string
		dbname             string
		passwordSecret     string
		inlineMaxRows      int
		inlineMaxBytes     int
		statementTimeoutMS int
		lockTimeoutMS      int
		logCategories      []string
		maxConns           int
		closeGraceMS       int
		debug              bool
	)

	cmd := &cobra.Command{
		Use:   "afpsql",
		Short: "A machine-facing PostgreSQL client protocol engine",
		Long: `afpsql speaks a newline-delimited JSON request/response protocol over
stdin/stdout, layered on the native PostgreSQL wire protocol. It manages
named session connection pools, runs concurrent queries keyed by
client-supplied correlation ids, and streams large result sets in bounded
batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(ctx)

			config.SetupViper(viper.GetViper())

			// Bind flags under the same underscore-style keys SetupViper
			// registers defaults for, so AFPSQL_<KEY> env vars reach these
			// settings the same way they reach config.Bootstrap's
			// connection-spec fields.
			if err := errors.Join(
				viper.BindPFlag("session", cmd.Flags().Lookup("session")),
				viper.BindPFlag("dsn_secret", cmd.Flags().Lookup("dsn-secret")),
				viper.BindPFlag("conninfo_secret", cmd.Flags().Lookup("conninfo-secret")),
				viper.BindPFlag("host", cmd.Flags().Lookup("host")),
				viper.BindPFlag("port", cmd.Flags().Lookup("port")),
				viper.BindPFlag("user", cmd.Flags().Lookup("user")),
				viper.BindPFlag("dbname", cmd.Flags().Lookup("dbname")),
				viper.BindPFlag("password_secret", cmd.Flags().Lookup("password-secret")),
				viper.BindPFlag("inline_max_rows", cmd.Flags().Lookup("inline-max-rows")),
				viper.BindPFlag("inline_max_bytes", cmd.Flags().Lookup("inline-max-bytes")),
				viper.BindPFlag("statement_timeout_ms", cmd.Flags().Lookup("statement-timeout-ms")),
				viper.BindPFlag("lock_timeout_ms", cmd.Flags().Lookup("lock-timeout-ms")),
				viper.BindPFlag("log", cmd.Flags().Lookup("log")),
				viper.BindPFlag("mode", cmd.Flags().Lookup("mode")),
				viper.BindPFlag("max_conns", cmd.Flags().Lookup("max-conns")),
				viper.BindPFlag("close_grace_ms", cmd.Flags().Lookup("close-grace-ms")),
				viper.BindPFlag("debug", cmd.Flags().Lookup("debug")),
			); err != nil {
				return ExitWithCode(ExitArguments, fmt.Errorf("failed to bind flags: %w", err))
			}

			if err := diag.Init(debug); err != nil {
				return ExitWithCode(ExitArguments, fmt.Errorf("failed to initialize diagnostics: %w", err))
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			diag.Sync()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := config.CLIFlags{
				Session:            viper.GetString("session"),
				DSNSecret:          viper.GetString("dsn_secret"),
				ConninfoSecret:     viper.GetString("conninfo_secret"),
				Host:               viper.GetString("host"),
				Port:               viper.GetInt("port"),
				User:               viper.GetString("user"),
				DBName:             viper.GetString("dbname"),
				PasswordSecret:     viper.GetString("password_secret"),
				InlineMaxRows:      viper.GetInt("inline_max_rows"),
				InlineMaxBytes:     viper.GetInt("inline_max_bytes"),
				StatementTimeoutMS: viper.GetInt("statement_timeout_ms"),
				LockTimeoutMS:      viper.GetInt("lock_timeout_ms"),
				Log:                viper.GetStringSlice("log"),
			}

			opts := serveOptions{
				mode:       viper.GetString("mode"),
				maxConns:   int32(viper.GetInt("max_conns")),
				closeGrace: time.Duration(viper.GetInt("close_grace_ms")) * time.Millisecond,
			}

			return runServe(cmd.Context(), shutdown, flags, opts)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", `run mode, "pipe" or "cli" (default: pipe unless stdin is a TTY)`)
	cmd.Flags().StringVar(&sessionName, "session", config.DefaultSessionName, "name of the default session")
	cmd.Flags().StringVar(&dsnSecret, "dsn-secret", "", "default session connection URI")
	cmd.Flags().StringVar(&conninfoSecret, "conninfo-secret", "", "default session key=value connection string")
	cmd.Flags().StringVar(&host, "host", "", "default session host (falls back to PGHOST)")
	cmd.Flags().IntVar(&port, "port", 0, "default session port (falls back to PGPORT)")
	cmd.Flags().StringVar(&user, "user", "", "default session user (falls back to PGUSER)")
	cmd.Flags().StringVar(&dbname, "dbname", "", "default session database name (falls back to PGDATABASE)")
	cmd.Flags().StringVar(&passwordSecret, "password-secret", "", "default session password")
	cmd.Flags().IntVar(&inlineMaxRows, "inline-max-rows", config.DefaultInlineMaxRows, "row limit before an inline result is rejected as too large")
	cmd.Flags().IntVar(&inlineMaxBytes, "inline-max-bytes", config.DefaultInlineMaxBytes, "byte limit before an inline result is rejected as too large")
	cmd.Flags().IntVar(&statementTimeoutMS, "statement-timeout-ms", config.DefaultStatementTimeoutMS, "default statement_timeout applied per query")
	cmd.Flags().IntVar(&lockTimeoutMS, "lock-timeout-ms", config.DefaultLockTimeoutMS, "default lock_timeout applied per query")
	cmd.Flags().StringSliceVar(&logCategories, "log", nil, `log event categories to enable, e.g. "query.error" or "all"`)
	cmd.Flags().IntVar(&maxConns, "max-conns", 0, "maximum pooled connections per session (0: driver default)")
	cmd.Flags().IntVar(&closeGraceMS, "close-grace-ms", 5000, "grace period in milliseconds for in-flight queries to finish after a close request")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level process diagnostics on stderr")

	return cmd, nil
}

// Execute builds and runs the root command. shutdown is cancelled on
// SIGINT/SIGTERM; see buildRootCmd.
func Execute(ctx, shutdown context.Context) error {
	rootCmd, err := buildRootCmd(ctx, shutdown)
	if err != nil {
		return err
	}
	return rootCmd.Execute()
}
