// Package adapter abstracts the boundary over a PostgreSQL driver (spec
// §4.2): prepare, execute, stream rows, cancel, and read parameter OIDs and
// column metadata. The pipeline never imports pgx directly — it only sees
// these interfaces, so it can be exercised against a fake in tests without a
// live database.
package adapter

import (
	"context"

	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// Pool is a named session's connection pool.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// Notice is a server NOTICE/WARNING/etc. message delivered asynchronously
// during query execution (spec §3's Notice type), independent of the
// statement's eventual result or error.
type Notice struct {
	Severity string
	Message  string
}

// Prepared holds the parameter OID vector and column metadata for one
// prepared statement. It is never cached across queries (spec Non-goals).
type Prepared struct {
	ParamOIDs []uint32
	Columns   []protocol.ColumnMeta
}

// IsCommand reports whether the statement takes the command path: no result
// columns (spec §4.6 item 3).
func (p *Prepared) IsCommand() bool {
	return len(p.Columns) == 0
}

// Conn is one acquired connection, scoped to a single query's lifetime.
type Conn interface {
	// Prepare parses and describes sql without executing it.
	Prepare(ctx context.Context, sql string) (*Prepared, error)

	// SetTimeouts applies statement_timeout/lock_timeout to the session
	// (spec §4.2: "applies ... to the session before execution").
	SetTimeouts(ctx context.Context, statementTimeoutMS, lockTimeoutMS int) error

	// ResetSession undoes SetTimeouts and any open read-only transaction
	// state before the connection is returned to the pool (spec §4.6 item 6).
	ResetSession(ctx context.Context) error

	// BeginReadOnly/CommitReadOnly/RollbackReadOnly implement the
	// read_only option (spec §4.6 item 5).
	BeginReadOnly(ctx context.Context) error
	CommitReadOnly(ctx context.Context) error
	RollbackReadOnly(ctx context.Context) error

	// Execute binds params to prepared and begins execution.
	Execute(ctx context.Context, prepared *Prepared, params []any) (Execution, error)

	// Cancel asks the server to cancel whatever this connection is
	// currently executing. Safe to call concurrently from another
	// goroutine (spec §4.2: "opaque, thread-safe handle").
	Cancel(ctx context.Context) error

	// Release returns the connection to the pool.
	Release()

	// DrainNotices returns every Notice received since the last call and
	// clears its buffer. Called by the pipeline at each state-machine
	// boundary so notices are always emitted before the terminal event for
	// the query that was running when they arrived (spec §9).
	DrainNotices() []Notice
}

// Execution is one statement's execution in progress.
type Execution interface {
	// Next advances to the next row. ok is false once rows are exhausted;
	// after that, CommandTag and RowsAffected are valid.
	Next(ctx context.Context) (row map[string]any, ok bool, err error)

	// CommandTag returns the server-reported completion tag, valid only
	// after Next has returned ok=false.
	CommandTag() string

	// RowsAffected returns the server-reported row count, valid only
	// after Next has returned ok=false.
	RowsAffected() int64

	Close()
}
