package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// noticeSinks routes a pool-wide OnNotice callback (pgx only supports one
// per pgconn.Config, shared by every connection the pool opens) back to the
// specific pgxConn currently wrapping the *pgconn.PgConn that received it.
var noticeSinks sync.Map // *pgconn.PgConn -> *pgxConn

// statementCounter produces unique names for the (never cached) prepared
// statements this adapter creates, since pgx's Prepare keys its internal
// statement cache by name.
var statementCounter atomic.Uint64

func nextStatementName() string {
	return fmt.Sprintf("afd_%d", statementCounter.Add(1))
}

// ConnString renders a Connection Spec into a connection string pgx can
// parse, honoring the precedence of spec §3: dsn_secret, then
// conninfo_secret, then discrete fields.
func ConnString(spec config.ConnectionSpec) (string, error) {
	switch {
	case spec.DSNSecret != "":
		return spec.DSNSecret, nil
	case spec.ConninfoSecret != "":
		return spec.ConninfoSecret, nil
	case spec.Host != "" || spec.DBName != "" || spec.User != "":
		var conninfo string
		add := func(key, val string) {
			if val != "" {
				conninfo += fmt.Sprintf("%s='%s' ", key, val)
			}
		}
		add("host", spec.Host)
		if spec.Port != 0 {
			conninfo += fmt.Sprintf("port=%d ", spec.Port)
		}
		add("user", spec.User)
		add("dbname", spec.DBName)
		add("password", spec.PasswordSecret)
		return conninfo, nil
	default:
		return "", fmt.Errorf("connection spec has no dsn_secret, conninfo_secret, or discrete fields set")
	}
}

// PgxPool implements Pool over a *pgxpool.Pool.
type PgxPool struct {
	pool *pgxpool.Pool
}

// Connect acquires a pool for spec, sized per maxConns (0 means the pgx
// default). Mirrors pgx.Connect usage in internal/tiger/mcp/db.go, scaled up
// to a long-lived pool since sessions here persist across many queries
// rather than connecting once per call.
func Connect(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (*PgxPool, error) {
	connStr, err := ConnString(spec)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	poolCfg.ConnConfig.OnNotice = func(pc *pgconn.PgConn, n *pgconn.Notice) {
		if v, ok := noticeSinks.Load(pc); ok {
			v.(*pgxConn).recordNotice(n)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PgxPool{pool: pool}, nil
}

func (p *PgxPool) Acquire(ctx context.Context) (Conn, error) {
	pc, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn := &pgxConn{pooled: pc}
	noticeSinks.Store(conn.conn().PgConn(), conn)
	return conn, nil
}

func (p *PgxPool) Close() {
	p.pool.Close()
}

type pgxConn struct {
	pooled       *pgxpool.Conn
	stmtName     string
	inReadOnlyTx bool

	noticeMu sync.Mutex
	notices  []Notice
}

func (c *pgxConn) recordNotice(n *pgconn.Notice) {
	c.noticeMu.Lock()
	c.notices = append(c.notices, Notice{Severity: n.Severity, Message: n.Message})
	c.noticeMu.Unlock()
}

func (c *pgxConn) DrainNotices() []Notice {
	c.noticeMu.Lock()
	defer c.noticeMu.Unlock()
	drained := c.notices
	c.notices = nil
	return drained
}

func (c *pgxConn) conn() *pgx.Conn { return c.pooled.Conn() }

func (c *pgxConn) Prepare(ctx context.Context, sql string) (*Prepared, error) {
	c.stmtName = nextStatementName()
	sd, err := c.conn().Prepare(ctx, c.stmtName, sql)
	if err != nil {
		return nil, err
	}

	typeMap := c.conn().TypeMap()
	columns := make([]protocol.ColumnMeta, len(sd.Fields))
	for i, f := range sd.Fields {
		columns[i] = protocol.ColumnMeta{
			Name: string(f.Name),
			Type: oidName(typeMap, f.DataTypeOID),
		}
	}

	return &Prepared{ParamOIDs: sd.ParamOIDs, Columns: columns}, nil
}

// oidName resolves a type OID to its PostgreSQL name (e.g. "int4", "text")
// using the connection's registered type map, falling back to the bare OID
// for extension/unregistered types.
func oidName(typeMap *pgtype.Map, oid uint32) string {
	if t, ok := typeMap.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

func (c *pgxConn) SetTimeouts(ctx context.Context, statementTimeoutMS, lockTimeoutMS int) error {
	_, err := c.conn().Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", statementTimeoutMS))
	if err != nil {
		return err
	}
	_, err = c.conn().Exec(ctx, fmt.Sprintf("SET lock_timeout = %d", lockTimeoutMS))
	return err
}

// ResetSession runs once per query, just before the connection goes back to
// the pool: it undoes every piece of session state the query may have left
// behind, so the next query to acquire this connection starts clean. The
// prepared statement is per-query (spec §3's data model: "Destroyed with
// the query"), so it is deallocated here rather than left for pgx's
// client-side cache to accumulate across the session's lifetime.
func (c *pgxConn) ResetSession(ctx context.Context) error {
	if c.inReadOnlyTx {
		_ = c.RollbackReadOnly(ctx)
	}
	if c.stmtName != "" {
		_ = c.conn().Deallocate(ctx, c.stmtName)
		c.stmtName = ""
	}
	_, err := c.conn().Exec(ctx, "SET statement_timeout = DEFAULT; SET lock_timeout = DEFAULT")
	return err
}

func (c *pgxConn) BeginReadOnly(ctx context.Context) error {
	_, err := c.conn().Exec(ctx, "BEGIN READ ONLY")
	if err == nil {
		c.inReadOnlyTx = true
	}
	return err
}

func (c *pgxConn) CommitReadOnly(ctx context.Context) error {
	_, err := c.conn().Exec(ctx, "COMMIT")
	c.inReadOnlyTx = false
	return err
}

func (c *pgxConn) RollbackReadOnly(ctx context.Context) error {
	_, err := c.conn().Exec(ctx, "ROLLBACK")
	c.inReadOnlyTx = false
	return err
}

func (c *pgxConn) Execute(ctx context.Context, prepared *Prepared, params []any) (Execution, error) {
	rows, err := c.conn().Query(ctx, c.stmtName, params...)
	if err != nil {
		return nil, err
	}
	return &pgxExecution{rows: rows, columns: prepared.Columns}, nil
}

func (c *pgxConn) Cancel(ctx context.Context) error {
	return c.conn().PgConn().CancelRequest(ctx)
}

func (c *pgxConn) Release() {
	noticeSinks.Delete(c.conn().PgConn())
	c.pooled.Release()
}

type pgxExecution struct {
	rows    pgx.Rows
	columns []protocol.ColumnMeta
}

func (e *pgxExecution) Next(ctx context.Context) (map[string]any, bool, error) {
	if !e.rows.Next() {
		return nil, false, e.rows.Err()
	}

	values, err := e.rows.Values()
	if err != nil {
		return nil, false, err
	}

	row := make(map[string]any, len(e.columns))
	for i, col := range e.columns {
		if i < len(values) {
			row[col.Name] = values[i]
		}
	}
	return row, true, nil
}

func (e *pgxExecution) CommandTag() string {
	return e.rows.CommandTag().String()
}

func (e *pgxExecution) RowsAffected() int64 {
	return e.rows.CommandTag().RowsAffected()
}

func (e *pgxExecution) Close() {
	e.rows.Close()
}
