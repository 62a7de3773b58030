// Package adaptertest provides a scriptable fake implementation of
// internal/afpsql/adapter's interfaces, in the spirit of the teacher's
// override-a-package-var style test doubles (see cmd/db.go's
// getServiceDetailsFunc), so the query pipeline can be exercised without a
// live PostgreSQL server.
package adaptertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// Script describes one statement's canned behavior.
type Script struct {
	ParamOIDs   []uint32
	Columns     []protocol.ColumnMeta
	Rows        []map[string]any
	CommandTag  string
	RowsAffect  int64
	PrepareErr  error
	ExecuteErr  error
	RowErr      error // returned by Next once RowErrAfter rows have been returned, simulating a mid-stream failure
	RowErrAfter int   // index at which RowErr fires; 0 means never
	Notices     []adapter.Notice
}

// Pool is a fake adapter.Pool that hands out Conns driven by a Script keyed
// by the SQL text passed to Prepare.
type Pool struct {
	mu       sync.Mutex
	Scripts  map[string]*Script
	Acquired int
	Closed   bool

	// LastConn is the most recently handed-out Conn, for assertions that
	// need to inspect what the pipeline did to it after Acquire returns.
	LastConn *Conn

	// CancelCalls counts Cancel invocations across all conns this pool
	// produced, for assertions on cancellation plumbing.
	CancelCalls atomic.Int64
}

func NewPool() *Pool {
	return &Pool{Scripts: map[string]*Script{}}
}

func (p *Pool) Acquire(ctx context.Context) (adapter.Conn, error) {
	p.mu.Lock()
	p.Acquired++
	conn := &Conn{pool: p}
	p.LastConn = conn
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) Close() { p.Closed = true }

// Conn is a fake adapter.Conn.
type Conn struct {
	pool     *Pool
	script   *Script
	released bool
	notices  []adapter.Notice

	StatementTimeoutMS int
	LockTimeoutMS      int
	ReadOnly           bool
	ResetCalled        bool
}

func (c *Conn) Prepare(ctx context.Context, sql string) (*adapter.Prepared, error) {
	c.pool.mu.Lock()
	s, ok := c.pool.Scripts[sql]
	c.pool.mu.Unlock()
	if !ok {
		s = &Script{}
	}
	c.script = s
	c.notices = append(c.notices, s.Notices...)
	if s.PrepareErr != nil {
		return nil, s.PrepareErr
	}
	return &adapter.Prepared{ParamOIDs: s.ParamOIDs, Columns: s.Columns}, nil
}

func (c *Conn) DrainNotices() []adapter.Notice {
	drained := c.notices
	c.notices = nil
	return drained
}

func (c *Conn) SetTimeouts(ctx context.Context, statementTimeoutMS, lockTimeoutMS int) error {
	c.StatementTimeoutMS = statementTimeoutMS
	c.LockTimeoutMS = lockTimeoutMS
	return nil
}

func (c *Conn) ResetSession(ctx context.Context) error {
	c.ResetCalled = true
	return nil
}

func (c *Conn) BeginReadOnly(ctx context.Context) error {
	c.ReadOnly = true
	return nil
}

func (c *Conn) CommitReadOnly(ctx context.Context) error   { return nil }
func (c *Conn) RollbackReadOnly(ctx context.Context) error { return nil }

func (c *Conn) Execute(ctx context.Context, prepared *adapter.Prepared, params []any) (adapter.Execution, error) {
	if c.script.ExecuteErr != nil {
		return nil, c.script.ExecuteErr
	}
	return &Execution{script: c.script}, nil
}

func (c *Conn) Cancel(ctx context.Context) error {
	c.pool.CancelCalls.Add(1)
	return nil
}

func (c *Conn) Release() { c.released = true }

// Execution is a fake adapter.Execution iterating Script.Rows.
type Execution struct {
	script *Script
	idx    int
}

func (e *Execution) Next(ctx context.Context) (map[string]any, bool, error) {
	if e.script.RowErrAfter > 0 && e.idx >= e.script.RowErrAfter {
		return nil, false, e.script.RowErr
	}
	if e.idx >= len(e.script.Rows) {
		return nil, false, nil
	}
	row := e.script.Rows[e.idx]
	e.idx++
	return row, true, nil
}

func (e *Execution) CommandTag() string  { return e.script.CommandTag }
func (e *Execution) RowsAffected() int64 { return e.script.RowsAffect }
func (e *Execution) Close()              {}
