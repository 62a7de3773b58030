// Package pipeline implements the query state machine of spec §4.6:
// received → preparing → validating → executing{inline|streaming} →
// terminal. One Job runs as one goroutine per query, dispatched by the
// router; it never talks to pgx directly, only through the adapter
// interfaces, so it can be driven by adaptertest's fake in tests.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/errs"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// Job is one query's fully-resolved parameters: the request's own options
// layered over the snapshot's defaults, the merge spec §4.5 step 2
// describes as the router's job.
type Job struct {
	ID      string
	Session string
	SQL     string
	Params  []json.RawMessage

	StreamRows         bool
	BatchRows          int
	BatchBytes         int
	InlineMaxRows      int
	InlineMaxBytes     int
	StatementTimeoutMS int
	LockTimeoutMS      int
	ReadOnly           bool
}

// BuildJob merges req's per-query options over snap's defaults, per spec
// §4.5 step 2. snap is the pointer the caller captured at query start; it
// is not re-read for the remainder of the query's lifetime (spec §4.4).
func BuildJob(snap *config.Snapshot, req *protocol.QueryRequest, sessionName string) Job {
	job := Job{
		ID:                 req.ID,
		Session:            sessionName,
		SQL:                req.SQL,
		Params:             req.Params,
		StreamRows:         false,
		BatchRows:          config.DefaultBatchRows,
		BatchBytes:         config.DefaultBatchBytes,
		InlineMaxRows:      snap.InlineMaxRows,
		InlineMaxBytes:     snap.InlineMaxBytes,
		StatementTimeoutMS: snap.StatementTimeoutMS,
		LockTimeoutMS:      snap.LockTimeoutMS,
	}

	if req.Options == nil {
		return job
	}
	o := req.Options
	if o.StreamRows != nil {
		job.StreamRows = *o.StreamRows
	}
	if o.BatchRows != nil {
		job.BatchRows = *o.BatchRows
	}
	if o.BatchBytes != nil {
		job.BatchBytes = *o.BatchBytes
	}
	if o.InlineMaxRows != nil {
		job.InlineMaxRows = *o.InlineMaxRows
	}
	if o.InlineMaxBytes != nil {
		job.InlineMaxBytes = *o.InlineMaxBytes
	}
	if o.StatementTimeoutMS != nil {
		job.StatementTimeoutMS = *o.StatementTimeoutMS
	}
	if o.LockTimeoutMS != nil {
		job.LockTimeoutMS = *o.LockTimeoutMS
	}
	if o.ReadOnly != nil {
		job.ReadOnly = *o.ReadOnly
	}
	return job
}

// Outcome records which terminal event Run emitted, so the router can
// decide the in-flight bookkeeping (and, in single-shot CLI mode, the
// process exit code) without re-inspecting the emitted JSON.
type Outcome struct {
	Code      string // one of protocol.CodeResult, CodeResultEnd, CodeSQLError, CodeError
	ErrorCode string // set only when Code == protocol.CodeError
}

// Run executes job to completion against pool, emitting exactly one
// terminal event through out (spec §4.6 item 6 / universal property 1).
// ctx carries the query's cancellation: Run does not install its own
// timeout, since statement_timeout/lock_timeout are enforced server-side.
func Run(ctx context.Context, pool adapter.Pool, job Job, out *protocol.Writer) Outcome {
	start := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return emitDriverError(out, job.ID, start, err, ctx)
	}
	defer func() {
		_ = conn.ResetSession(context.Background())
		conn.Release()
	}()

	if err := conn.SetTimeouts(ctx, job.StatementTimeoutMS, job.LockTimeoutMS); err != nil {
		emitNotices(out, job.ID, conn)
		return emitDriverError(out, job.ID, start, err, ctx)
	}

	if job.ReadOnly {
		if err := conn.BeginReadOnly(ctx); err != nil {
			emitNotices(out, job.ID, conn)
			return emitDriverError(out, job.ID, start, err, ctx)
		}
	}

	prepared, err := conn.Prepare(ctx, job.SQL)
	emitNotices(out, job.ID, conn)
	if err != nil {
		rollbackIfReadOnly(ctx, conn, job.ReadOnly)
		return emitDriverError(out, job.ID, start, err, ctx)
	}

	params, err := validateAndConvert(prepared, job.Params)
	if err != nil {
		rollbackIfReadOnly(ctx, conn, job.ReadOnly)
		return emitGeneric(out, job.ID, start, errs.New(errs.CodeInvalidParams, err.Error()))
	}

	exec, err := conn.Execute(ctx, prepared, params)
	emitNotices(out, job.ID, conn)
	if err != nil {
		rollbackIfReadOnly(ctx, conn, job.ReadOnly)
		return emitDriverError(out, job.ID, start, err, ctx)
	}
	defer exec.Close()

	var outcome Outcome
	if prepared.IsCommand() {
		outcome = runCommand(ctx, job, conn, exec, out, start)
	} else if job.StreamRows {
		outcome = runStreaming(ctx, job, conn, exec, out, start, prepared.Columns)
	} else {
		outcome = runInline(ctx, job, conn, exec, out, start, prepared.Columns)
	}

	if job.ReadOnly {
		if outcome.Code == protocol.CodeResult || outcome.Code == protocol.CodeResultEnd {
			_ = conn.CommitReadOnly(ctx)
		} else {
			_ = conn.RollbackReadOnly(ctx)
		}
	}

	return outcome
}

func rollbackIfReadOnly(ctx context.Context, conn adapter.Conn, readOnly bool) {
	if readOnly {
		_ = conn.RollbackReadOnly(ctx)
	}
}

// validateAndConvert enforces spec §4.6 item 2: the prepared parameter
// count must equal len(params) (absent params treated as zero), then
// converts each JSON value to its bound OID's Go representation.
func validateAndConvert(prepared *adapter.Prepared, raw []json.RawMessage) ([]any, error) {
	if len(raw) != len(prepared.ParamOIDs) {
		return nil, fmt.Errorf("expected %d params, got %d", len(prepared.ParamOIDs), len(raw))
	}
	return adapter.ConvertParams(prepared.ParamOIDs, raw)
}

func runCommand(ctx context.Context, job Job, conn adapter.Conn, exec adapter.Execution, out *protocol.Writer, start time.Time) Outcome {
	for {
		_, ok, err := exec.Next(ctx)
		if err != nil {
			emitNotices(out, job.ID, conn)
			return emitDriverError(out, job.ID, start, err, ctx)
		}
		if !ok {
			break
		}
	}

	emitNotices(out, job.ID, conn)
	rowCount := int(exec.RowsAffected())
	_ = out.Emit(protocol.ResultEvent{
		Code:       protocol.CodeResult,
		ID:         job.ID,
		CommandTag: commandTag(false, rowCount),
		Columns:    []protocol.ColumnMeta{},
		Rows:       []map[string]any{},
		RowCount:   0,
		Trace:      trace(start, &rowCount, nil),
	})
	return Outcome{Code: protocol.CodeResult}
}

// commandTag normalizes the server's completion tag per spec §4.6:
// row-producing statements become "ROWS N", others "EXECUTE N". The
// original server-reported tag text is never exposed.
func commandTag(rowProducing bool, n int) string {
	if rowProducing {
		return fmt.Sprintf("ROWS %d", n)
	}
	return fmt.Sprintf("EXECUTE %d", n)
}

func trace(start time.Time, rowCount, payloadBytes *int) protocol.Trace {
	return protocol.Trace{
		DurationMS:   time.Since(start).Milliseconds(),
		RowCount:     rowCount,
		PayloadBytes: payloadBytes,
	}
}

// emitDriverError classifies err via errs.FromDriverError and emits whichever
// axis it lands on. cancelled is derived from ctx, since Run never receives
// an explicit "this was a cancel" flag — a cancelled context is the only
// signal the pipeline has that a client cancel, not a random failure, is the
// cause.
func emitDriverError(out *protocol.Writer, id string, start time.Time, err error, ctx context.Context) Outcome {
	sqlErr, generic := errs.FromDriverError(err, ctx.Err() != nil)
	if sqlErr != nil {
		return emitSQLError(out, id, start, sqlErr)
	}
	return emitGeneric(out, id, start, generic)
}

func emitSQLError(out *protocol.Writer, id string, start time.Time, sqlErr *protocol.SQLErrorEvent) Outcome {
	sqlErr.ID = id
	sqlErr.Trace = trace(start, nil, nil)
	_ = out.Emit(*sqlErr)
	return Outcome{Code: protocol.CodeSQLError}
}

// emitNotices drains conn's pending notices and emits one NoticeEvent per
// entry, in arrival order. Called at every state-machine boundary so a
// notice is always on the wire before the terminal event for the query that
// was running when it arrived (spec §9).
func emitNotices(out *protocol.Writer, id string, conn adapter.Conn) {
	for _, n := range conn.DrainNotices() {
		_ = out.Emit(protocol.NoticeEvent{
			Code:     protocol.CodeNotice,
			ID:       id,
			Severity: n.Severity,
			Message:  n.Message,
		})
	}
}

func emitGeneric(out *protocol.Writer, id string, start time.Time, generic *protocol.ErrorEvent) Outcome {
	idCopy := id
	generic.ID = &idCopy
	generic.Trace = trace(start, nil, nil)
	_ = out.Emit(*generic)
	return Outcome{Code: protocol.CodeError, ErrorCode: generic.ErrorCode}
}
