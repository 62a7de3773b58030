// Package router implements the AFD request dispatcher of spec §4.5: the
// single consumer of decoded protocol.Request values, owner of the
// in-flight query map, and the place cancel/ping/config/close are handled.
package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/errs"
	"github.com/agentfirst/afpsql/internal/afpsql/logging"
	"github.com/agentfirst/afpsql/internal/afpsql/pipeline"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
	"github.com/agentfirst/afpsql/internal/afpsql/session"
)

// InFlight is one query's bookkeeping entry, held in the router's map from
// allocation at "query" receipt until its terminal event is emitted (spec
// §3's In-flight query definition).
type InFlight struct {
	ID      string
	Session string
	Cancel  context.CancelFunc
	Start   time.Time
}

// Router dispatches decoded requests, one at a time from the codec but
// fanning query execution out into its own goroutine per spec §4.5's "pipe
// mode accepts the next line while prior queries are still executing".
type Router struct {
	store     *config.Store
	sessions  *session.Registry
	out       *protocol.Writer
	emitter   *logging.Emitter
	maxConns  int32
	startTime time.Time

	mu       sync.Mutex
	inflight map[string]*InFlight
	wg       sync.WaitGroup

	queriesTotal    atomic.Int64
	queriesInflight atomic.Int64
	closing         atomic.Bool
}

// New builds a Router. maxConns is the per-session pool size passed to the
// adapter on first connect (0 lets pgxpool pick its own default).
func New(store *config.Store, sessions *session.Registry, out *protocol.Writer, emitter *logging.Emitter, maxConns int32) *Router {
	return &Router{
		store:     store,
		sessions:  sessions,
		out:       out,
		emitter:   emitter,
		maxConns:  maxConns,
		startTime: time.Now(),
		inflight:  map[string]*InFlight{},
	}
}

// Dispatch handles one decoded request. It returns immediately for every
// request kind except "query", whose pipeline run is handed off to a
// goroutine so the caller's read loop can move on to the next line (spec
// §4.5's pipe-mode concurrency).
func (r *Router) Dispatch(ctx context.Context, req protocol.Request) {
	switch v := req.(type) {
	case protocol.QueryRequest:
		r.handleQuery(ctx, &v)
	case protocol.CancelRequest:
		r.handleCancel(&v)
	case protocol.ConfigRequest:
		r.handleConfig(&v)
	case protocol.PingRequest:
		r.handlePing()
	case protocol.CloseRequest:
		// Close is handled by the caller's main loop (it must stop reading
		// input), not here; Dispatch only reaches CloseRequest if a caller
		// routes it through uniformly, in which case it is a no-op.
	default:
		r.emitError(nil, errs.New(errs.CodeInvalidRequest, fmt.Sprintf("unknown request type %T", req)))
	}
}

func (r *Router) handleQuery(ctx context.Context, req *protocol.QueryRequest) {
	if req.ID == "" {
		r.emitError(nil, errs.New(errs.CodeInvalidRequest, "query requires a non-empty id"))
		return
	}

	if r.closing.Load() {
		r.emitError(&req.ID, errs.New(errs.CodeInvalidRequest, "no new queries accepted, router is closing"))
		return
	}

	r.mu.Lock()
	if _, dup := r.inflight[req.ID]; dup {
		r.mu.Unlock()
		r.emitError(&req.ID, errs.New(errs.CodeInvalidRequest, fmt.Sprintf("id %q is already in flight", req.ID)))
		return
	}

	snap := r.store.Load()
	resolved, err := session.ResolveSpec(snap, req.Session, req.ConnSpecFields)
	if err != nil {
		r.mu.Unlock()
		r.emitError(&req.ID, errs.New(errs.CodeInvalidRequest, err.Error()))
		return
	}

	queryCtx, cancel := context.WithCancel(ctx)
	r.inflight[req.ID] = &InFlight{ID: req.ID, Session: resolved.Name, Cancel: cancel, Start: time.Now()}
	r.mu.Unlock()

	r.queriesTotal.Add(1)
	r.queriesInflight.Add(1)
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.queriesInflight.Add(-1)
		defer r.forget(req.ID)
		defer cancel()
		if resolved.Ephemeral {
			defer r.sessions.Forget(resolved.Name)
		}

		pool, err := r.sessions.Get(queryCtx, resolved.Name, resolved.Spec, r.maxConns)
		if err != nil {
			r.emitError(&req.ID, classifyConnectFailure(err))
			return
		}

		job := pipeline.BuildJob(snap, req, resolved.Name)
		outcome := pipeline.Run(queryCtx, pool, job, r.out)
		r.logTerminal(req.ID, resolved.Name, outcome)
	}()
}

func (r *Router) handleCancel(req *protocol.CancelRequest) {
	r.mu.Lock()
	entry, ok := r.inflight[req.ID]
	r.mu.Unlock()
	if !ok {
		return // cancel of an unknown id is a no-op, spec §4.5
	}
	entry.Cancel()
}

func (r *Router) handlePing() {
	_ = r.out.Emit(protocol.PongEvent{
		Code:            protocol.CodePong,
		UptimeMS:        time.Since(r.startTime).Milliseconds(),
		QueriesTotal:    r.queriesTotal.Load(),
		QueriesInflight: r.queriesInflight.Load(),
	})
}

func (r *Router) handleConfig(req *protocol.ConfigRequest) {
	patch := config.Patch{
		DefaultSession:     req.DefaultSession,
		InlineMaxRows:      req.InlineMaxRows,
		InlineMaxBytes:     req.InlineMaxBytes,
		StatementTimeoutMS: req.StatementTimeoutMS,
		LockTimeoutMS:      req.LockTimeoutMS,
		Log:                req.Log,
	}
	if req.Sessions != nil {
		patch.Sessions = make(map[string]config.ConnectionSpec, len(req.Sessions))
		for name, fields := range req.Sessions {
			patch.Sessions[name] = config.ConnectionSpec{
				DSNSecret:      fields.DSNSecret,
				ConninfoSecret: fields.ConninfoSecret,
				Host:           fields.Host,
				Port:           fields.Port,
				User:           fields.User,
				DBName:         fields.DBName,
				PasswordSecret: fields.PasswordSecret,
			}
			// A redefined session must reconnect against the new spec, not
			// keep serving queries against the stale pool.
			r.sessions.Forget(name)
		}
	}

	next := r.store.Apply(patch)
	r.emitConfigSnapshot(next)
}

func (r *Router) emitConfigSnapshot(snap *config.Snapshot) {
	redacted := config.RedactSessions(snap.Sessions)
	sessions := make(map[string]protocol.ConnSpecFields, len(redacted))
	for name, spec := range redacted {
		sessions[name] = protocol.ConnSpecFields{
			DSNSecret:      spec.DSNSecret,
			ConninfoSecret: spec.ConninfoSecret,
			Host:           spec.Host,
			Port:           spec.Port,
			User:           spec.User,
			DBName:         spec.DBName,
			PasswordSecret: spec.PasswordSecret,
		}
	}

	log := make([]string, 0, len(snap.Log))
	for cat := range snap.Log {
		log = append(log, cat)
	}

	_ = r.out.Emit(protocol.ConfigEvent{
		Code:               protocol.CodeConfig,
		DefaultSession:     snap.DefaultSession,
		Sessions:           sessions,
		InlineMaxRows:      snap.InlineMaxRows,
		InlineMaxBytes:     snap.InlineMaxBytes,
		StatementTimeoutMS: snap.StatementTimeoutMS,
		LockTimeoutMS:      snap.LockTimeoutMS,
		Log:                log,
	})
}

// Close implements the "close" request: stop accepting new input (the
// caller's read loop must check Closing before dispatching further
// queries), wait up to grace for in-flight queries to finish on their own,
// then cancel whatever remains, drain every session pool, and emit the
// final close event.
func (r *Router) Close(grace time.Duration) {
	r.closing.Store(true)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		r.mu.Lock()
		for _, entry := range r.inflight {
			entry.Cancel()
		}
		r.mu.Unlock()
		r.wg.Wait()
	}

	r.sessions.CloseAll()
	_ = r.out.Emit(protocol.CloseEvent{Code: protocol.CodeClose})
}

// Closing reports whether a "close" request has been handled, so the
// caller's read loop knows to stop dispatching new "query" requests.
func (r *Router) Closing() bool {
	return r.closing.Load()
}

func (r *Router) forget(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Router) emitError(id *string, evt *protocol.ErrorEvent) {
	if id != nil {
		evt.ID = id
	}
	_ = r.out.Emit(*evt)
}

func (r *Router) logTerminal(id, sessionName string, outcome pipeline.Outcome) {
	category := "query." + outcome.Code
	evt := protocol.LogEvent{RequestID: &id, Session: &sessionName}
	if outcome.ErrorCode != "" {
		evt.ErrorCode = &outcome.ErrorCode
	}
	_ = r.emitter.Emit(r.store.Load().Log, category, evt)
}

// classifyConnectFailure maps a session.Registry.Get failure onto the error
// axis, since it fails before any statement is sent. The adapter returns raw
// driver errors, which errs.FromDriverError classifies here as
// connect_failed/connect_timeout/auth_failed; the registry's own "session not
// configured" error lands on connect_failed. Anything FromDriverError would
// report as a sql_error is reported as connect_failed instead.
func classifyConnectFailure(err error) *protocol.ErrorEvent {
	_, generic := errs.FromDriverError(err, false)
	if generic == nil {
		generic = errs.New(errs.CodeConnectFailed, err.Error())
	}
	return generic
}
