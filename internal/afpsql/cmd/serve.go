package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/errs"
	"github.com/agentfirst/afpsql/internal/afpsql/logging"
	"github.com/agentfirst/afpsql/internal/afpsql/pipeline"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
	"github.com/agentfirst/afpsql/internal/afpsql/router"
	"github.com/agentfirst/afpsql/internal/afpsql/session"
	"github.com/agentfirst/afpsql/internal/afpsql/util"
)

// serveOptions carries the run-mode knobs of buildRootCmd's RunE that sit
// outside the published configuration snapshot.
type serveOptions struct {
	mode       string
	maxConns   int32
	closeGrace time.Duration
}

// checkStdinIsTTY can be overridden for testing to bypass TTY detection.
var checkStdinIsTTY = func() bool {
	return util.IsTerminal(os.Stdin)
}

// connectPool adapts adapter.Connect to session.Connector's signature.
func connectPool(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
	return adapter.Connect(ctx, spec, maxConns)
}

// runServe wires the engine's components and runs either the pipe-mode read
// loop (spec §4.5) or a single CLI-mode query (spec §4.7), per opts.mode.
// ctx is the background context query dispatch runs under in pipe mode;
// shutdown is cancelled on SIGINT/SIGTERM. In pipe mode it only triggers a
// graceful router close, never a direct query cancellation (see
// cmd/afpsql/main.go); in cli mode it is the one query's context, so a
// signal cancels that query.
func runServe(ctx, shutdown context.Context, flags config.CLIFlags, opts serveOptions) error {
	snap := config.Bootstrap(flags)
	store := config.NewStore(snap)

	out := protocol.NewWriter(os.Stdout)
	emitter := logging.NewEmitter(out)
	reg := session.NewRegistry(connectPool)
	defer reg.CloseAll()

	codec := protocol.NewCodec(os.Stdin)

	mode := opts.mode
	if mode == "" {
		if checkStdinIsTTY() {
			mode = "cli"
		} else {
			mode = "pipe"
		}
	}

	switch mode {
	case "pipe":
		r := router.New(store, reg, out, emitter, opts.maxConns)
		return runPipeMode(ctx, shutdown, r, out, codec, opts.closeGrace)
	case "cli":
		// A single-shot process has no long-lived pool to gracefully drain,
		// so a shutdown signal cancels the one running query directly.
		return runCLIMode(shutdown, store, reg, out, codec, opts.maxConns)
	default:
		return ExitWithCode(ExitArguments, fmt.Errorf("invalid --mode %q: must be \"pipe\" or \"cli\"", mode))
	}
}

// codecLine is one codec.Next() result, delivered over a channel so
// runPipeMode can select on it alongside shutdown without blocking forever
// inside the stdin read syscall.
type codecLine struct {
	req protocol.Request
	err error
}

func readCodecLine(codec *protocol.Codec, lines chan<- codecLine) {
	req, err := codec.Next()
	lines <- codecLine{req: req, err: err}
}

// runPipeMode reads requests from codec until stdin closes, a "close"
// request is handled, or shutdown fires, dispatching every other request to
// r. A line that fails to decode yields an invalid_request error event
// (echoing its id when one could be salvaged) without stopping the loop, per
// spec §4.1. A shutdown signal runs r.Close's grace-period drain exactly
// like an explicit "close" request would, rather than killing in-flight
// queries outright.
func runPipeMode(ctx, shutdown context.Context, r *router.Router, out *protocol.Writer, codec *protocol.Codec, closeGrace time.Duration) error {
	lines := make(chan codecLine, 1)
	go readCodecLine(codec, lines)

	for {
		select {
		case <-shutdown.Done():
			r.Close(closeGrace)
			return nil
		case line := <-lines:
			if line.err != nil {
				if errors.Is(line.err, io.EOF) {
					r.Close(closeGrace)
					return nil
				}

				var decErr *protocol.DecodeError
				if errors.As(line.err, &decErr) {
					_ = out.Emit(protocol.ErrorEvent{
						Code:      protocol.CodeError,
						ID:        decErr.RawID,
						ErrorCode: errs.CodeInvalidRequest,
						Error:     decErr.Error(),
					})
					go readCodecLine(codec, lines)
					continue
				}

				return ExitWithCode(ExitArguments, fmt.Errorf("failed to read from stdin: %w", line.err))
			}

			if _, ok := line.req.(protocol.CloseRequest); ok {
				r.Close(closeGrace)
				return nil
			}

			r.Dispatch(ctx, line.req)
			go readCodecLine(codec, lines)
		}
	}
}

// runCLIMode reads exactly one "query" request from codec, runs it to
// completion synchronously, and maps its terminal event onto a process exit
// code (spec §4.7): 0 for a result, 1 for a sql_error/error, 2 if stdin
// didn't even carry a well-formed single query.
func runCLIMode(ctx context.Context, store *config.Store, reg *session.Registry, out *protocol.Writer, codec *protocol.Codec, maxConns int32) error {
	req, err := codec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ExitWithCode(ExitArguments, errors.New("cli mode requires exactly one query on stdin, got none"))
		}
		return ExitWithCode(ExitArguments, fmt.Errorf("failed to read query: %w", err))
	}

	q, ok := req.(protocol.QueryRequest)
	if !ok {
		return ExitWithCode(ExitArguments, fmt.Errorf("cli mode accepts a single \"query\" request, got %q", req.RequestCode()))
	}
	if q.ID == "" {
		q.ID = "cli"
	}

	snap := store.Load()
	resolved, err := session.ResolveSpec(snap, q.Session, q.ConnSpecFields)
	if err != nil {
		_ = out.Emit(protocol.ErrorEvent{Code: protocol.CodeError, ID: &q.ID, ErrorCode: errs.CodeInvalidRequest, Error: err.Error()})
		return ExitWithCode(ExitProtocolError, err)
	}
	if resolved.Ephemeral {
		defer reg.Forget(resolved.Name)
	}

	pool, err := reg.Get(ctx, resolved.Name, resolved.Spec, maxConns)
	if err != nil {
		_ = out.Emit(protocol.ErrorEvent{Code: protocol.CodeError, ID: &q.ID, ErrorCode: errs.CodeConnectFailed, Error: err.Error()})
		return ExitWithCode(ExitProtocolError, err)
	}

	job := pipeline.BuildJob(snap, &q, resolved.Name)
	outcome := pipeline.Run(ctx, pool, job, out)

	switch outcome.Code {
	case protocol.CodeResult, protocol.CodeResultEnd:
		return nil
	default:
		return ExitWithCode(ExitProtocolError, fmt.Errorf("query terminated with %s", outcome.Code))
	}
}
