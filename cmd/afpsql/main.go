package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/agentfirst/afpsql/internal/afpsql/cmd"
	"github.com/agentfirst/afpsql/internal/afpsql/diag"
)

func main() {
	if err := run(); err != nil {
		if exitErr, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
	os.Exit(0)
}

func run() (err error) {
	ctx := context.Background()
	shutdown, cancel := notifyContext(ctx)
	defer func() {
		cancel()
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("panic: %v", r))
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
	}()
	err = cmd.Execute(ctx, shutdown)
	return
}

// notifyContext returns a context cancelled on the first SIGINT/SIGTERM,
// distinct from the ctx pipe-mode queries run under: in pipe mode shutdown
// only signals that a shutdown was requested, it never itself cancels
// in-flight work. That is the router's job (Router.Close's grace period and
// its own force-cancel of stragglers) — cancelling query contexts directly
// here would skip the drain entirely. In single-shot cli mode shutdown is the
// one query's own context. A second signal falls through to Go's default,
// immediate-exit behavior.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			diag.Info("received shutdown signal, draining in-flight queries", zap.Stringer("signal", sig))
			signal.Stop(sigChan)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		cancel()
		signal.Stop(sigChan)
	}
}
