package router

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/adapter/adaptertest"
	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/logging"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
	"github.com/agentfirst/afpsql/internal/afpsql/session"
)

func newTestRouter(t *testing.T, pool *adaptertest.Pool) (*Router, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)

	snap := config.Default()
	snap.Sessions["default"] = config.ConnectionSpec{Host: "h"}
	store := config.NewStore(snap)

	reg := session.NewRegistry(func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		return pool, nil
	})

	emitter := logging.NewEmitter(out)
	return New(store, reg, out, emitter, 0), &buf
}

func decodeEvents(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var evt map[string]any
		require.NoError(t, json.Unmarshal(line, &evt))
		events = append(events, evt)
	}
	return events
}

func waitForEvent(t *testing.T, buf *bytes.Buffer, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := decodeEvents(t, buf)
		if len(events) >= n {
			return events
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, buffer: %s", n, buf.String())
	return nil
}

func TestDispatchQueryDuplicateIDRejected(t *testing.T) {
	pool := adaptertest.NewPool()
	pool.Scripts["select pg_sleep(10)"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "n", Type: "int4"}},
		Rows:    []map[string]any{{"n": float64(1)}},
	}
	r, buf := newTestRouter(t, pool)

	r.Dispatch(context.Background(), protocol.QueryRequest{Code: "query", ID: "q7", SQL: "select pg_sleep(10)"})
	r.Dispatch(context.Background(), protocol.QueryRequest{Code: "query", ID: "q7", SQL: "select pg_sleep(10)"})

	events := waitForEvent(t, buf, 1)
	var dupEvent map[string]any
	for _, e := range events {
		if e["code"] == "error" && e["error_code"] == "invalid_request" {
			dupEvent = e
		}
	}
	require.NotNil(t, dupEvent, "expected an invalid_request error for the duplicate id")
}

func TestDispatchCancelYieldsCancelledTerminal(t *testing.T) {
	pool := adaptertest.NewPool()
	pool.Scripts["select pg_sleep(10)"] = &adaptertest.Script{
		Columns:     []protocol.ColumnMeta{{Name: "n", Type: "int4"}},
		Rows:        []map[string]any{{"n": float64(1)}, {"n": float64(2)}},
		RowErrAfter: 1,
		RowErr:      context.Canceled,
	}
	r, buf := newTestRouter(t, pool)

	r.Dispatch(context.Background(), protocol.QueryRequest{Code: "query", ID: "q7", SQL: "select pg_sleep(10)"})
	r.Dispatch(context.Background(), protocol.CancelRequest{Code: "cancel", ID: "q7"})

	events := waitForEvent(t, buf, 1)
	last := events[len(events)-1]
	assert.Equal(t, "error", last["code"])
	assert.Equal(t, "cancelled", last["error_code"])
	assert.Equal(t, true, last["retryable"])
}

func TestDispatchCancelOfUnknownIDIsNoOp(t *testing.T) {
	pool := adaptertest.NewPool()
	r, buf := newTestRouter(t, pool)

	r.Dispatch(context.Background(), protocol.CancelRequest{Code: "cancel", ID: "ghost"})

	assert.Empty(t, buf.Bytes())
}

func TestDispatchPingReportsCounters(t *testing.T) {
	pool := adaptertest.NewPool()
	r, buf := newTestRouter(t, pool)

	r.Dispatch(context.Background(), protocol.PingRequest{Code: "ping"})

	events := decodeEvents(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, "pong", events[0]["code"])
	assert.Equal(t, float64(0), events[0]["queries_total"])
}

func TestDispatchConfigMergesAndRedactsSecrets(t *testing.T) {
	pool := adaptertest.NewPool()
	r, buf := newTestRouter(t, pool)

	r.Dispatch(context.Background(), protocol.ConfigRequest{
		Code: "config",
		Sessions: map[string]protocol.ConnSpecFields{
			"reporting": {Host: "r-host", PasswordSecret: "hunter2"},
		},
	})

	events := decodeEvents(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, "config", events[0]["code"])
	sessions := events[0]["sessions"].(map[string]any)
	reporting := sessions["reporting"].(map[string]any)
	assert.Equal(t, config.RedactedSentinel, reporting["password_secret"])
	assert.Equal(t, "r-host", reporting["host"])
}
