package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter/adaptertest"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

func TestRunInlineResultTooLargeByRowCount(t *testing.T) {
	rows := make([]map[string]any, 5000)
	for i := range rows {
		rows[i] = map[string]any{"n": float64(i)}
	}

	pool := adaptertest.NewPool()
	pool.Scripts["select * from big"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "n", Type: "int4"}},
		Rows:    rows,
	}

	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)
	job := Job{ID: "q6", SQL: "select * from big", InlineMaxRows: 1000, InlineMaxBytes: 10 << 20}

	outcome := Run(context.Background(), pool, job, out)

	require.Equal(t, protocol.CodeError, outcome.Code)
	assert.Equal(t, "result_too_large", outcome.ErrorCode)

	events := decodeEvents(t, &buf)
	require.Len(t, events, 1, "no partial result may be emitted before the error")
	assert.Equal(t, "result_too_large", events[0]["error_code"])
	assert.Equal(t, false, events[0]["retryable"])
	assert.Equal(t, int64(1), pool.CancelCalls.Load())
}

func TestRunInlineResultTooLargeByByteSize(t *testing.T) {
	bigValue := make([]byte, 2000)
	for i := range bigValue {
		bigValue[i] = 'x'
	}
	rows := []map[string]any{
		{"blob": string(bigValue)},
		{"blob": string(bigValue)},
	}

	pool := adaptertest.NewPool()
	pool.Scripts["select blob"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "blob", Type: "text"}},
		Rows:    rows,
	}

	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)
	job := Job{ID: "qb", SQL: "select blob", InlineMaxRows: 10_000, InlineMaxBytes: 2500}

	outcome := Run(context.Background(), pool, job, out)

	assert.Equal(t, protocol.CodeError, outcome.Code)
	assert.Equal(t, "result_too_large", outcome.ErrorCode)
}

func TestRunInlineWithinLimitsEmitsSingleResult(t *testing.T) {
	pool := adaptertest.NewPool()
	pool.Scripts["select small"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "n", Type: "int4"}},
		Rows:    []map[string]any{{"n": float64(1)}, {"n": float64(2)}},
	}

	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)
	job := Job{ID: "qs", SQL: "select small", InlineMaxRows: 1000, InlineMaxBytes: 10 << 20}

	outcome := Run(context.Background(), pool, job, out)
	require.Equal(t, protocol.CodeResult, outcome.Code)

	events := decodeEvents(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, float64(2), events[0]["row_count"])
}
