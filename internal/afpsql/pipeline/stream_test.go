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

func TestRunStreamingBatchesByRowCount(t *testing.T) {
	pool := adaptertest.NewPool()
	pool.Scripts["select generate_series(1,3) as i"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "i", Type: "int4"}},
		Rows:    []map[string]any{{"i": float64(1)}, {"i": float64(2)}, {"i": float64(3)}},
	}

	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)
	job := Job{
		ID: "q2", SQL: "select generate_series(1,3) as i",
		StreamRows: true, BatchRows: 2, BatchBytes: 1 << 20,
		InlineMaxRows: 10_000, InlineMaxBytes: 10 << 20,
	}

	outcome := Run(context.Background(), pool, job, out)
	require.Equal(t, protocol.CodeResultEnd, outcome.Code)

	events := decodeEvents(t, &buf)
	require.Len(t, events, 4)

	assert.Equal(t, "result_start", events[0]["code"])
	assert.Equal(t, "result_rows", events[1]["code"])
	assert.Equal(t, float64(2), events[1]["rows_batch_count"])
	assert.Equal(t, "result_rows", events[2]["code"])
	assert.Equal(t, float64(1), events[2]["rows_batch_count"])
	assert.Equal(t, "result_end", events[3]["code"])
	assert.Equal(t, "ROWS 3", events[3]["command_tag"])

	trace := events[3]["trace"].(map[string]any)
	assert.Equal(t, float64(3), trace["row_count"])
}

func TestRunStreamingEmptyResultStillEmitsStartAndEnd(t *testing.T) {
	pool := adaptertest.NewPool()
	pool.Scripts["select * from empty"] = &adaptertest.Script{
		Columns: []protocol.ColumnMeta{{Name: "n", Type: "int4"}},
		Rows:    nil,
	}

	var buf bytes.Buffer
	out := protocol.NewWriter(&buf)
	job := Job{
		ID: "qe", SQL: "select * from empty",
		StreamRows: true, BatchRows: 500, BatchBytes: 1 << 20,
		InlineMaxRows: 10_000, InlineMaxBytes: 10 << 20,
	}

	outcome := Run(context.Background(), pool, job, out)
	require.Equal(t, protocol.CodeResultEnd, outcome.Code)

	events := decodeEvents(t, &buf)
	require.Len(t, events, 2)
	assert.Equal(t, "result_start", events[0]["code"])
	assert.Equal(t, "result_end", events[1]["code"])
	assert.Equal(t, "ROWS 0", events[1]["command_tag"])
}
