package pipeline

import (
	"context"
	"time"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// runStreaming implements spec §4.6 item 3's streaming (stream_rows=true)
// row path: result_start before the first row, result_rows batches flushed
// by row count or soft byte threshold, result_end on completion.
func runStreaming(ctx context.Context, job Job, conn adapter.Conn, exec adapter.Execution, out *protocol.Writer, start time.Time, columns []protocol.ColumnMeta) Outcome {
	startedResult := false
	totalRows := 0
	totalBytes := 0

	batch := make([]map[string]any, 0, job.BatchRows)
	batchBytes := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		_ = out.Emit(protocol.ResultRowsEvent{
			Code:           protocol.CodeResultRows,
			ID:             job.ID,
			Rows:           batch,
			RowsBatchCount: len(batch),
		})
		batch = make([]map[string]any, 0, job.BatchRows)
		batchBytes = 0
	}

	for {
		row, ok, err := exec.Next(ctx)
		if err != nil {
			emitNotices(out, job.ID, conn)
			return emitDriverError(out, job.ID, start, err, ctx)
		}
		if !ok {
			break
		}

		if !startedResult {
			_ = out.Emit(protocol.ResultStartEvent{
				Code:    protocol.CodeResultStart,
				ID:      job.ID,
				Columns: columns,
			})
			startedResult = true
		}

		size := rowByteSize(row)
		batch = append(batch, row)
		batchBytes += size
		totalRows++
		totalBytes += size

		// batch_bytes is a soft target (spec §4.6): the batch currently
		// being filled may exceed it slightly but flushes on this row.
		if len(batch) >= job.BatchRows || batchBytes >= job.BatchBytes {
			flush()
		}
	}

	if !startedResult {
		_ = out.Emit(protocol.ResultStartEvent{
			Code:    protocol.CodeResultStart,
			ID:      job.ID,
			Columns: columns,
		})
	}
	flush()
	emitNotices(out, job.ID, conn)

	_ = out.Emit(protocol.ResultEndEvent{
		Code:       protocol.CodeResultEnd,
		ID:         job.ID,
		CommandTag: commandTag(true, totalRows),
		Trace:      trace(start, &totalRows, &totalBytes),
	})
	return Outcome{Code: protocol.CodeResultEnd}
}
