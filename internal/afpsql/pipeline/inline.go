package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/errs"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// runInline implements spec §4.6 item 3's inline (stream_rows=false) row
// path: buffer every row, enforcing inline_max_rows/inline_max_bytes on each
// one, and emit a single result on completion.
func runInline(ctx context.Context, job Job, conn adapter.Conn, exec adapter.Execution, out *protocol.Writer, start time.Time, columns []protocol.ColumnMeta) Outcome {
	rows := make([]map[string]any, 0, 64)
	bufferedBytes := 0

	for {
		row, ok, err := exec.Next(ctx)
		if err != nil {
			emitNotices(out, job.ID, conn)
			return emitDriverError(out, job.ID, start, err, ctx)
		}
		if !ok {
			break
		}

		rows = append(rows, row)
		bufferedBytes += rowByteSize(row)

		if len(rows) > job.InlineMaxRows || bufferedBytes > job.InlineMaxBytes {
			_ = conn.Cancel(ctx)
			emitNotices(out, job.ID, conn)
			return emitGeneric(out, job.ID, start, errs.New(errs.CodeResultTooLarge, "result exceeds inline_max_rows or inline_max_bytes"))
		}
	}

	emitNotices(out, job.ID, conn)
	rowCount := len(rows)
	_ = out.Emit(protocol.ResultEvent{
		Code:       protocol.CodeResult,
		ID:         job.ID,
		CommandTag: commandTag(true, rowCount),
		Columns:    columns,
		Rows:       rows,
		RowCount:   rowCount,
		Trace:      trace(start, &rowCount, &bufferedBytes),
	})
	return Outcome{Code: protocol.CodeResult}
}

// rowByteSize approximates the row's contribution to inline_max_bytes as its
// serialized JSON size, matching how payload_bytes is accounted for the
// streaming path (spec §9's resolution of the payload_bytes Open Question).
func rowByteSize(row map[string]any) int {
	b, err := json.Marshal(row)
	if err != nil {
		return 0
	}
	return len(b)
}
