// Package errs implements the two-axis error taxonomy of spec §4.7: any
// server-side fault carrying a SQLSTATE becomes sql_error; everything else
// maps to the closed error/error_code enum. It is the single place that
// decides which axis a driver failure belongs to; cmd builds a few
// protocol.ErrorEvent values directly for input and session failures that
// never reach the driver.
package errs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// error_code values, the closed set of spec §4.7.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidParams  = "invalid_params"
	CodeConnectFailed  = "connect_failed"
	CodeConnectTimeout = "connect_timeout"
	CodeAuthFailed     = "auth_failed"
	CodeResultTooLarge = "result_too_large"
	CodeCancelled      = "cancelled"
)

// retryable is fixed per error_code (spec §4.7): only connect_timeout and
// cancelled are retryable, everything else is not.
var retryable = map[string]bool{
	CodeInvalidRequest: false,
	CodeInvalidParams:  false,
	CodeConnectFailed:  false,
	CodeConnectTimeout: true,
	CodeAuthFailed:     false,
	CodeResultTooLarge: false,
	CodeCancelled:      true,
}

// sqlStateCancelled is the SQLSTATE PostgreSQL reports for a server-side
// query cancellation; spec §4.3 item 4 requires this also map to
// error/cancelled rather than sql_error, since it is the server's side of a
// cancel the client itself requested.
const sqlStateCancelled = "57014"

// Retryable reports the fixed retryable value for code.
func Retryable(code string) bool {
	return retryable[code]
}

// New builds an error/... event for code with message msg.
func New(code, msg string) *protocol.ErrorEvent {
	return &protocol.ErrorEvent{
		Code:      protocol.CodeError,
		ErrorCode: code,
		Error:     msg,
		Retryable: Retryable(code),
	}
}

// FromDriverError classifies err, returned by the adapter during prepare,
// execute, or connect, into either a sql_error or an error event. cancelled
// reports whether the caller already knows this failure followed a client
// cancel request, since a generic connection-closed error during a
// cancelled execution must still map to error/cancelled rather than
// error/connect_failed.
func FromDriverError(err error, cancelled bool) (sqlErr *protocol.SQLErrorEvent, generic *protocol.ErrorEvent) {
	if err == nil {
		return nil, nil
	}

	// A connect failure may wrap the server's *pgconn.PgError (e.g. an
	// authentication SQLSTATE), so it is classified before the sql_error axis.
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) && !cancelled && !errors.Is(err, context.Canceled) {
		return nil, classifyConnectError(connErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlStateCancelled {
			return nil, New(CodeCancelled, pgErr.Message)
		}
		return &protocol.SQLErrorEvent{
			Code:     protocol.CodeSQLError,
			SQLState: pgErr.Code,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
			Position: positionOrNil(pgErr.Position),
		}, nil
	}

	if cancelled || errors.Is(err, context.Canceled) {
		return nil, New(CodeCancelled, err.Error())
	}

	var paramErr *adapter.ErrParamConversion
	if errors.As(err, &paramErr) {
		return nil, New(CodeInvalidParams, err.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, New(CodeConnectTimeout, err.Error())
	}

	// Unknown driver error without a SQLSTATE: spec §4.7 forbids silent
	// swallowing, so fall back to the best-effort transport category.
	return nil, New(CodeConnectFailed, err.Error())
}

func classifyConnectError(err *pgconn.ConnectError) *protocol.ErrorEvent {
	if errors.Is(err.Unwrap(), context.DeadlineExceeded) {
		return New(CodeConnectTimeout, err.Error())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isAuthSQLState(pgErr.Code) {
		return New(CodeAuthFailed, err.Error())
	}

	return New(CodeConnectFailed, err.Error())
}

// isAuthSQLState reports whether code is one of the SQLSTATE class 28
// ("Invalid Authorization Specification") codes PostgreSQL raises on
// authentication failure.
func isAuthSQLState(code string) bool {
	return len(code) >= 2 && code[:2] == "28"
}

func positionOrNil(p int32) *int32 {
	if p == 0 {
		return nil
	}
	return &p
}
