package errs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
)

func TestFromDriverErrorMapsPgErrorToSQLError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:    "42P01",
		Message: `relation "no_such" does not exist`,
	}

	sqlErr, generic := FromDriverError(pgErr, false)

	require.Nil(t, generic)
	require.NotNil(t, sqlErr)
	assert.Equal(t, "42P01", sqlErr.SQLState)
	assert.Equal(t, `relation "no_such" does not exist`, sqlErr.Message)
}

func TestFromDriverErrorMapsServerCancelSQLStateToCancelled(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to user request"}

	sqlErr, generic := FromDriverError(pgErr, false)

	require.Nil(t, sqlErr)
	require.NotNil(t, generic)
	assert.Equal(t, CodeCancelled, generic.ErrorCode)
	assert.True(t, generic.Retryable)
}

func TestFromDriverErrorMapsParamConversionFailureToInvalidParams(t *testing.T) {
	err := &adapter.ErrParamConversion{Index: 0, OID: 23, Err: errors.New("not an integer")}

	sqlErr, generic := FromDriverError(err, false)

	require.Nil(t, sqlErr)
	require.NotNil(t, generic)
	assert.Equal(t, CodeInvalidParams, generic.ErrorCode)
	assert.False(t, generic.Retryable)
}

func TestFromDriverErrorMapsClientCancelFlagToCancelled(t *testing.T) {
	_, generic := FromDriverError(errors.New("connection closed"), true)

	require.NotNil(t, generic)
	assert.Equal(t, CodeCancelled, generic.ErrorCode)
}

func TestFromDriverErrorMapsContextCanceledToCancelled(t *testing.T) {
	_, generic := FromDriverError(context.Canceled, false)

	require.NotNil(t, generic)
	assert.Equal(t, CodeCancelled, generic.ErrorCode)
}

func TestFromDriverErrorMapsDeadlineExceededToConnectTimeout(t *testing.T) {
	_, generic := FromDriverError(context.DeadlineExceeded, false)

	require.NotNil(t, generic)
	assert.Equal(t, CodeConnectTimeout, generic.ErrorCode)
	assert.True(t, generic.Retryable)
}

func TestFromDriverErrorFallsBackToConnectFailedForUnknownError(t *testing.T) {
	_, generic := FromDriverError(errors.New("eof"), false)

	require.NotNil(t, generic)
	assert.Equal(t, CodeConnectFailed, generic.ErrorCode)
	assert.False(t, generic.Retryable)
}

func TestFromDriverErrorReturnsNilForNilError(t *testing.T) {
	sqlErr, generic := FromDriverError(nil, false)
	assert.Nil(t, sqlErr)
	assert.Nil(t, generic)
}

func TestRetryableIsFixedPerCode(t *testing.T) {
	assert.True(t, Retryable(CodeConnectTimeout))
	assert.True(t, Retryable(CodeCancelled))
	assert.False(t, Retryable(CodeInvalidRequest))
	assert.False(t, Retryable(CodeInvalidParams))
	assert.False(t, Retryable(CodeConnectFailed))
	assert.False(t, Retryable(CodeAuthFailed))
	assert.False(t, Retryable(CodeResultTooLarge))
}
