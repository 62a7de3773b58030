// Package protocol implements the AFD wire protocol: newline-delimited JSON
// objects on stdin/stdout, discriminated by a "code" field. See spec §3/§6.
package protocol

import "encoding/json"

// ColumnMeta describes one result column, taken from prepared-statement
// metadata (never from SQL text inspection).
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Trace carries timing and size accounting common to terminal/streamed-end
// events.
type Trace struct {
	DurationMS   int64 `json:"duration_ms"`
	RowCount     *int  `json:"row_count,omitempty"`
	PayloadBytes *int  `json:"payload_bytes,omitempty"`
}

// Request is the tagged-union of accepted input objects.
type Request interface {
	RequestCode() string
}

// ConnSpecFields are the inline Connection Spec fields a request may carry
// directly, reserved for CLI single-shot use (spec §4.3).
type ConnSpecFields struct {
	DSNSecret      string `json:"dsn_secret,omitempty"`
	ConninfoSecret string `json:"conninfo_secret,omitempty"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	User           string `json:"user,omitempty"`
	DBName         string `json:"dbname,omitempty"`
	PasswordSecret string `json:"password_secret,omitempty"`
}

// HasAny reports whether any inline connection field was set.
func (c ConnSpecFields) HasAny() bool {
	return c.DSNSecret != "" || c.ConninfoSecret != "" || c.Host != "" ||
		c.Port != 0 || c.User != "" || c.DBName != "" || c.PasswordSecret != ""
}

// QueryOptions are per-query overrides merged over configuration defaults.
type QueryOptions struct {
	StreamRows         *bool `json:"stream_rows,omitempty"`
	BatchRows          *int  `json:"batch_rows,omitempty"`
	BatchBytes         *int  `json:"batch_bytes,omitempty"`
	InlineMaxRows      *int  `json:"inline_max_rows,omitempty"`
	InlineMaxBytes     *int  `json:"inline_max_bytes,omitempty"`
	StatementTimeoutMS *int  `json:"statement_timeout_ms,omitempty"`
	LockTimeoutMS      *int  `json:"lock_timeout_ms,omitempty"`
	ReadOnly           *bool `json:"read_only,omitempty"`
}

type QueryRequest struct {
	Code    string              `json:"code"`
	ID      string              `json:"id"`
	SQL     string              `json:"sql"`
	Params  []json.RawMessage   `json:"params,omitempty"`
	Session string              `json:"session,omitempty"`
	Options *QueryOptions       `json:"options,omitempty"`
	ConnSpecFields
}

func (QueryRequest) RequestCode() string { return "query" }

type CancelRequest struct {
	Code string `json:"code"`
	ID   string `json:"id"`
}

func (CancelRequest) RequestCode() string { return "cancel" }

// ConfigRequest merges the supplied fields into the current configuration;
// unset fields retain prior values (spec §4.4).
type ConfigRequest struct {
	Code               string                    `json:"code"`
	DefaultSession     *string                   `json:"default_session,omitempty"`
	Sessions           map[string]ConnSpecFields `json:"sessions,omitempty"`
	InlineMaxRows      *int                      `json:"inline_max_rows,omitempty"`
	InlineMaxBytes     *int                      `json:"inline_max_bytes,omitempty"`
	StatementTimeoutMS *int                      `json:"statement_timeout_ms,omitempty"`
	LockTimeoutMS      *int                      `json:"lock_timeout_ms,omitempty"`
	Log                []string                  `json:"log,omitempty"`
}

func (ConfigRequest) RequestCode() string { return "config" }

type PingRequest struct {
	Code string `json:"code"`
}

func (PingRequest) RequestCode() string { return "ping" }

type CloseRequest struct {
	Code string `json:"code"`
}

func (CloseRequest) RequestCode() string { return "close" }

// Output events. Each carries its own "code" discriminator set by the
// constructing component, never mutated afterwards.

type ResultEvent struct {
	Code       string            `json:"code"`
	ID         string            `json:"id"`
	CommandTag string            `json:"command_tag"`
	Columns    []ColumnMeta      `json:"columns"`
	Rows       []map[string]any  `json:"rows"`
	RowCount   int               `json:"row_count"`
	Trace      Trace             `json:"trace"`
}

type ResultStartEvent struct {
	Code    string       `json:"code"`
	ID      string       `json:"id"`
	Columns []ColumnMeta `json:"columns"`
}

type ResultRowsEvent struct {
	Code           string           `json:"code"`
	ID             string           `json:"id"`
	Rows           []map[string]any `json:"rows"`
	RowsBatchCount int              `json:"rows_batch_count"`
}

type ResultEndEvent struct {
	Code       string `json:"code"`
	ID         string `json:"id"`
	CommandTag string `json:"command_tag"`
	Trace      Trace  `json:"trace"`
}

type SQLErrorEvent struct {
	Code     string `json:"code"`
	ID       string `json:"id"`
	SQLState string `json:"sqlstate"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Position *int32 `json:"position,omitempty"`
	Trace    Trace  `json:"trace"`
}

type ErrorEvent struct {
	Code      string  `json:"code"`
	ID        *string `json:"id,omitempty"`
	ErrorCode string  `json:"error_code"`
	Error     string  `json:"error"`
	Retryable bool    `json:"retryable"`
	Trace     Trace   `json:"trace"`
}

type NoticeEvent struct {
	Code     string `json:"code"`
	ID       string `json:"id"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

type ConfigEvent struct {
	Code               string                    `json:"code"`
	DefaultSession     string                    `json:"default_session"`
	Sessions           map[string]ConnSpecFields `json:"sessions"`
	InlineMaxRows      int                       `json:"inline_max_rows"`
	InlineMaxBytes     int                       `json:"inline_max_bytes"`
	StatementTimeoutMS int                       `json:"statement_timeout_ms"`
	LockTimeoutMS      int                       `json:"lock_timeout_ms"`
	Log                []string                  `json:"log"`
}

type PongEvent struct {
	Code            string `json:"code"`
	UptimeMS        int64  `json:"uptime_ms"`
	QueriesTotal    int64  `json:"queries_total"`
	QueriesInflight int64  `json:"queries_inflight"`
}

type CloseEvent struct {
	Code string `json:"code"`
}

type LogEvent struct {
	Code       string  `json:"code"`
	Event      string  `json:"event"`
	RequestID  *string `json:"request_id,omitempty"`
	Session    *string `json:"session,omitempty"`
	ErrorCode  *string `json:"error_code,omitempty"`
	CommandTag *string `json:"command_tag,omitempty"`
	Trace      Trace   `json:"trace"`
}

const (
	CodeResult      = "result"
	CodeResultStart = "result_start"
	CodeResultRows  = "result_rows"
	CodeResultEnd   = "result_end"
	CodeSQLError    = "sql_error"
	CodeError       = "error"
	CodeNotice      = "notice"
	CodeConfig      = "config"
	CodePong        = "pong"
	CodeClose       = "close"
	CodeLog         = "log"
)
