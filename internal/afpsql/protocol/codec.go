package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single input line. Result rows are never read through
// this path (they come back from the database adapter), so this only needs
// to accommodate a query's SQL text and parameters.
const maxLineBytes = 32 * 1024 * 1024

// DecodeError is returned by Codec.Next when a line cannot be turned into
// a Request. RawID is a best-effort extraction of an "id" field from the
// malformed line, used so the caller can still echo it on the resulting
// error event (spec §4.1).
type DecodeError struct {
	RawID *string
	Err   error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Codec reads stdin as a byte stream, splitting on newline, and parses each
// non-empty line as one AFD request object. It holds no business state.
type Codec struct {
	scanner *bufio.Scanner
}

func NewCodec(r io.Reader) *Codec {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Codec{scanner: s}
}

// Next reads and decodes the next non-empty line. It returns io.EOF when
// stdin is closed.
func (c *Codec) Next() (Request, error) {
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return decodeLine(line)
	}
}

func decodeLine(line []byte) (Request, error) {
	var probe struct {
		Code string `json:"code"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, &DecodeError{RawID: extractRawID(line), Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	switch probe.Code {
	case "query":
		var q QueryRequest
		if err := json.Unmarshal(line, &q); err != nil {
			return nil, &DecodeError{RawID: idPtr(probe.ID), Err: err}
		}
		return q, nil
	case "cancel":
		var c CancelRequest
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, &DecodeError{RawID: idPtr(probe.ID), Err: err}
		}
		return c, nil
	case "config":
		var cfg ConfigRequest
		if err := json.Unmarshal(line, &cfg); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return cfg, nil
	case "ping":
		return PingRequest{Code: "ping"}, nil
	case "close":
		return CloseRequest{Code: "close"}, nil
	case "":
		return nil, &DecodeError{RawID: extractRawID(line), Err: fmt.Errorf("missing required field: code")}
	default:
		return nil, &DecodeError{RawID: idPtr(probe.ID), Err: fmt.Errorf("unknown code: %q", probe.Code)}
	}
}

func idPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// extractRawID makes a best-effort attempt to find an "id" value in a line
// that failed to parse as a well-formed object, so the error event can still
// echo it (spec §4.1: "if an id field happens to be syntactically available").
func extractRawID(line []byte) *string {
	var loose map[string]json.RawMessage
	if err := json.Unmarshal(line, &loose); err != nil {
		return nil
	}
	raw, ok := loose["id"]
	if !ok {
		return nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}
	return &id
}
