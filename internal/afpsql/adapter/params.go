package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// ErrParamConversion marks a JSON→OID conversion failure, which spec §4.2
// requires be surfaced as error/invalid_params, never sql_error.
type ErrParamConversion struct {
	Index int
	OID   uint32
	Err   error
}

func (e *ErrParamConversion) Error() string {
	return fmt.Sprintf("param %d (oid %d): %s", e.Index, e.OID, e.Err)
}
func (e *ErrParamConversion) Unwrap() error { return e.Err }

// ConvertParams maps JSON params onto the prepared statement's parameter
// OIDs, per the rules of spec §4.2:
//   - boolean OID  ← JSON bool or string "true"/"false"
//   - integer OIDs ← JSON integer or numeric string
//   - float/numeric OIDs ← JSON number or numeric string
//   - json/jsonb OIDs ← arbitrary JSON value, serialized verbatim
//   - everything else ← JSON string (preferred) or the value's JSON text
//
// The caller (pipeline validating step) is responsible for checking
// len(raw) == len(oids) first; ConvertParams assumes they already match.
func ConvertParams(oids []uint32, raw []json.RawMessage) ([]any, error) {
	out := make([]any, len(raw))
	for i, r := range raw {
		v, err := convertOne(oids[i], r)
		if err != nil {
			return nil, &ErrParamConversion{Index: i, OID: oids[i], Err: err}
		}
		out[i] = v
	}
	return out, nil
}

func convertOne(oid uint32, raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	switch oid {
	case pgtype.BoolOID:
		return convertBool(v)
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return convertInt(v)
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return convertFloat(v)
	case pgtype.JSONOID, pgtype.JSONBOID:
		return json.RawMessage(raw), nil
	default:
		return convertText(v)
	}
}

func convertBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", t)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expected bool, got %T", v)
	}
}

func convertInt(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("expected integer, got fractional number %v", t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", t)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func convertFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

func convertText(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return nil, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
