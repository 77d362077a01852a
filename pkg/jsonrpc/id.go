package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type idKind uint8

const (
	idNull idKind = iota
	idString
	idNumber
)

// ID identifies a request. It is a string, a number or null, and is
// comparable so replies can be correlated through a map.
type ID struct {
	kind idKind
	text string
}

// NullID is the id used for errors that cannot be tied to a request.
var NullID = ID{}

func StringID(s string) ID {
	return ID{kind: idString, text: s}
}

func NumberID(n int64) ID {
	return ID{kind: idNumber, text: strconv.FormatInt(n, 10)}
}

func (id ID) IsNull() bool {
	return id.kind == idNull
}

// String returns the id for logging. Strings are returned verbatim.
func (id ID) String() string {
	if id.kind == idNull {
		return "null"
	}
	return id.text
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.text)
	case idNumber:
		return []byte(id.text), nil
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = NullID
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("jsonrpc: id must be a string, number or null: %w", err)
	}
	*id = ID{kind: idNumber, text: n.String()}
	return nil
}

// ParseID extracts an id from a generically decoded JSON value.
// It reports false for anything that is not a string or a number.
func ParseID(v any) (ID, bool) {
	switch t := v.(type) {
	case string:
		return StringID(t), true
	case json.Number:
		return ID{kind: idNumber, text: t.String()}, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return NullID, false
		}
		return ID{kind: idNumber, text: strconv.FormatFloat(t, 'f', -1, 64)}, true
	case int:
		return NumberID(int64(t)), true
	case int64:
		return NumberID(t), true
	}
	return NullID, false
}
