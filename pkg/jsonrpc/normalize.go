package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKey is the member used to wrap non-object payloads.
const ValueKey = "value"

// NormalizeObject converts a params or result payload to the object shape the
// wire contract mandates. nil and JSON null are absent (nil map, no error);
// objects pass through; anything else is wrapped as {"value": x}.
func NormalizeObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case json.RawMessage:
		return normalizeRaw(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: payload is not serializable: %w", err)
	}
	return normalizeRaw(data)
}

// NormalizeResult is NormalizeObject for results, where absent becomes {}.
func NormalizeResult(v any) (map[string]any, error) {
	obj, err := NormalizeObject(v)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func normalizeRaw(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	decoded, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	switch t := decoded.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	default:
		return map[string]any{ValueKey: t}, nil
	}
}

// DecodeValue decodes a single JSON value, keeping numbers as json.Number.
// Trailing data after the value is an error.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("jsonrpc: invalid json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("jsonrpc: trailing data after json value")
	}
	return v, nil
}
