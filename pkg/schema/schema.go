// Package schema provides the input and output codecs actions decode their
// payloads with: JSON Schema validation, typed Go values, or both.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

var (
	_ action.Codec = (*JSON)(nil)
	_ action.Codec = Typed[struct{}]{}
	_ action.Codec = Any
)

// JSON validates payloads against a compiled JSON Schema document. Decoded
// values are plain JSON values with numbers kept as json.Number.
type JSON struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile compiles doc as a draft 2020-12 schema. name only identifies the
// schema in errors.
func Compile(name, doc string) (*JSON, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://duplex.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return &JSON{name: name, compiled: compiled}, nil
}

func (s *JSON) Name() string { return s.name }

// Decode validates raw. An absent payload is validated as the empty object.
func (s *JSON) Decode(raw any) (any, error) {
	v, err := plain(raw)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	if err := s.compiled.Validate(v); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.name, err)
	}
	return v, nil
}

// Encode validates v before it goes on the wire. Absent values pass.
func (s *JSON) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := plain(v)
	if err != nil {
		return nil, err
	}
	if err := s.compiled.Validate(out); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.name, err)
	}
	return out, nil
}

// Typed decodes payloads into T. When Schema is set the payload is validated
// first.
type Typed[T any] struct {
	Schema *JSON
}

// Of returns a Typed codec for T validated against s, which may be nil.
func Of[T any](s *JSON) Typed[T] {
	return Typed[T]{Schema: s}
}

func (c Typed[T]) Decode(raw any) (any, error) {
	if c.Schema != nil {
		v, err := c.Schema.Decode(raw)
		if err != nil {
			return nil, err
		}
		raw = v
	}
	var out T
	if raw == nil {
		return out, nil
	}
	if typed, ok := raw.(T); ok {
		return typed, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

func (c Typed[T]) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := plain(v)
	if err != nil {
		return nil, err
	}
	if c.Schema != nil {
		return c.Schema.Encode(out)
	}
	return out, nil
}

// Any accepts every payload unchanged.
var Any action.Codec = anyCodec{}

type anyCodec struct{}

func (anyCodec) Decode(raw any) (any, error) { return raw, nil }
func (anyCodec) Encode(v any) (any, error)   { return v, nil }

// plain converts v to the generic JSON value space the validator expects.
func plain(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload is not serializable: %w", err)
	}
	return jsonrpc.DecodeValue(data)
}
