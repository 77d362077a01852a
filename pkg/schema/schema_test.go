package schema

import (
	"encoding/json"
	"testing"
)

const itemSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"count": {"type": "integer"}
	},
	"required": ["name"]
}`

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile("broken", `{"type": 12}`); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
	if _, err := Compile("garbage", `{`); err == nil {
		t.Fatal("expected load error for malformed json")
	}
}

func TestJSON_Decode(t *testing.T) {
	s, err := Compile("item", itemSchema)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	v, err := s.Decode(map[string]any{"name": "widget", "count": 5})
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	obj := v.(map[string]any)
	if obj["count"] != json.Number("5") {
		t.Errorf("expected json.Number count, got %#v", obj["count"])
	}

	if _, err := s.Decode(map[string]any{"count": 5}); err == nil {
		t.Error("missing required field should fail")
	}
	if _, err := s.Decode(map[string]any{"name": "w", "count": 1.5}); err == nil {
		t.Error("non-integer count should fail")
	}
	if _, err := s.Decode(nil); err == nil {
		t.Error("absent payload is validated as {} and must fail the required check")
	}
}

func TestJSON_EncodeAbsentPasses(t *testing.T) {
	s, err := Compile("item", itemSchema)
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.Encode(nil)
	if err != nil || v != nil {
		t.Fatalf("expected nil passthrough, got %v, %v", v, err)
	}
	if _, err := s.Encode(map[string]any{"name": 3}); err == nil {
		t.Error("wrong type should fail on encode")
	}
}

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTyped(t *testing.T) {
	s, err := Compile("item", itemSchema)
	if err != nil {
		t.Fatal(err)
	}
	codec := Of[item](s)

	v, err := codec.Decode(map[string]any{"name": "widget", "count": json.Number("2")})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got, ok := v.(item)
	if !ok || got != (item{Name: "widget", Count: 2}) {
		t.Fatalf("unexpected decoded value: %#v", v)
	}

	wire, err := codec.Encode(got)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	obj := wire.(map[string]any)
	if obj["name"] != "widget" || obj["count"] != json.Number("2") {
		t.Errorf("unexpected wire value: %#v", obj)
	}

	if _, err := codec.Decode(map[string]any{"count": 1}); err == nil {
		t.Error("schema violation should fail before typing")
	}

	untyped := Typed[item]{}
	if _, err := untyped.Decode(map[string]any{"name": 7}); err == nil {
		t.Error("type mismatch should fail")
	}
}

func TestAny(t *testing.T) {
	v, err := Any.Decode("raw")
	if err != nil || v != "raw" {
		t.Fatalf("Any should pass values through, got %v, %v", v, err)
	}
}
