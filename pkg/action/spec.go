package action

import (
	"context"
	"fmt"
)

// Codec decodes raw payloads into typed values and encodes typed values back
// into wire payloads for one side of an action (input or output).
type Codec interface {
	Decode(raw any) (any, error)
	Encode(v any) (any, error)
}

// Spec is the static descriptor of an action.
type Spec struct {
	Method      string
	Kind        Kind
	Initiator   Initiator
	Async       bool // local calls only
	Input       Codec
	Output      Codec
	Description string
}

// Validate checks the descriptor is internally consistent.
func (s Spec) Validate() error {
	if s.Method == "" {
		return fmt.Errorf("action: spec has no method")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("action: spec %s has unknown kind %q", s.Method, s.Kind)
	}
	if !s.Initiator.Valid() {
		return fmt.Errorf("action: spec %s has unknown initiator %q", s.Method, s.Initiator)
	}
	if s.Async && s.Kind != KindLocalCall {
		return fmt.Errorf("action: spec %s is async but only local calls may be", s.Method)
	}
	return nil
}

func (s Spec) inputCodec() Codec {
	if s.Input == nil {
		return passthrough{}
	}
	return s.Input
}

func (s Spec) outputCodec() Codec {
	if s.Output == nil {
		return passthrough{}
	}
	return s.Output
}

type passthrough struct{}

func (passthrough) Decode(raw any) (any, error) { return raw, nil }
func (passthrough) Encode(v any) (any, error)   { return v, nil }

// Handler runs the side effect of an action in one phase. The returned value
// is the output for phases that produce one and is ignored otherwise.
type Handler func(ctx context.Context, ev *Event) (any, error)

type SpecLookup interface {
	LookupSpec(method string) (Spec, bool)
}

type HandlerLookup interface {
	LookupHandler(method string, phase Phase) (Handler, bool)
}

// Env is what an event needs from the endpoint it runs on.
type Env interface {
	Side() Side
	SpecLookup
	HandlerLookup
}
