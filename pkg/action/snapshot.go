package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

// Snapshot is the full serializable state of an event. History stores
// persist it and Restore rebuilds an event from it.
type Snapshot struct {
	ID           string                `json:"id"`
	Method       string                `json:"method"`
	Kind         Kind                  `json:"kind"`
	Phase        Phase                 `json:"phase"`
	Step         Step                  `json:"step"`
	Executor     Side                  `json:"executor"`
	Input        any                   `json:"input,omitempty"`
	Output       any                   `json:"output,omitempty"`
	Error        *jsonrpc.Error        `json:"error,omitempty"`
	Request      *jsonrpc.Request      `json:"request,omitempty"`
	Response     jsonrpc.Reply         `json:"response,omitempty"`
	Notification *jsonrpc.Notification `json:"notification,omitempty"`
}

// Snapshot captures the current state.
func (e *Event) Snapshot() Snapshot {
	return snapshotOf(e.id, e.spec.Method, e.executor, e.state)
}

func snapshotOf(id, method string, executor Side, s State) Snapshot {
	return Snapshot{
		ID:           id,
		Method:       method,
		Kind:         s.Kind(),
		Phase:        s.Phase(),
		Step:         s.Step(),
		Executor:     executor,
		Input:        s.Input(),
		Output:       s.Output(),
		Error:        s.Failure(),
		Request:      requestOf(s),
		Response:     responseOf(s),
		Notification: notificationOf(s),
	}
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID           string          `json:"id"`
		Method       string          `json:"method"`
		Kind         Kind            `json:"kind"`
		Phase        Phase           `json:"phase"`
		Step         Step            `json:"step"`
		Executor     Side            `json:"executor"`
		Input        json.RawMessage `json:"input"`
		Output       json.RawMessage `json:"output"`
		Error        *jsonrpc.Error  `json:"error"`
		Request      json.RawMessage `json:"request"`
		Response     json.RawMessage `json:"response"`
		Notification json.RawMessage `json:"notification"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Snapshot{
		ID:       wire.ID,
		Method:   wire.Method,
		Kind:     wire.Kind,
		Phase:    wire.Phase,
		Step:     wire.Step,
		Executor: wire.Executor,
		Error:    wire.Error,
	}
	var err error
	if out.Input, err = decodeOptional(wire.Input); err != nil {
		return fmt.Errorf("action: snapshot input: %w", err)
	}
	if out.Output, err = decodeOptional(wire.Output); err != nil {
		return fmt.Errorf("action: snapshot output: %w", err)
	}
	if len(wire.Request) > 0 && !isNull(wire.Request) {
		out.Request = new(jsonrpc.Request)
		if err := decodeNumbers(wire.Request, out.Request); err != nil {
			return fmt.Errorf("action: snapshot request: %w", err)
		}
	}
	if len(wire.Notification) > 0 && !isNull(wire.Notification) {
		out.Notification = new(jsonrpc.Notification)
		if err := decodeNumbers(wire.Notification, out.Notification); err != nil {
			return fmt.Errorf("action: snapshot notification: %w", err)
		}
	}
	if len(wire.Response) > 0 && !isNull(wire.Response) {
		msg, err := jsonrpc.DecodeReply(wire.Response)
		if err != nil {
			return fmt.Errorf("action: snapshot response: %w", err)
		}
		reply, ok := msg.(jsonrpc.Reply)
		if !ok {
			return fmt.Errorf("action: snapshot response is not a single reply")
		}
		out.Response = reply
	}
	*s = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeOptional(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	return jsonrpc.DecodeValue(raw)
}

func decodeNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// Restore rebuilds an event from its JSON snapshot. The action is looked up
// by method on env, which must be on the side that recorded the snapshot.
func Restore(env Env, data []byte) (*Event, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("action: decode snapshot: %w", err)
	}
	return RestoreSnapshot(env, snap)
}

// RestoreSnapshot rebuilds an event from a decoded snapshot. Payloads are
// re-decoded through the action codecs; values the codecs reject are kept
// as recorded.
func RestoreSnapshot(env Env, snap Snapshot) (*Event, error) {
	spec, ok := env.LookupSpec(snap.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, snap.Method)
	}
	if snap.Kind != spec.Kind {
		return nil, fmt.Errorf("action: snapshot of %s has kind %s, registered kind is %s", snap.Method, snap.Kind, spec.Kind)
	}
	if snap.Executor != env.Side() {
		return nil, fmt.Errorf("action: snapshot of %s was recorded on %s, not %s", snap.Method, snap.Executor, env.Side())
	}

	p := Progress{At: snap.Step, In: redecode(spec.inputCodec(), snap.Input), Fault: snap.Error}
	out := redecode(spec.outputCodec(), snap.Output)

	var st State
	switch snap.Phase {
	case PhaseSendRequest:
		st = SendRequestState{Progress: p, Request: snap.Request}
	case PhaseReceiveResponse:
		st = ReceiveResponseState{Progress: p, Request: snap.Request, Response: snap.Response, Out: out}
	case PhaseReceiveRequest:
		st = ReceiveRequestState{Progress: p, Request: snap.Request, Out: out}
	case PhaseSendResponse:
		st = SendResponseState{Progress: p, Request: snap.Request, Response: snap.Response, Out: out}
	case PhaseSend:
		st = SendNotificationState{Progress: p, Notification: snap.Notification}
	case PhaseReceive:
		st = ReceiveNotificationState{Progress: p, Notification: snap.Notification}
	case PhaseExecute:
		st = ExecuteState{Progress: p, Out: out}
	default:
		return nil, fmt.Errorf("action: snapshot has unknown phase %q", snap.Phase)
	}
	if st.Kind() != spec.Kind {
		return nil, fmt.Errorf("action: phase %s does not belong to %s", snap.Phase, spec.Kind)
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &Event{
		id:       snap.ID,
		spec:     spec,
		env:      env,
		executor: snap.Executor,
		state:    st,
	}, nil
}

func redecode(c Codec, v any) any {
	if v == nil {
		return nil
	}
	decoded, err := c.Decode(v)
	if err != nil {
		return v
	}
	return decoded
}
