package action

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

// Event is one invocation of an action moving through its phases. An event
// is owned by its creator and must be driven from one goroutine at a time;
// overlapping calls fail with a UsageError.
type Event struct {
	id       string
	spec     Spec
	env      Env
	executor Side
	state    State
	bus      Bus
	busy     atomic.Bool
}

// New looks up the action by method and creates an initiating event on env.
func New(env Env, method string, input any) (*Event, error) {
	spec, ok := env.LookupSpec(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, method)
	}
	return NewFromSpec(env, spec, input)
}

// NewFromSpec creates an initiating event. It fails when env's side may not
// start the action.
func NewFromSpec(env Env, spec Spec, input any) (*Event, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	phase, err := InitialPhase(spec.Kind, spec.Initiator, env.Side())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Method, err)
	}
	return newEvent(env, spec, phase, input)
}

// NewInbound creates an event serving a message that arrived from the other
// side. The request or notification is attached with SetRequest or
// SetNotification before Parse.
func NewInbound(env Env, spec Spec, input any) (*Event, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	phase, err := InboundPhase(spec.Kind, spec.Initiator, env.Side())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Method, err)
	}
	return newEvent(env, spec, phase, input)
}

func newEvent(env Env, spec Spec, phase Phase, input any) (*Event, error) {
	st, err := initialState(phase, input)
	if err != nil {
		return nil, err
	}
	return &Event{
		id:       uuid.NewString(),
		spec:     spec,
		env:      env,
		executor: env.Side(),
		state:    st,
	}, nil
}

func (e *Event) ID() string     { return e.id }
func (e *Event) Method() string { return e.spec.Method }
func (e *Event) Spec() Spec     { return e.spec }
func (e *Event) Env() Env       { return e.env }
func (e *Event) Kind() Kind     { return e.spec.Kind }
func (e *Event) Executor() Side { return e.executor }
func (e *Event) State() State   { return e.state }
func (e *Event) Phase() Phase   { return e.state.Phase() }
func (e *Event) Step() Step     { return e.state.Step() }
func (e *Event) Input() any     { return e.state.Input() }
func (e *Event) Output() any    { return e.state.Output() }

func (e *Event) Err() *jsonrpc.Error                 { return e.state.Failure() }
func (e *Event) Request() *jsonrpc.Request           { return requestOf(e.state) }
func (e *Event) Response() jsonrpc.Reply             { return responseOf(e.state) }
func (e *Event) Notification() *jsonrpc.Notification { return notificationOf(e.state) }

// IsComplete reports whether the event has nothing left to do: it failed, or
// it was handled in a phase with no successor.
func (e *Event) IsComplete() bool {
	step := e.state.Step()
	if !IsTerminalStep(step) {
		return false
	}
	if step == StepFailed {
		return true
	}
	_, more := NextPhase(e.state.Phase())
	return !more
}

// Observe registers fn for every future state replacement.
func (e *Event) Observe(fn Observer) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

// Parse decodes the payload of the current phase. Decode failures leave the
// event failed with an invalid-params error; the returned error is reserved
// for illegal calls.
func (e *Event) Parse() error {
	const op = "parse"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()

	cur := e.state
	if cur.Step() != StepInitial {
		return e.stateError(op, "requires step initial")
	}

	switch v := cur.(type) {
	case ReceiveResponseState:
		if v.Response == nil {
			return &UsageError{Op: op, Reason: "receive_response has no response; call SetResponse first"}
		}
		if failure := jsonrpc.ErrorOf(v.Response); failure != nil {
			return e.replace(op, withFailure(v, failure))
		}
		out, err := e.spec.outputCodec().Decode(v.Out)
		if err != nil {
			return e.replace(op, withFailure(v, parseFailure(err)))
		}
		v.Out = out
		v.At = StepParsed
		return e.replace(op, v)
	case SendResponseState:
		return e.replace(op, withStep(v, StepParsed))
	case ReceiveRequestState:
		if v.Request == nil {
			return &UsageError{Op: op, Reason: "receive_request has no request; call SetRequest first"}
		}
	case ReceiveNotificationState:
		if v.Notification == nil {
			return &UsageError{Op: op, Reason: "receive has no notification; call SetNotification first"}
		}
	}

	in, err := e.spec.inputCodec().Decode(cur.Input())
	if err != nil {
		return e.replace(op, withFailure(cur, parseFailure(err)))
	}
	return e.replace(op, withInput(cur, StepParsed, in))
}

// Handle runs the handler registered for the current phase. Sending phases
// first synthesize their outbound message. A missing handler is not an error.
func (e *Event) Handle(ctx context.Context) error {
	const op = "handle"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()
	return e.handle(ctx, op)
}

// HandleSync is Handle for synchronous local calls. Any other action is a
// usage error.
func (e *Event) HandleSync() error {
	const op = "handle_sync"
	if e.spec.Kind != KindLocalCall {
		return &UsageError{Op: op, Reason: fmt.Sprintf("%s is a %s action, not a local call", e.spec.Method, e.spec.Kind)}
	}
	if e.spec.Async {
		return &UsageError{Op: op, Reason: fmt.Sprintf("%s is async", e.spec.Method)}
	}
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()
	return e.handle(context.Background(), op)
}

func (e *Event) handle(ctx context.Context, op string) error {
	cur := e.state
	if cur.Step() != StepParsed {
		return e.stateError(op, "requires step parsed")
	}

	if IsSendingPhase(cur.Phase()) {
		next, failure := e.synthesize(cur)
		if failure != nil {
			return e.replace(op, withFailure(cur, failure))
		}
		if err := e.replace(op, next); err != nil {
			return err
		}
	} else if err := e.replace(op, withStep(cur, StepHandling)); err != nil {
		return err
	}

	phase := e.state.Phase()
	handler, ok := e.env.LookupHandler(e.spec.Method, phase)
	if !ok || handler == nil {
		return e.replace(op, withStep(e.state, StepHandled))
	}

	ret, err := callHandler(ctx, handler, e)
	if err != nil {
		return e.replace(op, withFailure(e.state, handlerFailure(err)))
	}
	done := withStep(e.state, StepHandled)
	if ValidatesOutput(e.spec.Kind, phase) {
		out, err := e.spec.outputCodec().Decode(ret)
		if err != nil {
			return e.replace(op, withFailure(e.state, parseFailure(err)))
		}
		done = withOutput(done, out)
	}
	return e.replace(op, done)
}

func callHandler(ctx context.Context, h Handler, ev *Event) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// synthesize builds the outbound message of a sending phase from the typed
// input and moves the state to handling.
func (e *Event) synthesize(cur State) (State, *jsonrpc.Error) {
	params, err := e.spec.inputCodec().Encode(cur.Input())
	if err != nil {
		return nil, parseFailure(err)
	}
	switch v := cur.(type) {
	case SendRequestState:
		req, err := jsonrpc.NewRequest(jsonrpc.StringID(e.id), e.spec.Method, params)
		if err != nil {
			return nil, parseFailure(err)
		}
		v.Request = req
		v.At = StepHandling
		return v, nil
	case SendNotificationState:
		n, err := jsonrpc.NewNotification(e.spec.Method, params)
		if err != nil {
			return nil, parseFailure(err)
		}
		v.Notification = n
		v.At = StepHandling
		return v, nil
	}
	return nil, jsonrpc.NewInternalError(fmt.Sprintf("phase %s sends nothing", cur.Phase()))
}

func withOutput(s State, out any) State {
	switch v := s.(type) {
	case ReceiveRequestState:
		v.Out = out
		return v
	case ExecuteState:
		v.Out = out
		return v
	}
	return s
}

// Transition moves a handled event into the next phase of its kind. Entering
// receive_response carries the request forward; entering send_response
// synthesizes the reply from the accumulated output.
func (e *Event) Transition(phase Phase) error {
	const op = "transition"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()

	cur := e.state
	if cur.Step() != StepHandled {
		return e.stateError(op, "requires step handled")
	}
	want, ok := NextPhase(cur.Phase())
	if !ok {
		return e.stateError(op, fmt.Sprintf("phase %s has no successor", cur.Phase()))
	}
	if phase != want {
		return e.stateError(op, fmt.Sprintf("next phase is %s, not %s", want, phase))
	}

	var next State
	switch v := cur.(type) {
	case SendRequestState:
		next = ReceiveResponseState{
			Progress: Progress{At: StepInitial, In: v.In},
			Request:  v.Request,
		}
	case ReceiveRequestState:
		next = SendResponseState{
			Progress: Progress{At: StepInitial, In: v.In},
			Request:  v.Request,
			Response: e.reply(v.Request.ID, v.Out, v.Fault),
			Out:      v.Out,
		}
	default:
		return e.stateError(op, "unsupported phase")
	}
	return e.replace(op, next)
}

func (e *Event) reply(id jsonrpc.ID, out any, failure *jsonrpc.Error) jsonrpc.Reply {
	if failure != nil {
		return jsonrpc.NewErrorResponse(id, failure)
	}
	encoded, err := e.spec.outputCodec().Encode(out)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.NewInternalError(err.Error()))
	}
	rep, err := jsonrpc.ReplyFor(id, encoded, nil)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.NewInternalError(err.Error()))
	}
	return rep
}

// SetRequest attaches an inbound request. Only legal at the initial step of
// receive_request.
func (e *Event) SetRequest(req *jsonrpc.Request) error {
	const op = "set_request"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()

	v, ok := e.state.(ReceiveRequestState)
	if !ok {
		return &UsageError{Op: op, Reason: fmt.Sprintf("phase %s does not accept a request", e.state.Phase())}
	}
	if v.At != StepInitial {
		return e.stateError(op, "requires step initial")
	}
	if req == nil {
		return &UsageError{Op: op, Reason: "request is nil"}
	}
	if req.Method != e.spec.Method {
		return &UsageError{Op: op, Reason: fmt.Sprintf("request method %s does not match %s", req.Method, e.spec.Method)}
	}
	v.Request = req
	return e.replace(op, v)
}

// SetResponse attaches the reply to the request sent in the previous phase
// and extracts its result as output. An error reply leaves output empty.
func (e *Event) SetResponse(reply jsonrpc.Reply) error {
	const op = "set_response"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()

	v, ok := e.state.(ReceiveResponseState)
	if !ok {
		return &UsageError{Op: op, Reason: fmt.Sprintf("phase %s does not accept a response", e.state.Phase())}
	}
	if v.At != StepInitial {
		return e.stateError(op, "requires step initial")
	}
	if reply == nil {
		return &UsageError{Op: op, Reason: "response is nil"}
	}
	if reply.ReplyID() != v.Request.ID {
		return &UsageError{Op: op, Reason: fmt.Sprintf("response id %s does not match request id %s", reply.ReplyID(), v.Request.ID)}
	}
	v.Response = reply
	v.Out = nil
	if result := jsonrpc.ResultOf(reply); result != nil {
		v.Out = result
	}
	return e.replace(op, v)
}

// SetNotification attaches an inbound notification. Only legal at the
// initial step of receive.
func (e *Event) SetNotification(n *jsonrpc.Notification) error {
	const op = "set_notification"
	if err := e.acquire(op); err != nil {
		return err
	}
	defer e.release()

	v, ok := e.state.(ReceiveNotificationState)
	if !ok {
		return &UsageError{Op: op, Reason: fmt.Sprintf("phase %s does not accept a notification", e.state.Phase())}
	}
	if v.At != StepInitial {
		return e.stateError(op, "requires step initial")
	}
	if n == nil {
		return &UsageError{Op: op, Reason: "notification is nil"}
	}
	if n.Method != e.spec.Method {
		return &UsageError{Op: op, Reason: fmt.Sprintf("notification method %s does not match %s", n.Method, e.spec.Method)}
	}
	v.Notification = n
	return e.replace(op, v)
}

func (e *Event) acquire(op string) error {
	if !e.busy.CompareAndSwap(false, true) {
		return &UsageError{Op: op, Reason: "event is already being driven by another call"}
	}
	return nil
}

func (e *Event) release() { e.busy.Store(false) }

func (e *Event) stateError(op, want string) error {
	return &StateError{Op: op, Kind: e.spec.Kind, Phase: e.state.Phase(), Step: e.state.Step(), Want: want}
}

// replace installs next as the event state and notifies observers. Moves
// that the transition tables do not allow are rejected, and an identical
// state is not republished.
func (e *Event) replace(op string, next State) error {
	prev := e.state
	if !legalMove(prev, next) {
		return &StateError{
			Op:    op,
			Kind:  e.spec.Kind,
			Phase: prev.Phase(),
			Step:  prev.Step(),
			Want:  fmt.Sprintf("cannot move to %s/%s", next.Phase(), next.Step()),
		}
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("action: %s: %w", op, err)
	}
	if reflect.DeepEqual(prev, next) {
		return nil
	}
	e.state = next
	e.bus.Publish(Change{Event: e, Prev: prev, Next: next})
	return nil
}

func legalMove(prev, next State) bool {
	if prev.Kind() != next.Kind() {
		return false
	}
	if prev.Phase() == next.Phase() {
		if prev.Step() == StepInitial && next.Step() == StepInitial {
			return true
		}
		return CanAdvance(prev.Step(), next.Step())
	}
	succ, ok := NextPhase(prev.Phase())
	return ok && succ == next.Phase() && prev.Step() == StepHandled && next.Step() == StepInitial
}
