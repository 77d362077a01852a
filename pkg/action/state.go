package action

import (
	"fmt"

	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

// State is the closed set of per-phase event states. Each variant carries
// only the payload slots its phase uses; Validate checks the slots agree with
// the step.
type State interface {
	Kind() Kind
	Phase() Phase
	Step() Step
	Input() any
	Output() any
	Failure() *jsonrpc.Error
	Validate() error
	state()
}

// Progress is the part every variant shares. Fault is set exactly when At is
// StepFailed.
type Progress struct {
	At    Step
	In    any
	Fault *jsonrpc.Error
}

func (p Progress) Step() Step              { return p.At }
func (p Progress) Input() any              { return p.In }
func (p Progress) Failure() *jsonrpc.Error { return p.Fault }

func (p Progress) validate(phase Phase) error {
	if !p.At.Valid() {
		return fmt.Errorf("action: %s state has unknown step %q", phase, p.At)
	}
	if (p.At == StepFailed) != (p.Fault != nil) {
		return fmt.Errorf("action: %s state at %s must carry an error only when failed", phase, p.At)
	}
	return nil
}

// pastParse reports whether the step implies parsing succeeded.
func (p Progress) pastParse() bool {
	return p.At == StepParsed || p.At == StepHandling || p.At == StepHandled
}

// SendRequestState is an outbound request before its round trip. Request
// is synthesized when handling starts.
type SendRequestState struct {
	Progress
	Request *jsonrpc.Request
}

// ReceiveResponseState waits for and then consumes the reply to Request.
type ReceiveResponseState struct {
	Progress
	Request  *jsonrpc.Request
	Response jsonrpc.Reply
	Out      any
}

// ReceiveRequestState serves an inbound request.
type ReceiveRequestState struct {
	Progress
	Request *jsonrpc.Request
	Out     any
}

// SendResponseState holds the reply synthesized from a served request.
type SendResponseState struct {
	Progress
	Request  *jsonrpc.Request
	Response jsonrpc.Reply
	Out      any
}

type SendNotificationState struct {
	Progress
	Notification *jsonrpc.Notification
}

type ReceiveNotificationState struct {
	Progress
	Notification *jsonrpc.Notification
}

// ExecuteState runs a local call.
type ExecuteState struct {
	Progress
	Out any
}

func (SendRequestState) Kind() Kind         { return KindRequestResponse }
func (ReceiveResponseState) Kind() Kind     { return KindRequestResponse }
func (ReceiveRequestState) Kind() Kind      { return KindRequestResponse }
func (SendResponseState) Kind() Kind        { return KindRequestResponse }
func (SendNotificationState) Kind() Kind    { return KindRemoteNotification }
func (ReceiveNotificationState) Kind() Kind { return KindRemoteNotification }
func (ExecuteState) Kind() Kind             { return KindLocalCall }

func (SendRequestState) Phase() Phase         { return PhaseSendRequest }
func (ReceiveResponseState) Phase() Phase     { return PhaseReceiveResponse }
func (ReceiveRequestState) Phase() Phase      { return PhaseReceiveRequest }
func (SendResponseState) Phase() Phase        { return PhaseSendResponse }
func (SendNotificationState) Phase() Phase    { return PhaseSend }
func (ReceiveNotificationState) Phase() Phase { return PhaseReceive }
func (ExecuteState) Phase() Phase             { return PhaseExecute }

func (SendRequestState) Output() any         { return nil }
func (s ReceiveResponseState) Output() any   { return s.Out }
func (s ReceiveRequestState) Output() any    { return s.Out }
func (s SendResponseState) Output() any      { return s.Out }
func (SendNotificationState) Output() any    { return nil }
func (ReceiveNotificationState) Output() any { return nil }
func (s ExecuteState) Output() any           { return s.Out }

func (SendRequestState) state()         {}
func (ReceiveResponseState) state()     {}
func (ReceiveRequestState) state()      {}
func (SendResponseState) state()        {}
func (SendNotificationState) state()    {}
func (ReceiveNotificationState) state() {}
func (ExecuteState) state()             {}

func (s SendRequestState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	synthesized := s.At == StepHandling || s.At == StepHandled
	if synthesized && s.Request == nil {
		return fmt.Errorf("action: send_request at %s requires a request", s.At)
	}
	if (s.At == StepInitial || s.At == StepParsed) && s.Request != nil {
		return fmt.Errorf("action: send_request at %s must not carry a request", s.At)
	}
	return nil
}

func (s ReceiveResponseState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	if s.Request == nil {
		return fmt.Errorf("action: receive_response requires the originating request")
	}
	if s.pastParse() && s.Response == nil {
		return fmt.Errorf("action: receive_response at %s requires a response", s.At)
	}
	if s.Response != nil && s.Response.ReplyID() != s.Request.ID {
		return fmt.Errorf("action: response id %s does not match request id %s", s.Response.ReplyID(), s.Request.ID)
	}
	if s.Response == nil && s.Out != nil {
		return fmt.Errorf("action: receive_response has output but no response")
	}
	return nil
}

func (s ReceiveRequestState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	if s.pastParse() && s.Request == nil {
		return fmt.Errorf("action: receive_request at %s requires a request", s.At)
	}
	if s.At != StepHandled && s.Out != nil {
		return fmt.Errorf("action: receive_request has output before handled")
	}
	return nil
}

func (s SendResponseState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	if s.Request == nil || s.Response == nil {
		return fmt.Errorf("action: send_response requires the request and its response")
	}
	if s.Response.ReplyID() != s.Request.ID {
		return fmt.Errorf("action: response id %s does not match request id %s", s.Response.ReplyID(), s.Request.ID)
	}
	return nil
}

func (s SendNotificationState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	synthesized := s.At == StepHandling || s.At == StepHandled
	if synthesized && s.Notification == nil {
		return fmt.Errorf("action: send at %s requires a notification", s.At)
	}
	if (s.At == StepInitial || s.At == StepParsed) && s.Notification != nil {
		return fmt.Errorf("action: send at %s must not carry a notification", s.At)
	}
	return nil
}

func (s ReceiveNotificationState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	if s.pastParse() && s.Notification == nil {
		return fmt.Errorf("action: receive at %s requires a notification", s.At)
	}
	return nil
}

func (s ExecuteState) Validate() error {
	if err := s.validate(s.Phase()); err != nil {
		return err
	}
	if s.At != StepHandled && s.Out != nil {
		return fmt.Errorf("action: execute has output before handled")
	}
	return nil
}

// initialState returns the empty state a phase starts in.
func initialState(phase Phase, input any) (State, error) {
	p := Progress{At: StepInitial, In: input}
	switch phase {
	case PhaseSendRequest:
		return SendRequestState{Progress: p}, nil
	case PhaseReceiveRequest:
		return ReceiveRequestState{Progress: p}, nil
	case PhaseSend:
		return SendNotificationState{Progress: p}, nil
	case PhaseReceive:
		return ReceiveNotificationState{Progress: p}, nil
	case PhaseExecute:
		return ExecuteState{Progress: p}, nil
	}
	return nil, fmt.Errorf("action: phase %q cannot start an event", phase)
}

// withProgress returns a copy of s with its shared part replaced.
func withProgress(s State, p Progress) State {
	switch v := s.(type) {
	case SendRequestState:
		v.Progress = p
		return v
	case ReceiveResponseState:
		v.Progress = p
		return v
	case ReceiveRequestState:
		v.Progress = p
		return v
	case SendResponseState:
		v.Progress = p
		return v
	case SendNotificationState:
		v.Progress = p
		return v
	case ReceiveNotificationState:
		v.Progress = p
		return v
	case ExecuteState:
		v.Progress = p
		return v
	}
	return s
}

func progressOf(s State) Progress {
	return Progress{At: s.Step(), In: s.Input(), Fault: s.Failure()}
}

func withStep(s State, step Step) State {
	p := progressOf(s)
	p.At = step
	return withProgress(s, p)
}

func withFailure(s State, failure *jsonrpc.Error) State {
	p := progressOf(s)
	p.At = StepFailed
	p.Fault = failure
	return withProgress(s, p)
}

func withInput(s State, step Step, input any) State {
	p := progressOf(s)
	p.At = step
	p.In = input
	return withProgress(s, p)
}

// requestOf extracts the request slot of variants that carry one.
func requestOf(s State) *jsonrpc.Request {
	switch v := s.(type) {
	case SendRequestState:
		return v.Request
	case ReceiveResponseState:
		return v.Request
	case ReceiveRequestState:
		return v.Request
	case SendResponseState:
		return v.Request
	}
	return nil
}

func responseOf(s State) jsonrpc.Reply {
	switch v := s.(type) {
	case ReceiveResponseState:
		return v.Response
	case SendResponseState:
		return v.Response
	}
	return nil
}

func notificationOf(s State) *jsonrpc.Notification {
	switch v := s.(type) {
	case SendNotificationState:
		return v.Notification
	case ReceiveNotificationState:
		return v.Notification
	}
	return nil
}
