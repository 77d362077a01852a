// Package action implements the per-invocation state machine shared by every
// action kind: request/response round trips, remote notifications and local
// calls all move through the same phase/step lifecycle.
package action

// Kind determines the phase sequence of an action.
type Kind string

const (
	KindRequestResponse    Kind = "request_response"
	KindRemoteNotification Kind = "remote_notification"
	KindLocalCall          Kind = "local_call"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRequestResponse, KindRemoteNotification, KindLocalCall:
		return true
	}
	return false
}

// Phase is the protocol-lifecycle position of an event within its kind.
type Phase string

const (
	PhaseSendRequest     Phase = "send_request"
	PhaseReceiveResponse Phase = "receive_response"
	PhaseReceiveRequest  Phase = "receive_request"
	PhaseSendResponse    Phase = "send_response"
	PhaseSend            Phase = "send"
	PhaseReceive         Phase = "receive"
	PhaseExecute         Phase = "execute"
)

func (p Phase) Valid() bool {
	_, ok := KindOfPhase(p)
	return ok
}

// Step is the phase-independent progress marker.
type Step string

const (
	StepInitial  Step = "initial"
	StepParsed   Step = "parsed"
	StepHandling Step = "handling"
	StepHandled  Step = "handled"
	StepFailed   Step = "failed"
)

func (s Step) Valid() bool {
	switch s {
	case StepInitial, StepParsed, StepHandling, StepHandled, StepFailed:
		return true
	}
	return false
}

// Side is the endpoint an event executes on.
type Side string

const (
	SideFrontend Side = "frontend"
	SideBackend  Side = "backend"
)

func (s Side) Valid() bool {
	return s == SideFrontend || s == SideBackend
}

// Opposite returns the other endpoint.
func (s Side) Opposite() Side {
	if s == SideFrontend {
		return SideBackend
	}
	return SideFrontend
}

// Initiator names which side may start an action.
type Initiator string

const (
	InitiatorFrontend Initiator = "frontend"
	InitiatorBackend  Initiator = "backend"
	InitiatorBoth     Initiator = "both"
)

func (i Initiator) Valid() bool {
	switch i {
	case InitiatorFrontend, InitiatorBackend, InitiatorBoth:
		return true
	}
	return false
}
