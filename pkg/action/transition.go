package action

import "fmt"

// stepTransitions lists the steps reachable from each step within a phase.
// handled and failed are terminal for the phase.
var stepTransitions = map[Step][]Step{
	StepInitial:  {StepParsed, StepFailed},
	StepParsed:   {StepHandling, StepFailed},
	StepHandling: {StepHandled, StepFailed},
	StepHandled:  {},
	StepFailed:   {},
}

// phaseSuccessor maps each phase with a successor to it. Phases form one
// fixed path per kind.
var phaseSuccessor = map[Phase]Phase{
	PhaseSendRequest:    PhaseReceiveResponse,
	PhaseReceiveRequest: PhaseSendResponse,
}

var phaseKind = map[Phase]Kind{
	PhaseSendRequest:     KindRequestResponse,
	PhaseReceiveResponse: KindRequestResponse,
	PhaseReceiveRequest:  KindRequestResponse,
	PhaseSendResponse:    KindRequestResponse,
	PhaseSend:            KindRemoteNotification,
	PhaseReceive:         KindRemoteNotification,
	PhaseExecute:         KindLocalCall,
}

// CanAdvance reports whether a step may move from one value to another.
func CanAdvance(from, to Step) bool {
	for _, s := range stepTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextSteps returns a copy of the steps reachable from s.
func NextSteps(s Step) []Step {
	return append([]Step(nil), stepTransitions[s]...)
}

// IsTerminalStep reports whether no further step is reachable in the phase.
func IsTerminalStep(s Step) bool {
	return s == StepHandled || s == StepFailed
}

// NextPhase returns the single successor of p, if any.
func NextPhase(p Phase) (Phase, bool) {
	next, ok := phaseSuccessor[p]
	return next, ok
}

// KindOfPhase narrows a phase to the kind it belongs to.
func KindOfPhase(p Phase) (Kind, bool) {
	k, ok := phaseKind[p]
	return k, ok
}

// PhasesOf lists every phase a kind can occupy.
func PhasesOf(k Kind) []Phase {
	switch k {
	case KindRequestResponse:
		return []Phase{PhaseSendRequest, PhaseReceiveResponse, PhaseReceiveRequest, PhaseSendResponse}
	case KindRemoteNotification:
		return []Phase{PhaseSend, PhaseReceive}
	case KindLocalCall:
		return []Phase{PhaseExecute}
	}
	return nil
}

// IsSendingPhase reports whether the phase synthesizes an outbound message.
func IsSendingPhase(p Phase) bool {
	return p == PhaseSendRequest || p == PhaseSend
}

// IsReceivingPhase reports whether the phase starts from an inbound message.
func IsReceivingPhase(p Phase) bool {
	return p == PhaseReceiveRequest || p == PhaseReceive
}

// IsNetworkBound reports whether events of the kind cross the wire.
func IsNetworkBound(k Kind) bool {
	return k == KindRequestResponse || k == KindRemoteNotification
}

// CanInitiate reports whether executor may start an action with initiator.
func CanInitiate(initiator Initiator, executor Side) bool {
	return initiator == InitiatorBoth || string(initiator) == string(executor)
}

// CanReceive reports whether executor may serve an inbound message of an
// action started by initiator.
func CanReceive(initiator Initiator, executor Side) bool {
	return initiator == InitiatorBoth || string(initiator) == string(executor.Opposite())
}

// InitialPhase computes the phase an initiating event starts in.
func InitialPhase(kind Kind, initiator Initiator, executor Side) (Phase, error) {
	if err := checkTriple(kind, initiator, executor); err != nil {
		return "", err
	}
	if !CanInitiate(initiator, executor) {
		return "", fmt.Errorf("%w: %s may not initiate a %s action started by %s", ErrCannotInitiate, executor, kind, initiator)
	}
	switch kind {
	case KindRequestResponse:
		return PhaseSendRequest, nil
	case KindRemoteNotification:
		return PhaseSend, nil
	default:
		return PhaseExecute, nil
	}
}

// InboundPhase computes the phase an event created from an inbound message
// starts in. Local calls never arrive over the wire.
func InboundPhase(kind Kind, initiator Initiator, executor Side) (Phase, error) {
	if err := checkTriple(kind, initiator, executor); err != nil {
		return "", err
	}
	if !IsNetworkBound(kind) {
		return "", fmt.Errorf("%w: %s actions have no inbound phase", ErrCannotReceive, kind)
	}
	if !CanReceive(initiator, executor) {
		return "", fmt.Errorf("%w: %s does not serve %s actions started by %s", ErrCannotReceive, executor, kind, initiator)
	}
	if kind == KindRequestResponse {
		return PhaseReceiveRequest, nil
	}
	return PhaseReceive, nil
}

// ValidatesOutput reports whether a handler's return value is checked
// against the output schema. Only inbound-request handling and local-call
// execution produce outputs.
func ValidatesOutput(kind Kind, phase Phase) bool {
	return (kind == KindRequestResponse && phase == PhaseReceiveRequest) ||
		(kind == KindLocalCall && phase == PhaseExecute)
}

func checkTriple(kind Kind, initiator Initiator, executor Side) error {
	if !kind.Valid() {
		return fmt.Errorf("action: unknown kind %q", kind)
	}
	if !initiator.Valid() {
		return fmt.Errorf("action: unknown initiator %q", initiator)
	}
	if !executor.Valid() {
		return fmt.Errorf("action: unknown executor %q", executor)
	}
	return nil
}
