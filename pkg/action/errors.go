package action

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

var (
	ErrUnknownAction  = errors.New("action: unknown action")
	ErrCannotInitiate = errors.New("action: executor cannot initiate")
	ErrCannotReceive  = errors.New("action: executor cannot receive")
)

// StateError reports an operation attempted in a state that does not allow it.
// It signals an integration bug and is never encoded as a failed step.
type StateError struct {
	Op    string
	Kind  Kind
	Phase Phase
	Step  Step
	Want  string
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("action: cannot %s a %s event in phase %s at step %s", e.Op, e.Kind, e.Phase, e.Step)
	if e.Want != "" {
		msg += " (" + e.Want + ")"
	}
	return msg
}

// UsageError reports an API misuse that is not tied to the step guard, such
// as a synchronous handle on an async action.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("action: invalid %s: %s", e.Op, e.Reason)
}

// IsUsageError reports whether err came from the illegal-usage channel.
func IsUsageError(err error) bool {
	var se *StateError
	var ue *UsageError
	return errors.As(err, &se) || errors.As(err, &ue)
}

func parseFailure(err error) *jsonrpc.Error {
	return jsonrpc.NewInvalidParams(err.Error())
}

// handlerFailure keeps handler-supplied protocol errors as they are and wraps
// anything else as an internal error carrying the original message.
func handlerFailure(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), map[string]any{
		"message": err.Error(),
		"type":    fmt.Sprintf("%T", err),
	})
}
