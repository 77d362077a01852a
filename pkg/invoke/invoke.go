// Package invoke drives initiating events through their whole lifecycle:
// create, parse, handle, round trip, transition, parse, handle.
package invoke

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

// Sender delivers outbound messages. Environments and peers implement it.
type Sender interface {
	Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error)
}

// Options tune one invocation.
type Options struct {
	// Observers are attached to the event before it is first driven.
	Observers []action.Observer
}

type Option func(*Options)

func WithObserver(fn action.Observer) Option {
	return func(o *Options) { o.Observers = append(o.Observers, fn) }
}

// Request sends a request/response action and waits for its reply. The
// returned event is complete. A failed round trip is returned as the
// *jsonrpc.Error the event failed with.
func Request(ctx context.Context, env action.Env, sender Sender, method string, input any, opts ...Option) (*action.Event, error) {
	ev, err := start(env, method, action.KindRequestResponse, input, opts)
	if err != nil {
		return nil, err
	}
	if err := drive(ev, ev.Parse, func() error { return ev.Handle(ctx) }); err != nil {
		return ev, err
	}
	if failure := ev.Err(); failure != nil {
		return ev, failure
	}

	reply, err := sender.Send(ctx, ev.Request())
	if err != nil {
		return ev, fmt.Errorf("%s: %w", method, err)
	}
	r, ok := reply.(jsonrpc.Reply)
	if !ok || r == nil {
		return ev, fmt.Errorf("%s: transport returned %T instead of a reply", method, reply)
	}
	if r.ReplyID() != ev.Request().ID {
		// an unkeyed error means the other side could not read the request
		if failure := jsonrpc.ErrorOf(r); failure != nil && r.ReplyID().IsNull() {
			return ev, failure
		}
		return ev, fmt.Errorf("%s: reply id %s does not match request id %s", method, r.ReplyID(), ev.Request().ID)
	}

	err = drive(ev,
		func() error { return ev.Transition(action.PhaseReceiveResponse) },
		func() error { return ev.SetResponse(r) },
		ev.Parse,
		func() error { return ev.Handle(ctx) },
	)
	if err != nil {
		return ev, err
	}
	return finish(ev)
}

// Notify sends a remote notification. Nothing comes back.
func Notify(ctx context.Context, env action.Env, sender Sender, method string, input any, opts ...Option) (*action.Event, error) {
	ev, err := start(env, method, action.KindRemoteNotification, input, opts)
	if err != nil {
		return nil, err
	}
	if err := drive(ev, ev.Parse, func() error { return ev.Handle(ctx) }); err != nil {
		return ev, err
	}
	if failure := ev.Err(); failure != nil {
		return ev, failure
	}
	if _, err := sender.Send(ctx, ev.Notification()); err != nil {
		return ev, fmt.Errorf("%s: %w", method, err)
	}
	return finish(ev)
}

// Local runs a local call on env, sync or async.
func Local(ctx context.Context, env action.Env, method string, input any, opts ...Option) (*action.Event, error) {
	ev, err := start(env, method, action.KindLocalCall, input, opts)
	if err != nil {
		return nil, err
	}
	if err := drive(ev, ev.Parse, func() error { return ev.Handle(ctx) }); err != nil {
		return ev, err
	}
	return finish(ev)
}

// LocalSync runs a synchronous local call without suspending.
func LocalSync(env action.Env, method string, input any, opts ...Option) (*action.Event, error) {
	ev, err := start(env, method, action.KindLocalCall, input, opts)
	if err != nil {
		return nil, err
	}
	if err := drive(ev, ev.Parse, ev.HandleSync); err != nil {
		return ev, err
	}
	return finish(ev)
}

func start(env action.Env, method string, kind action.Kind, input any, opts []Option) (*action.Event, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	spec, ok := env.LookupSpec(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", action.ErrUnknownAction, method)
	}
	if spec.Kind != kind {
		return nil, &action.UsageError{Op: "invoke", Reason: fmt.Sprintf("%s is a %s action, not %s", method, spec.Kind, kind)}
	}
	ev, err := action.NewFromSpec(env, spec, input)
	if err != nil {
		return nil, err
	}
	for _, fn := range o.Observers {
		ev.Observe(fn)
	}
	return ev, nil
}

// drive runs steps in order and stops once the event fails.
func drive(ev *action.Event, steps ...func() error) error {
	for _, step := range steps {
		if ev.Step() == action.StepFailed {
			return nil
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func finish(ev *action.Event) (*action.Event, error) {
	if failure := ev.Err(); failure != nil {
		return ev, failure
	}
	if !ev.IsComplete() {
		return ev, fmt.Errorf("%s: event stopped in %s/%s", ev.Method(), ev.Phase(), ev.Step())
	}
	return ev, nil
}
