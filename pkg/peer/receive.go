package peer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

// Receive is the single ingress point for wire traffic. It returns the reply
// to send back, a BatchReply for batches, or nil when nothing is owed (a
// notification, or a batch of only notifications). It never panics.
func (p *Peer) Receive(ctx context.Context, raw []byte) (reply jsonrpc.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "rpc ingress panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			reply = jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewInternalError(nil))
		}
	}()

	v, err := jsonrpc.DecodeValue(raw)
	if err != nil {
		return jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewParseError(err.Error()))
	}
	switch t := v.(type) {
	case map[string]any:
		if r := p.receiveOne(ctx, t); r != nil {
			return r
		}
		return nil
	case []any:
		return p.receiveBatch(ctx, t)
	default:
		return jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewParseError("message must be an object or an array"))
	}
}

// receiveBatch dispatches every element concurrently. Replies are appended in
// completion order; callers correlate them by id.
func (p *Peer) receiveBatch(ctx context.Context, elems []any) jsonrpc.Message {
	if len(elems) == 0 {
		return jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewParseError("empty batch"))
	}
	objs := make([]map[string]any, len(elems))
	for i, el := range elems {
		obj, ok := el.(map[string]any)
		if !ok {
			return jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewParseError(fmt.Sprintf("batch element %d is not an object", i)))
		}
		objs[i] = obj
	}

	var (
		mu      sync.Mutex
		replies jsonrpc.BatchReply
		g       errgroup.Group
	)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for _, obj := range objs {
		obj := obj
		g.Go(func() error {
			if r := p.receiveOne(ctx, obj); r != nil {
				mu.Lock()
				replies = append(replies, r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(replies) == 0 {
		return nil
	}
	return replies
}

// receiveOne classifies and dispatches one decoded object. Panics are caught
// here as well because batch elements run on their own goroutines.
func (p *Peer) receiveOne(ctx context.Context, obj map[string]any) (reply jsonrpc.Reply) {
	id, _ := jsonrpc.ParseID(obj["id"])
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "rpc dispatch panic", "rpc_id", id.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if _, isCall := obj["id"]; isCall {
				reply = jsonrpc.NewErrorResponse(id, jsonrpc.NewInternalError(nil))
			} else {
				reply = nil
			}
		}
	}()

	msg, invalid := jsonrpc.Classify(obj)
	if invalid != nil {
		p.logger.WarnContext(ctx, "rpc invalid request", "rpc_id", invalid.ID.String(), "reason", invalid.Error.Data)
		return invalid
	}

	if !p.limiter.allow(remoteFrom(ctx), time.Now()) {
		switch m := msg.(type) {
		case *jsonrpc.Request:
			p.logger.WarnContext(ctx, "rpc rate limited", "method", m.Method, "rpc_id", m.ID.String())
			return jsonrpc.NewErrorResponse(m.ID, jsonrpc.NewServerError(jsonrpc.CodeRateLimited, "rate limited", nil))
		case *jsonrpc.Notification:
			p.logger.WarnContext(ctx, "rpc notification dropped by rate limit", "method", m.Method)
			return nil
		}
	}

	switch m := msg.(type) {
	case *jsonrpc.Request:
		return p.serveRequest(ctx, m)
	case *jsonrpc.Notification:
		p.serveNotification(ctx, m)
	}
	return nil
}

func (p *Peer) serveRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Reply {
	started := time.Now()
	ctx, done := p.telemetry.TrackOperation(ctx, "duplex.receive_request", attribute.String("method", req.Method))
	p.logger.DebugContext(ctx, "rpc request", "method", req.Method, "rpc_id", req.ID.String())

	reply := p.dispatchRequest(ctx, req)
	if rpcErr := jsonrpc.ErrorOf(reply); rpcErr != nil {
		code := jsonrpc.CodeName(rpcErr.Code)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("rpc.code", rpcErr.Code), attribute.String("rpc.error", code))
		done(rpcErr)
		p.logger.InfoContext(ctx, "rpc failed", "method", req.Method, "rpc_id", req.ID.String(), "rpc_code", rpcErr.Code, "rpc_error", code, "latency_ms", time.Since(started).Milliseconds())
	} else {
		done(nil)
		p.logger.DebugContext(ctx, "rpc response", "method", req.Method, "rpc_id", req.ID.String(), "latency_ms", time.Since(started).Milliseconds())
	}
	return reply
}

func (p *Peer) dispatchRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Reply {
	spec, ok := p.env.LookupSpec(req.Method)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewMethodNotFound(req.Method))
	}
	if spec.Kind != action.KindRequestResponse {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewInvalidRequest(fmt.Sprintf("%s is a %s action and takes no id", req.Method, spec.Kind)))
	}

	ev, err := action.NewInbound(p.env, spec, paramsInput(req.Params))
	if errors.Is(err, action.ErrCannotReceive) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewMethodNotFound(req.Method))
	}
	if err != nil {
		return p.internalFailure(ctx, req, err)
	}
	p.attach(ev)

	steps := []func() error{
		func() error { return ev.SetRequest(req) },
		ev.Parse,
		func() error { return ev.Handle(ctx) },
	}
	if err := run(ev, steps); err != nil {
		return p.internalFailure(ctx, req, err)
	}
	if ev.Step() == action.StepFailed {
		return jsonrpc.NewErrorResponse(req.ID, ev.Err())
	}

	steps = []func() error{
		func() error { return ev.Transition(action.PhaseSendResponse) },
		ev.Parse,
		func() error { return ev.Handle(ctx) },
	}
	if err := run(ev, steps); err != nil {
		return p.internalFailure(ctx, req, err)
	}
	if ev.Step() == action.StepFailed {
		return jsonrpc.NewErrorResponse(req.ID, ev.Err())
	}
	if reply := ev.Response(); reply != nil && ev.IsComplete() {
		return reply
	}
	p.logger.ErrorContext(ctx, "rpc request produced no response", "method", req.Method, "rpc_id", req.ID.String(), "phase", ev.Phase(), "step", ev.Step())
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewInternalError(nil))
}

// run executes steps in order, stopping early once the event has failed.
func run(ev *action.Event, steps []func() error) error {
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

func (p *Peer) internalFailure(ctx context.Context, req *jsonrpc.Request, err error) jsonrpc.Reply {
	p.logger.ErrorContext(ctx, "rpc dispatch error", "method", req.Method, "rpc_id", req.ID.String(), "error", err)
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewInternalError(nil))
}

func (p *Peer) serveNotification(ctx context.Context, n *jsonrpc.Notification) {
	ctx, done := p.telemetry.TrackOperation(ctx, "duplex.receive_notification", attribute.String("method", n.Method))
	err := p.dispatchNotification(ctx, n)
	done(err)
	if err != nil {
		p.logger.WarnContext(ctx, "rpc notification failed", "method", n.Method, "error", err)
	}
}

func (p *Peer) dispatchNotification(ctx context.Context, n *jsonrpc.Notification) error {
	spec, ok := p.env.LookupSpec(n.Method)
	if !ok {
		return jsonrpc.NewMethodNotFound(n.Method)
	}
	if spec.Kind != action.KindRemoteNotification {
		return jsonrpc.NewInvalidRequest(fmt.Sprintf("%s is a %s action and needs an id", n.Method, spec.Kind))
	}
	ev, err := action.NewInbound(p.env, spec, paramsInput(n.Params))
	if errors.Is(err, action.ErrCannotReceive) {
		return jsonrpc.NewMethodNotFound(n.Method)
	}
	if err != nil {
		return err
	}
	p.attach(ev)

	steps := []func() error{
		func() error { return ev.SetNotification(n) },
		ev.Parse,
		func() error { return ev.Handle(ctx) },
	}
	if err := run(ev, steps); err != nil {
		return err
	}
	if failure := ev.Err(); failure != nil {
		return failure
	}
	return nil
}

func (p *Peer) attach(ev *action.Event) {
	for _, fn := range p.observers {
		ev.Observe(fn)
	}
}

// paramsInput keeps absent params absent instead of a typed nil map.
func paramsInput(params map[string]any) any {
	if params == nil {
		return nil
	}
	return params
}
