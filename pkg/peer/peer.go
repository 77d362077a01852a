// Package peer mediates between an endpoint's actions and the wire: Send
// hands outbound messages to a transport, Receive decodes and dispatches
// inbound traffic with JSON-RPC semantics.
package peer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/observability"
)

// Peer is safe for concurrent use once constructed.
type Peer struct {
	env         action.Env
	transport   Transport
	concurrency int
	limiter     *ingressLimiter
	observers   []action.Observer
	telemetry   *observability.Provider
	logger      *slog.Logger
}

type Option func(*Peer)

// WithTransport sets the outbound transport. Without one the peer can still
// serve Receive.
func WithTransport(t Transport) Option {
	return func(p *Peer) { p.transport = t }
}

// WithMaxConcurrency bounds how many batch elements are dispatched at once.
// Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(p *Peer) { p.concurrency = n }
}

// WithRateLimit limits inbound messages per remote. Rejected requests are
// answered with CodeRateLimited; rejected notifications are dropped.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Peer) { p.limiter = newIngressLimiter(rps, burst) }
}

// WithObserver attaches fn to every event the peer creates for inbound
// traffic.
func WithObserver(fn action.Observer) Option {
	return func(p *Peer) {
		if fn != nil {
			p.observers = append(p.observers, fn)
		}
	}
}

func WithTelemetry(t *observability.Provider) Option {
	return func(p *Peer) { p.telemetry = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Peer) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(env action.Env, opts ...Option) *Peer {
	p := &Peer{
		env:    env,
		logger: slog.Default().With("component", "peer", "side", string(env.Side())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Peer) Env() action.Env { return p.env }

// HasTransport reports whether Send can deliver anything.
func (p *Peer) HasTransport() bool { return p.transport != nil }

// Send delivers msg through the transport. Requests return their reply,
// notifications return nil and batches return the batch reply.
func (p *Peer) Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	if p.transport == nil {
		return nil, ErrNoTransport
	}
	ctx, done := p.telemetry.TrackOperation(ctx, "duplex.send", attribute.String("message", messageLabel(msg)))
	reply, err := p.send(ctx, msg)
	done(err)
	return reply, err
}

func (p *Peer) send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	reply, err := p.transport.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("peer: send: %w", err)
	}
	switch m := msg.(type) {
	case *jsonrpc.Notification:
		return nil, nil
	case *jsonrpc.Request:
		r, ok := reply.(jsonrpc.Reply)
		if !ok || r == nil {
			return nil, fmt.Errorf("peer: request %s got no reply", m.ID)
		}
		if r.ReplyID() != m.ID && !r.ReplyID().IsNull() {
			return nil, fmt.Errorf("peer: reply id %s does not match request id %s", r.ReplyID(), m.ID)
		}
		return r, nil
	case jsonrpc.Batch:
		if reply == nil {
			return nil, nil
		}
		switch r := reply.(type) {
		case jsonrpc.BatchReply:
			return r, nil
		case jsonrpc.Reply:
			// a single error answers a batch the other side could not parse
			return r, nil
		}
		return nil, fmt.Errorf("peer: unexpected batch reply %T", reply)
	}
	return nil, fmt.Errorf("peer: cannot send %T", msg)
}

func messageLabel(msg jsonrpc.Message) string {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		return m.Method
	case *jsonrpc.Notification:
		return m.Method
	case jsonrpc.Batch:
		return "batch"
	}
	return fmt.Sprintf("%T", msg)
}
