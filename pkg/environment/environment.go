// Package environment models the two endpoints an event can run on. Both
// sides look up specs and handlers; only the backend owns a peer and a
// filesystem. Callers narrow with AsFrontend / AsBackend instead of probing.
package environment

import (
	"context"
	"io/fs"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/peer"
	"github.com/Mindburn-Labs/duplex/pkg/registry"
)

// Environment is implemented by *Frontend and *Backend only.
type Environment interface {
	action.Env
	Specs() *registry.Specs
	Handlers() *registry.Handlers
	// Send delivers an outbound message to the other side.
	Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error)
	environment()
}

type tables struct {
	specs    *registry.Specs
	handlers *registry.Handlers
}

func newTables(specs *registry.Specs, handlers *registry.Handlers) tables {
	if specs == nil {
		specs = registry.NewSpecs()
	}
	if handlers == nil {
		handlers = registry.NewHandlers()
	}
	return tables{specs: specs, handlers: handlers}
}

func (t tables) Specs() *registry.Specs       { return t.specs }
func (t tables) Handlers() *registry.Handlers { return t.handlers }

func (t tables) LookupSpec(method string) (action.Spec, bool) {
	return t.specs.LookupSpec(method)
}

func (t tables) LookupHandler(method string, phase action.Phase) (action.Handler, bool) {
	return t.handlers.LookupHandler(method, phase)
}

// Frontend sends through a transport it is given.
type Frontend struct {
	tables
	transport peer.Transport
}

func NewFrontend(specs *registry.Specs, handlers *registry.Handlers, transport peer.Transport) *Frontend {
	return &Frontend{tables: newTables(specs, handlers), transport: transport}
}

func (*Frontend) Side() action.Side { return action.SideFrontend }
func (*Frontend) environment()      {}

func (f *Frontend) Transport() peer.Transport { return f.transport }

// SetTransport replaces the transport. Intended for wiring at startup, when
// the other side is constructed after this one.
func (f *Frontend) SetTransport(t peer.Transport) { f.transport = t }

func (f *Frontend) Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	if f.transport == nil {
		return nil, peer.ErrNoTransport
	}
	return f.transport.Send(ctx, msg)
}

// Backend owns the peer serving inbound traffic and the filesystem handlers
// operate on.
type Backend struct {
	tables
	peer *peer.Peer
	fsys fs.FS
}

type BackendOption func(*backendOptions)

type backendOptions struct {
	fsys     fs.FS
	peerOpts []peer.Option
}

// WithFS sets the filesystem exposed to backend handlers.
func WithFS(fsys fs.FS) BackendOption {
	return func(o *backendOptions) { o.fsys = fsys }
}

// WithPeerOptions configures the backend's peer.
func WithPeerOptions(opts ...peer.Option) BackendOption {
	return func(o *backendOptions) { o.peerOpts = append(o.peerOpts, opts...) }
}

func NewBackend(specs *registry.Specs, handlers *registry.Handlers, opts ...BackendOption) *Backend {
	var o backendOptions
	for _, opt := range opts {
		opt(&o)
	}
	b := &Backend{tables: newTables(specs, handlers), fsys: o.fsys}
	b.peer = peer.New(b, o.peerOpts...)
	return b
}

func (*Backend) Side() action.Side { return action.SideBackend }
func (*Backend) environment()      {}

func (b *Backend) Peer() *peer.Peer { return b.peer }

// FS returns the handler filesystem, or nil when none was configured.
func (b *Backend) FS() fs.FS { return b.fsys }

func (b *Backend) Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	return b.peer.Send(ctx, msg)
}

// Receive serves inbound wire traffic through the backend peer.
func (b *Backend) Receive(ctx context.Context, raw []byte) jsonrpc.Message {
	return b.peer.Receive(ctx, raw)
}

// AsFrontend narrows env to the frontend variant.
func AsFrontend(env action.Env) (*Frontend, bool) {
	switch e := env.(type) {
	case *Frontend:
		return e, true
	}
	return nil, false
}

// AsBackend narrows env to the backend variant.
func AsBackend(env action.Env) (*Backend, bool) {
	switch e := env.(type) {
	case *Backend:
		return e, true
	}
	return nil, false
}

// Of returns the Environment an event runs in, if it is one of ours.
func Of(ev *action.Event) (Environment, bool) {
	switch e := ev.Env().(type) {
	case *Frontend:
		return e, true
	case *Backend:
		return e, true
	}
	return nil, false
}
