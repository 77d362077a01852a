package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
)

var (
	ErrNoTransport      = errors.New("peer: no transport configured")
	ErrUnknownTransport = errors.New("peer: unknown transport")
)

// Transport carries an outbound message to the other side. For a request it
// returns the reply, for a batch the batch reply (nil when the batch held
// only notifications), and for a notification nil.
type Transport interface {
	Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error)

func (f TransportFunc) Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	return f(ctx, msg)
}

// Receiver is the ingress side of a peer.
type Receiver interface {
	Receive(ctx context.Context, raw []byte) jsonrpc.Message
}

// Loopback delivers messages to an in-process receiver through the full wire
// encoding, so both ends see exactly what a socket would carry.
type Loopback struct {
	Target Receiver
}

func NewLoopback(target Receiver) *Loopback {
	return &Loopback{Target: target}
}

func (l *Loopback) Send(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	if l.Target == nil {
		return nil, fmt.Errorf("loopback: no target")
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("loopback: encode: %w", err)
	}
	reply := l.Target.Receive(ctx, data)
	if reply == nil {
		return nil, nil
	}
	out, err := jsonrpc.Encode(reply)
	if err != nil {
		return nil, fmt.Errorf("loopback: encode reply: %w", err)
	}
	decoded, err := jsonrpc.DecodeReply(out)
	if err != nil {
		return nil, fmt.Errorf("loopback: decode reply: %w", err)
	}
	return decoded, nil
}

// TransportRegistry selects transports by name. It is filled at startup.
type TransportRegistry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{transports: make(map[string]Transport)}
}

func (r *TransportRegistry) Register(name string, t Transport) error {
	if name == "" || t == nil {
		return fmt.Errorf("peer: transport registration needs a name and a transport")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[name]; exists {
		return fmt.Errorf("peer: transport %q already registered", name)
	}
	r.transports[name] = t
	return nil
}

func (r *TransportRegistry) Lookup(name string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	return t, nil
}

func (r *TransportRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.transports))
	for n := range r.transports {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
