package environment

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/peer"
	"github.com/Mindburn-Labs/duplex/pkg/registry"
)

func TestNarrowing(t *testing.T) {
	front := NewFrontend(nil, nil, nil)
	back := NewBackend(nil, nil)

	assert.Equal(t, action.SideFrontend, front.Side())
	assert.Equal(t, action.SideBackend, back.Side())

	f, ok := AsFrontend(front)
	assert.True(t, ok)
	assert.Same(t, front, f)
	_, ok = AsFrontend(back)
	assert.False(t, ok)

	b, ok := AsBackend(back)
	assert.True(t, ok)
	assert.Same(t, back, b)
	_, ok = AsBackend(front)
	assert.False(t, ok)

	assert.NotNil(t, front.Specs())
	assert.NotNil(t, back.Handlers())
}

func TestOf(t *testing.T) {
	specs := registry.NewSpecs()
	require.NoError(t, specs.Register(action.Spec{Method: "read_file", Kind: action.KindLocalCall, Initiator: action.InitiatorBackend}))

	fsys := fstest.MapFS{"notes/today.txt": {Data: []byte("ship it")}}
	handlers := registry.NewHandlers()
	require.NoError(t, handlers.Handle("read_file", action.PhaseExecute, func(ctx context.Context, ev *action.Event) (any, error) {
		env, ok := Of(ev)
		if !ok {
			return nil, assert.AnError
		}
		back, ok := AsBackend(env)
		if !ok {
			return nil, assert.AnError
		}
		data, err := fs.ReadFile(back.FS(), "notes/today.txt")
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": string(data)}, nil
	}))

	back := NewBackend(specs, handlers, WithFS(fsys))
	ev, err := action.New(back, "read_file", nil)
	require.NoError(t, err)
	require.NoError(t, ev.Parse())
	require.NoError(t, ev.Handle(context.Background()))

	assert.Equal(t, action.StepHandled, ev.Step())
	assert.Equal(t, map[string]any{"text": "ship it"}, ev.Output())

	_, err = action.New(NewFrontend(specs, handlers, nil), "read_file", nil)
	assert.ErrorIs(t, err, action.ErrCannotInitiate)
}

type fakeEnv struct{ action.Env }

func TestOf_ForeignEnv(t *testing.T) {
	_, ok := AsBackend(fakeEnv{})
	assert.False(t, ok)
	_, ok = AsFrontend(fakeEnv{})
	assert.False(t, ok)
}

func TestFrontendSend(t *testing.T) {
	front := NewFrontend(nil, nil, nil)
	n := &jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: "noop"}

	_, err := front.Send(context.Background(), n)
	assert.ErrorIs(t, err, peer.ErrNoTransport)

	var seen jsonrpc.Message
	front.SetTransport(peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		seen = msg
		return nil, nil
	}))
	require.NotNil(t, front.Transport())
	_, err = front.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Same(t, n, seen)
}

func TestBackendReceive(t *testing.T) {
	specs := registry.NewSpecs()
	require.NoError(t, specs.Register(action.Spec{Method: "status", Kind: action.KindRequestResponse, Initiator: action.InitiatorFrontend}))
	back := NewBackend(specs, nil)
	require.NotNil(t, back.Peer())
	assert.Nil(t, back.FS())

	reply := back.Receive(context.Background(), []byte(`{"jsonrpc":"2.0","id":"s","method":"status"}`))
	resp, ok := reply.(*jsonrpc.Response)
	require.True(t, ok, "got %T", reply)
	assert.Equal(t, jsonrpc.StringID("s"), resp.ID)

	_, err := back.Send(context.Background(), &jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: "status"})
	assert.ErrorIs(t, err, peer.ErrNoTransport)
}
