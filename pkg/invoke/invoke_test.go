package invoke_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/environment"
	"github.com/Mindburn-Labs/duplex/pkg/invoke"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/peer"
	"github.com/Mindburn-Labs/duplex/pkg/registry"
	"github.com/Mindburn-Labs/duplex/pkg/schema"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pair struct {
	front *environment.Frontend
	back  *environment.Backend
}

func newPair(t *testing.T) pair {
	t.Helper()
	itemIn, err := schema.Compile("get_item.input", `{"type":"object","required":["id"],"properties":{"id":{"type":"string"}}}`)
	require.NoError(t, err)
	itemOut, err := schema.Compile("get_item.output", `{"type":"object","required":["id","name"]}`)
	require.NoError(t, err)

	specs := registry.NewSpecs()
	for _, s := range []action.Spec{
		{Method: "get_item", Kind: action.KindRequestResponse, Initiator: action.InitiatorFrontend, Input: itemIn, Output: schema.Of[item](itemOut)},
		{Method: "lookup", Kind: action.KindRequestResponse, Initiator: action.InitiatorFrontend},
		{Method: "log_line", Kind: action.KindRemoteNotification, Initiator: action.InitiatorFrontend},
		{Method: "ping", Kind: action.KindLocalCall, Initiator: action.InitiatorBoth},
		{Method: "reindex", Kind: action.KindLocalCall, Initiator: action.InitiatorFrontend, Async: true},
	} {
		require.NoError(t, specs.Register(s))
	}

	back := environment.NewBackend(specs, registry.NewHandlers())
	front := environment.NewFrontend(specs, registry.NewHandlers(), peer.NewLoopback(back.Peer()))
	return pair{front: front, back: back}
}

func handle(t *testing.T, h *registry.Handlers, method string, phase action.Phase, fn action.Handler) {
	t.Helper()
	require.NoError(t, h.Handle(method, phase, fn))
}

func TestRequest_TypedRoundTrip(t *testing.T) {
	p := newPair(t)
	handle(t, p.back.Handlers(), "get_item", action.PhaseReceiveRequest, func(ctx context.Context, ev *action.Event) (any, error) {
		in := ev.Input().(map[string]any)
		return item{ID: in["id"].(string), Name: "widget"}, nil
	})
	var sawReply bool
	handle(t, p.front.Handlers(), "get_item", action.PhaseReceiveResponse, func(ctx context.Context, ev *action.Event) (any, error) {
		sawReply = true
		return nil, nil
	})

	ev, err := invoke.Request(context.Background(), p.front, p.front, "get_item", map[string]any{"id": "7"})
	require.NoError(t, err)
	assert.True(t, ev.IsComplete())
	assert.Equal(t, action.PhaseReceiveResponse, ev.Phase())
	assert.Equal(t, item{ID: "7", Name: "widget"}, ev.Output())
	assert.True(t, sawReply)
}

func TestRequest_DefaultResult(t *testing.T) {
	p := newPair(t)

	ev, err := invoke.Request(context.Background(), p.front, p.front, "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, ev.Output())
	assert.Equal(t, map[string]any{}, jsonrpc.ResultOf(ev.Response()))
}

func TestRequest_RemoteFailure(t *testing.T) {
	p := newPair(t)
	handle(t, p.back.Handlers(), "lookup", action.PhaseReceiveRequest, func(ctx context.Context, ev *action.Event) (any, error) {
		return nil, errors.New("index offline")
	})

	ev, err := invoke.Request(context.Background(), p.front, p.front, "lookup", nil)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeInternalError, rpcErr.Code)
	assert.Equal(t, "index offline", rpcErr.Message)
	assert.Equal(t, action.StepFailed, ev.Step())
	assert.Equal(t, action.PhaseReceiveResponse, ev.Phase())
}

func TestRequest_InvalidInputNeverSent(t *testing.T) {
	p := newPair(t)
	sent := 0
	sender := peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		sent++
		return nil, nil
	})

	ev, err := invoke.Request(context.Background(), p.front, sender, "get_item", map[string]any{"name": "no id"})
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
	assert.Equal(t, action.PhaseSendRequest, ev.Phase())
	assert.Zero(t, sent)
}

func TestRequest_TransportFailures(t *testing.T) {
	p := newPair(t)

	broken := peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		return nil, errors.New("socket closed")
	})
	_, err := invoke.Request(context.Background(), p.front, broken, "lookup", nil)
	assert.ErrorContains(t, err, "socket closed")

	silent := peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		return nil, nil
	})
	_, err = invoke.Request(context.Background(), p.front, silent, "lookup", nil)
	assert.Error(t, err)

	unreadable := peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		return jsonrpc.NewErrorResponse(jsonrpc.NullID, jsonrpc.NewParseError(nil)), nil
	})
	_, err = invoke.Request(context.Background(), p.front, unreadable, "lookup", nil)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeParseError, rpcErr.Code)

	stray := peer.TransportFunc(func(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
		return jsonrpc.NewResponse(jsonrpc.StringID("someone-else"), nil)
	})
	_, err = invoke.Request(context.Background(), p.front, stray, "lookup", nil)
	assert.ErrorContains(t, err, "does not match")
}

func TestNotify(t *testing.T) {
	p := newPair(t)
	var got any
	handle(t, p.back.Handlers(), "log_line", action.PhaseReceive, func(ctx context.Context, ev *action.Event) (any, error) {
		got = ev.Input()
		return nil, nil
	})

	ev, err := invoke.Notify(context.Background(), p.front, p.front, "log_line", map[string]any{"line": "ready"})
	require.NoError(t, err)
	assert.True(t, ev.IsComplete())
	assert.Equal(t, "log_line", ev.Notification().Method)
	assert.Equal(t, map[string]any{"line": "ready"}, got)
}

func TestLocal(t *testing.T) {
	p := newPair(t)
	handle(t, p.front.Handlers(), "ping", action.PhaseExecute, func(ctx context.Context, ev *action.Event) (any, error) {
		return "pong", nil
	})
	handle(t, p.front.Handlers(), "reindex", action.PhaseExecute, func(ctx context.Context, ev *action.Event) (any, error) {
		return map[string]any{"indexed": 3}, nil
	})

	ev, err := invoke.LocalSync(p.front, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", ev.Output())

	ev, err = invoke.Local(context.Background(), p.front, "reindex", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"indexed": 3}, ev.Output())

	_, err = invoke.LocalSync(p.front, "reindex", nil)
	assert.True(t, action.IsUsageError(err), "async calls cannot run synchronously: %v", err)
}

func TestInvoke_Misuse(t *testing.T) {
	p := newPair(t)

	_, err := invoke.Request(context.Background(), p.front, p.front, "nope", nil)
	assert.ErrorIs(t, err, action.ErrUnknownAction)

	_, err = invoke.Request(context.Background(), p.front, p.front, "ping", nil)
	assert.True(t, action.IsUsageError(err))

	_, err = invoke.Notify(context.Background(), p.front, p.front, "lookup", nil)
	assert.True(t, action.IsUsageError(err))

	_, err = invoke.Request(context.Background(), p.back, p.back, "lookup", nil)
	assert.ErrorIs(t, err, action.ErrCannotInitiate)
}

func TestInvoke_Observers(t *testing.T) {
	p := newPair(t)
	var changes []action.Change

	_, err := invoke.Request(context.Background(), p.front, p.front, "lookup", nil,
		invoke.WithObserver(func(c action.Change) { changes = append(changes, c) }))
	require.NoError(t, err)

	require.NotEmpty(t, changes)
	assert.Equal(t, action.PhaseSendRequest, changes[0].Prev.Phase())
	last := changes[len(changes)-1].Next
	assert.Equal(t, action.PhaseReceiveResponse, last.Phase())
	assert.Equal(t, action.StepHandled, last.Step())
}
