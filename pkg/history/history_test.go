package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/environment"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/peer"
	"github.com/Mindburn-Labs/duplex/pkg/registry"
)

func testSpecs(t *testing.T) *registry.Specs {
	t.Helper()
	specs := registry.NewSpecs()
	require.NoError(t, specs.Register(action.Spec{Method: "ping", Kind: action.KindLocalCall, Initiator: action.InitiatorBoth}))
	require.NoError(t, specs.Register(action.Spec{Method: "get_item", Kind: action.KindRequestResponse, Initiator: action.InitiatorFrontend}))
	return specs
}

func runPing(t *testing.T, rec *Recorder) *action.Event {
	t.Helper()
	env := environment.NewFrontend(testSpecs(t), nil, nil)
	ev, err := action.New(env, "ping", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	rec.Track(ev)
	require.NoError(t, ev.Parse())
	require.NoError(t, ev.Handle(context.Background()))
	return ev
}

func TestRecorder_Track(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ev := runPing(t, rec)

	entries, err := store.List(context.Background(), ev.ID())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	steps := []action.Step{action.StepParsed, action.StepHandling, action.StepHandled}
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "ping", e.Method)
		assert.Equal(t, action.PhaseExecute, e.ToPhase)
		assert.Equal(t, steps[i], e.ToStep)
		assert.Equal(t, steps[i], e.Snapshot.Step)
		assert.False(t, e.RecordedAt.IsZero())
	}
	assert.Equal(t, action.StepInitial, entries[0].FromStep)
	assert.Empty(t, rec.seq, "completed events are forgotten")

	_, err = store.List(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{ev.ID()}, store.Events())
}

type failingStore struct{ calls int }

func (f *failingStore) Append(context.Context, Entry) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) List(context.Context, string) ([]Entry, error) {
	return nil, ErrNotFound
}

func TestRecorder_StoreFailureDoesNotReachEvent(t *testing.T) {
	store := &failingStore{}
	ev := runPing(t, NewRecorder(store))

	assert.Equal(t, action.StepHandled, ev.Step())
	assert.Nil(t, ev.Err())
	assert.Equal(t, 3, store.calls)
}

func TestRecorder_PeerObserver(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	back := environment.NewBackend(testSpecs(t), nil, environment.WithPeerOptions(peer.WithObserver(rec.Observer())))

	reply := back.Receive(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"get_item","params":{"id":"a"}}`))
	require.IsType(t, &jsonrpc.Response{}, reply)

	ids := store.Events()
	require.Len(t, ids, 1)
	entries, err := store.List(context.Background(), ids[0])
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, action.PhaseSendResponse, last.ToPhase)
	assert.Equal(t, action.StepHandled, last.ToStep)
	require.NotNil(t, last.Snapshot.Response)
	assert.Equal(t, jsonrpc.NumberID(1), last.Snapshot.Response.ReplyID())
}

func testEntry() Entry {
	return Entry{
		EventID:   "ev-1",
		Method:    "ping",
		Seq:       1,
		FromPhase: action.PhaseExecute,
		FromStep:  action.StepInitial,
		ToPhase:   action.PhaseExecute,
		ToStep:    action.StepParsed,
		Snapshot: action.Snapshot{
			ID:       "ev-1",
			Method:   "ping",
			Kind:     action.KindLocalCall,
			Phase:    action.PhaseExecute,
			Step:     action.StepParsed,
			Executor: action.SideFrontend,
			Input:    map[string]any{"msg": "hi"},
		},
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLStore_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS event_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewSQLStore(context.Background(), db, DialectPostgres)
	require.NoError(t, err)

	e := testEntry()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_history (event_id, seq, method, from_phase, from_step, to_phase, to_step, snapshot, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)")).
		WithArgs("ev-1", 1, "ping", "execute", "initial", "execute", "parsed", sqlmock.AnyArg(), "2026-03-01T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Append(context.Background(), e))

	rows := sqlmock.NewRows([]string{"event_id", "seq", "method", "from_phase", "from_step", "to_phase", "to_step", "snapshot", "recorded_at"}).
		AddRow("ev-1", 1, "ping", "execute", "initial", "execute", "parsed",
			`{"id":"ev-1","method":"ping","kind":"local_call","phase":"execute","step":"parsed","executor":"frontend","input":{"msg":"hi"}}`,
			"2026-03-01T12:00:00Z")
	mock.ExpectQuery(regexp.QuoteMeta("FROM event_history WHERE event_id = $1 ORDER BY seq")).
		WithArgs("ev-1").
		WillReturnRows(rows)

	got, err := store.List(context.Background(), "ev-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_history")).
		WillReturnError(errors.New("connection refused"))
	assert.ErrorContains(t, store.Append(context.Background(), e), "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RejectsDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(context.Background(), db, Dialect("mysql"))
	assert.Error(t, err)
}

func TestSQLStore_SQLite(t *testing.T) {
	store, closeFn, err := Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	ctx := context.Background()
	_, err = store.List(ctx, "ev-1")
	assert.ErrorIs(t, err, ErrNotFound)

	second := testEntry()
	second.Seq = 2
	second.FromStep, second.ToStep = action.StepParsed, action.StepHandling
	second.Snapshot.Step = action.StepHandling
	require.NoError(t, store.Append(ctx, second))
	require.NoError(t, store.Append(ctx, testEntry()))
	assert.Error(t, store.Append(ctx, testEntry()), "event id and seq are unique")

	got, err := store.List(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, testEntry(), got[0])
	assert.Equal(t, action.StepHandling, got[1].ToStep)
}

func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	prefix := "duplex:test:" + time.Now().Format("150405.000000") + ":"
	store := NewRedisStore(client, WithPrefix(prefix), WithTTL(time.Minute))
	defer client.Del(ctx, prefix+"ev-1")

	require.NoError(t, store.Append(ctx, testEntry()))
	got, err := store.List(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testEntry(), got[0])

	_, err = store.List(ctx, "ev-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	store, closeFn, err := Open(context.Background(), "memory")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, closeFn())

	_, _, err = Open(context.Background(), "mongodb://localhost")
	assert.Error(t, err)
}

func TestRecorder_RestoredEventContinuesSequence(t *testing.T) {
	store, closeFn, err := Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	env := environment.NewFrontend(testSpecs(t), nil, nil)
	ev, err := action.New(env, "ping", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	NewRecorder(store).Track(ev)
	require.NoError(t, ev.Parse())

	data, err := ev.MarshalJSON()
	require.NoError(t, err)
	restored, err := action.Restore(env, data)
	require.NoError(t, err)
	require.Equal(t, ev.ID(), restored.ID())

	NewRecorder(store).Track(restored)
	require.NoError(t, restored.Handle(context.Background()))

	entries, err := store.List(context.Background(), ev.ID())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.Equal(t, action.StepHandled, entries[2].ToStep)
}
