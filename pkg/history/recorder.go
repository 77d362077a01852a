// Package history records every state replacement of observed events into a
// Store, keyed by event id.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/duplex/pkg/action"
)

// ErrNotFound is returned by stores when an event has no entries.
var ErrNotFound = errors.New("history: no entries for event")

// Entry is one recorded transition.
type Entry struct {
	EventID    string          `json:"event_id"`
	Method     string          `json:"method"`
	Seq        int             `json:"seq"`
	FromPhase  action.Phase    `json:"from_phase"`
	FromStep   action.Step     `json:"from_step"`
	ToPhase    action.Phase    `json:"to_phase"`
	ToStep     action.Step     `json:"to_step"`
	Snapshot   action.Snapshot `json:"snapshot"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store persists entries. List returns entries in Seq order.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, eventID string) ([]Entry, error)
}

// Recorder turns event changes into entries. Store failures are logged and
// never reach the event.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq map[string]int
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: slog.Default().With("component", "history"),
		now:    time.Now,
		seq:    make(map[string]int),
	}
}

// Observer returns the callback to attach to events, directly or through a
// peer option.
func (r *Recorder) Observer() action.Observer {
	return r.record
}

// Track attaches the recorder to ev.
func (r *Recorder) Track(ev *action.Event) (unsubscribe func()) {
	return ev.Observe(r.record)
}

func (r *Recorder) record(c action.Change) {
	ctx := context.Background()
	ev := c.Event
	entry := Entry{
		EventID:    ev.ID(),
		Method:     ev.Method(),
		Seq:        r.next(ctx, ev.ID(), ev.IsComplete()),
		FromPhase:  c.Prev.Phase(),
		FromStep:   c.Prev.Step(),
		ToPhase:    c.Next.Phase(),
		ToStep:     c.Next.Step(),
		Snapshot:   ev.Snapshot(),
		RecordedAt: r.now().UTC(),
	}
	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error("history append failed", "event_id", entry.EventID, "method", entry.Method, "seq", entry.Seq, "error", err)
	}
}

// next hands out per-event sequence numbers and forgets completed events.
// An id seen for the first time continues after the last stored entry, so a
// restored event appends to its existing history.
func (r *Recorder) next(ctx context.Context, eventID string, complete bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.seq[eventID]
	if !ok {
		last = r.lastStored(ctx, eventID)
	}
	n := last + 1
	if complete {
		delete(r.seq, eventID)
	} else {
		r.seq[eventID] = n
	}
	return n
}

func (r *Recorder) lastStored(ctx context.Context, eventID string) int {
	entries, err := r.store.List(ctx, eventID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("history lookup failed", "event_id", eventID, "error", err)
		}
		return 0
	}
	last := 0
	for _, e := range entries {
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last
}
