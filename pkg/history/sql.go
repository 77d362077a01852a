package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/duplex/pkg/action"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const historyTable = `
CREATE TABLE IF NOT EXISTS event_history (
	event_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	method TEXT NOT NULL,
	from_phase TEXT NOT NULL,
	from_step TEXT NOT NULL,
	to_phase TEXT NOT NULL,
	to_step TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (event_id, seq)
);`

// SQLStore keeps entries in a relational table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps db and creates the history table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("history: unsupported dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, historyTable); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	snap, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("history: encode snapshot: %w", err)
	}
	query := s.bind(`INSERT INTO event_history (event_id, seq, method, from_phase, from_step, to_phase, to_step, snapshot, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		e.EventID, e.Seq, e.Method,
		string(e.FromPhase), string(e.FromStep), string(e.ToPhase), string(e.ToStep),
		string(snap), e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, eventID string) ([]Entry, error) {
	query := s.bind(`SELECT event_id, seq, method, from_phase, from_step, to_phase, to_step, snapshot, recorded_at FROM event_history WHERE event_id = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e                                    Entry
			fromPhase, fromStep, toPhase, toStep string
			snap, recordedAt                     string
		)
		if err := rows.Scan(&e.EventID, &e.Seq, &e.Method, &fromPhase, &fromStep, &toPhase, &toStep, &snap, &recordedAt); err != nil {
			return nil, err
		}
		e.FromPhase, e.FromStep = action.Phase(fromPhase), action.Step(fromStep)
		e.ToPhase, e.ToStep = action.Phase(toPhase), action.Step(toStep)
		if err := json.Unmarshal([]byte(snap), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("history: decode snapshot %s/%d: %w", e.EventID, e.Seq, err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}
