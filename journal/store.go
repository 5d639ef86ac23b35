// ════════════════════════════════════════════════════════════════════════════════════════════════
// Scheduler Event Journal
// Component: sqlite store and JSON export
//
// Description:
//   Persists scheduler events for post-mortem inspection. One table, one row per handled
//   scheduling item. Inserts are batched in a single transaction by the flusher goroutine.
//
// Notes:
//   - ":memory:" is accepted; the pool is pinned to one connection so every statement sees
//     the same in-memory database.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package journal

import (
	"database/sql"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"
)

// Event is one handled scheduling item.
type Event struct {
	Tick    uint64 `json:"tick"`
	Queued  uint64 `json:"queued"`
	Core    int    `json:"core"`
	Kind    string `json:"kind"`
	Thread  uint32 `json:"thread,omitempty"`
	Process uint32 `json:"process,omitempty"`
	Status  string `json:"status"`
}

// KindCount is one row of Store.Summary.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	tick    INTEGER NOT NULL,
	queued  INTEGER NOT NULL,
	core    INTEGER NOT NULL,
	kind    TEXT    NOT NULL,
	thread  INTEGER NOT NULL,
	process INTEGER NOT NULL,
	status  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

const insertEvent = `INSERT INTO events (tick, queued, core, kind, thread, process, status) VALUES (?, ?, ?, ?, ?, ?, ?)`

// Store wraps the journal database.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenStore opens (or creates) the journal database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	insert, err := db.Prepare(insertEvent)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: prepare insert: %w", err)
	}
	return &Store{db: db, insert: insert}, nil
}

// Append writes a batch in one transaction.
func (s *Store) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	stmt := tx.Stmt(s.insert)
	for i := range events {
		ev := &events[i]
		if _, err := stmt.Exec(ev.Tick, ev.Queued, ev.Core, ev.Kind, ev.Thread, ev.Process, ev.Status); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}

// Count returns the number of stored events.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

// Summary returns per-kind event counts ordered by kind.
func (s *Store) Summary() ([]KindCount, error) {
	rows, err := s.db.Query("SELECT kind, COUNT(*) FROM events GROUP BY kind ORDER BY kind")
	if err != nil {
		return nil, fmt.Errorf("journal: summary: %w", err)
	}
	defer rows.Close()

	var out []KindCount
	for rows.Next() {
		var kc KindCount
		if err := rows.Scan(&kc.Kind, &kc.Count); err != nil {
			return nil, fmt.Errorf("journal: summary scan: %w", err)
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// Events returns up to limit events in insertion order. limit <= 0 returns all.
func (s *Store) Events(limit int) ([]Event, error) {
	query := "SELECT tick, queued, core, kind, thread, process, status FROM events ORDER BY id"
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Tick, &ev.Queued, &ev.Core, &ev.Kind, &ev.Thread, &ev.Process, &ev.Status); err != nil {
			return nil, fmt.Errorf("journal: events scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ExportJSON writes up to limit events as a JSON array.
func (s *Store) ExportJSON(w io.Writer, limit int) error {
	events, err := s.Events(limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []Event{}
	}
	data, err := sonnet.Marshal(events)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("journal: export: %w", err)
	}
	return nil
}

// Close releases the prepared statement and the database.
func (s *Store) Close() error {
	s.insert.Close()
	return s.db.Close()
}
