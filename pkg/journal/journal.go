// Package journal persists protocol events to SQLite for post-hoc
// verification. Ordered by merged Lamport timestamps, the event log is
// enough to prove mutual exclusion: between one node's acquire and
// release no other node may acquire.
//
// The journal is observability only. Protocol state is never read back
// from it; a node restarting starts from a fresh RELEASED state.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one row of the protocol event log.
type Event struct {
	ID        int64
	NodeID    uint64
	Timestamp uint64
	Sequence  uint64
	Kind      string
	Detail    string
	CreatedAt string
}

// Store manages the SQLite event log with WAL mode for concurrent
// access (multiple local nodes may share one journal file in tests and
// demos).
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id    INTEGER NOT NULL,
		lamport_ts INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		detail     TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_lamport ON events(lamport_ts, node_id);
	CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id, lamport_ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends an event to the log. Satisfies mutex.EventRecorder.
func (s *Store) Record(nodeID, ts, seq uint64, kind, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`INSERT INTO events (node_id, lamport_ts, seq, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nodeID, ts, seq, kind, detail, now,
	)
	return err
}

// Events returns the full log ordered by (lamport_ts, node_id), the
// same total order the protocol admits nodes in.
func (s *Store) Events() ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, node_id, lamport_ts, seq, kind, detail, created_at
		 FROM events ORDER BY lamport_ts, node_id, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Timestamp, &e.Sequence, &e.Kind, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the total number of events in the log.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// VerifyExclusive scans acquire/release events in Lamport order and
// returns an error on the first overlap: an acquire while another node
// still holds, a release without a matching acquire, or a release by
// the wrong node.
func VerifyExclusive(events []Event) error {
	var holder *Event
	for i := range events {
		e := &events[i]
		switch e.Kind {
		case "acquire":
			if holder != nil {
				return fmt.Errorf("node %d acquired at ts %d while node %d held since ts %d",
					e.NodeID, e.Timestamp, holder.NodeID, holder.Timestamp)
			}
			holder = e
		case "release":
			if holder == nil {
				return fmt.Errorf("node %d released at ts %d without holding", e.NodeID, e.Timestamp)
			}
			if holder.NodeID != e.NodeID {
				return fmt.Errorf("node %d released at ts %d but node %d was holding",
					e.NodeID, e.Timestamp, holder.NodeID)
			}
			holder = nil
		}
	}
	return nil
}
