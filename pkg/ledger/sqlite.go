package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// SQLiteLog is the durable Ledger. Sequence assignment and chain linkage stay
// in process under a single mutex; SQLite provides durability and the query
// surface. A write failure is surfaced as contracts.ErrLedgerWrite, which the
// caller must treat as fatal to the decision being recorded.
type SQLiteLog struct {
	mu       sync.Mutex
	db       *sql.DB
	sequence uint64
	head     string
	clock    Clock
}

// NewSQLiteLog opens (and migrates) a ledger over the given database handle
// and restores the chain position from the last persisted event.
func NewSQLiteLog(db *sql.DB, clock Clock) (*SQLiteLog, error) {
	if clock == nil {
		clock = wallClock{}
	}
	l := &SQLiteLog{db: db, head: genesisHash, clock: clock}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	if err := l.restore(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        sequence INTEGER PRIMARY KEY,
        event_id TEXT NOT NULL,
        event_type TEXT NOT NULL,
        subject TEXT NOT NULL,
        payload JSON NOT NULL,
        payload_hash TEXT NOT NULL,
        previous_hash TEXT NOT NULL,
        entry_hash TEXT NOT NULL,
        timestamp DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject);
    CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);`
	_, err := l.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("ledger migrate: %w", err)
	}
	return nil
}

func (l *SQLiteLog) restore() error {
	row := l.db.QueryRowContext(context.Background(),
		`SELECT sequence, entry_hash FROM audit_events ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var head string
	switch err := row.Scan(&seq, &head); err {
	case nil:
		l.sequence = seq
		l.head = head
	case sql.ErrNoRows:
		// Fresh ledger.
	default:
		return fmt.Errorf("ledger restore: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, typ EventType, subject string, payload any, redactFields []string) (uint64, error) {
	entry, err := buildEvent(l.clock.Now(), typ, subject, payload, redactFields)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Sequence = l.sequence + 1
	entry.PreviousHash = l.head
	hash, err := chainHash(entry)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", contracts.ErrLedgerWrite, err)
	}
	entry.Hash = hash

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_events (sequence, event_id, event_type, subject, payload, payload_hash, previous_hash, entry_hash, timestamp)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Sequence, entry.ID, string(entry.Type), entry.Subject, string(entry.Payload),
		entry.PayloadHash, entry.PreviousHash, entry.Hash, entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", contracts.ErrLedgerWrite, err)
	}

	l.sequence = entry.Sequence
	l.head = entry.Hash
	return entry.Sequence, nil
}

func (l *SQLiteLog) Query(ctx context.Context, f Filter) ([]*Event, error) {
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.StartTime != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if f.EndTime != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if f.StartSeq > 0 {
		conds = append(conds, "sequence >= ?")
		args = append(args, f.StartSeq)
	}
	if f.EndSeq > 0 {
		conds = append(conds, "sequence <= ?")
		args = append(args, f.EndSeq)
	}

	query := `SELECT sequence, event_id, event_type, subject, payload, payload_hash, previous_hash, entry_hash, timestamp FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if f.MaxResults > 0 {
		query += " LIMIT ?"
		args = append(args, f.MaxResults)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	return events, nil
}

func (l *SQLiteLog) VerifyChain(ctx context.Context) error {
	events, err := l.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	return verifyEvents(events)
}

func (l *SQLiteLog) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func (l *SQLiteLog) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var typ, payload, ts string
	if err := rows.Scan(&e.Sequence, &e.ID, &typ, &e.Subject, &payload,
		&e.PayloadHash, &e.PreviousHash, &e.Hash, &ts); err != nil {
		return nil, fmt.Errorf("ledger scan: %w", err)
	}
	e.Type = EventType(typ)
	e.Payload = []byte(payload)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("ledger scan timestamp: %w", err)
	}
	e.Timestamp = parsed
	return &e, nil
}

// OpenSQLite opens a SQLite database suitable for the ledger. The pure-Go
// driver serializes writes itself, but connection count is pinned to one so
// the in-process chain state and the database never diverge under load.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

var _ Ledger = (*SQLiteLog)(nil)
var _ Ledger = (*Log)(nil)
