// Package ledger implements the append-only audit trail for the failsafe
// core. Every routing decision and state transition lands here before it is
// observable anywhere else; the append path is the single total-order point
// of the system. Entries are hash-chained for tamper evidence and PII fields
// are redacted before persistence, never after.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/canonicalize"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// EventType categorizes audit events.
type EventType string

const (
	EventDecision    EventType = "DECISION"
	EventStateChange EventType = "STATE_CHANGE"
	EventEscalation  EventType = "ESCALATION"
	EventResolution  EventType = "RESOLUTION"
)

// Event is a single immutable audit record. Sequence numbers are strictly
// increasing and define the canonical order of all decisions.
type Event struct {
	ID           string          `json:"id"`
	Sequence     uint64          `json:"sequence"`
	Type         EventType       `json:"type"`
	Subject      string          `json:"subject"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Filter defines query criteria for the audit trail.
type Filter struct {
	Type       EventType
	Subject    string
	StartTime  *time.Time
	EndTime    *time.Time
	StartSeq   uint64
	EndSeq     uint64
	MaxResults int
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Ledger is the append and query contract consumed by every other component.
// Append must complete before the caller treats the recorded transition as
// final; an Append error is fatal to the decision being recorded.
type Ledger interface {
	// Append records an event and returns its sequence number. redactFields
	// names payload paths to redact before persistence.
	Append(ctx context.Context, typ EventType, subject string, payload any, redactFields []string) (uint64, error)
	// Query returns events matching the filter in sequence order.
	Query(ctx context.Context, f Filter) ([]*Event, error)
	// VerifyChain recomputes the hash chain and reports the first break.
	VerifyChain(ctx context.Context) error
	// Head returns the current chain head hash.
	Head() string
	// Sequence returns the last assigned sequence number.
	Sequence() uint64
}

// Clock provides time for ledger entries; injectable for tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

const genesisHash = "genesis"

// Log is the in-memory Ledger. It is the default backing for tests and for
// deployments that ship events to a durable sink out of band.
type Log struct {
	mu       sync.RWMutex
	events   []*Event
	sequence uint64
	head     string
	clock    Clock
}

// NewLog creates an empty in-memory ledger. If clock is nil, wall-clock time
// is used.
func NewLog(clock Clock) *Log {
	if clock == nil {
		clock = wallClock{}
	}
	return &Log{head: genesisHash, clock: clock}
}

func (l *Log) Append(ctx context.Context, typ EventType, subject string, payload any, redactFields []string) (uint64, error) {
	entry, err := buildEvent(l.clock.Now(), typ, subject, payload, redactFields)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry.Sequence = l.sequence
	entry.PreviousHash = l.head

	hash, err := chainHash(entry)
	if err != nil {
		l.sequence--
		return 0, fmt.Errorf("%w: %v", contracts.ErrLedgerWrite, err)
	}
	entry.Hash = hash
	l.head = hash
	l.events = append(l.events, entry)
	return entry.Sequence, nil
}

func (l *Log) Query(ctx context.Context, f Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*Event, 0)
	for _, e := range l.events {
		if f.Matches(e) {
			results = append(results, e)
			if f.MaxResults > 0 && len(results) >= f.MaxResults {
				break
			}
		}
	}
	return results, nil
}

func (l *Log) VerifyChain(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEvents(l.events)
}

func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

func (l *Log) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// buildEvent serializes and redacts the payload and fills the fields that do
// not depend on chain position.
func buildEvent(now time.Time, typ EventType, subject string, payload any, redactFields []string) (*Event, error) {
	snapshot, err := snapshotPayload(payload, redactFields)
	if err != nil {
		return nil, fmt.Errorf("%w: payload snapshot: %v", contracts.ErrLedgerWrite, err)
	}
	return &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		Subject:     subject,
		Payload:     snapshot,
		PayloadHash: canonicalize.HashBytes(snapshot),
		Timestamp:   now.UTC(),
	}, nil
}

// chainHash computes the entry hash over the chain-relevant fields.
func chainHash(e *Event) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Type         EventType `json:"type"`
		Subject      string    `json:"subject"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{e.Sequence, e.Timestamp, e.Type, e.Subject, e.PayloadHash, e.PreviousHash}

	return canonicalize.CanonicalHash(hashable)
}

func verifyEvents(events []*Event) error {
	expectedPrev := genesisHash
	for i, e := range events {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("chain broken at sequence %d: previous_hash %s, expected %s",
				e.Sequence, e.PreviousHash, expectedPrev)
		}
		computed, err := chainHash(e)
		if err != nil {
			return fmt.Errorf("chain verification failed at index %d: %w", i, err)
		}
		if computed != e.Hash {
			return fmt.Errorf("chain broken at sequence %d: hash mismatch", e.Sequence)
		}
		expectedPrev = e.Hash
	}
	return nil
}
