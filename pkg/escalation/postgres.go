package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// PostgresStore implements Store on PostgreSQL for deployments where the
// approval queue must survive process restarts and be shared across nodes.
// Update takes a row lock so scan-driven expiry and explicit resolution
// arbitrate exactly as in the in-memory store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS approval_requests (
        id TEXT PRIMARY KEY,
        action_id TEXT NOT NULL,
        action_type TEXT NOT NULL,
        integration TEXT NOT NULL,
        enqueued_at TIMESTAMPTZ NOT NULL,
        level INTEGER NOT NULL,
        deadline TIMESTAMPTZ NOT NULL,
        state TEXT NOT NULL,
        resolver TEXT,
        resolved_at TIMESTAMPTZ,
        detail JSONB NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approval_requests(state, deadline);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("approval store migrate: %w", err)
	}
	return nil
}

// detail holds the fields without dedicated columns.
type requestDetail struct {
	Deadlines []time.Time     `json:"deadlines"`
	Schedule  json.RawMessage `json:"schedule"`
	Verdict   json.RawMessage `json:"verdict"`
}

func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	detail, err := marshalDetail(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO approval_requests (id, action_id, action_type, integration, enqueued_at, level, deadline, state, resolver, resolved_at, detail)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ActionID, string(r.ActionType), r.Integration, r.EnqueuedAt,
		r.Level, r.Deadline, string(r.State), nullString(r.Resolver), r.ResolvedAt, detail)
	if err != nil {
		return fmt.Errorf("approval store create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM approval_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *PostgresStore) ListPending(ctx context.Context, f ListFilter) ([]*Request, error) {
	query := selectColumns + ` FROM approval_requests WHERE state = $1`
	args := []any{string(StatePending)}
	if f.ActionType != "" {
		args = append(args, string(f.ActionType))
		query += fmt.Sprintf(" AND action_type = $%d", len(args))
	}
	if f.Integration != "" {
		args = append(args, f.Integration)
		query += fmt.Sprintf(" AND integration = $%d", len(args))
	}
	query += " ORDER BY enqueued_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval store list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval store list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("approval store update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}

	detail, err := marshalDetail(r)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
        UPDATE approval_requests
        SET level = $2, deadline = $3, state = $4, resolver = $5, resolved_at = $6, detail = $7
        WHERE id = $1`,
		r.ID, r.Level, r.Deadline, string(r.State), nullString(r.Resolver), r.ResolvedAt, detail)
	if err != nil {
		return nil, fmt.Errorf("approval store update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("approval store update commit: %w", err)
	}
	return r, nil
}

const selectColumns = `SELECT id, action_id, action_type, integration, enqueued_at, level, deadline, state, resolver, resolved_at, detail`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var actionType, state string
	var resolver sql.NullString
	var resolvedAt sql.NullTime
	var detail []byte
	err := row.Scan(&r.ID, &r.ActionID, &actionType, &r.Integration, &r.EnqueuedAt,
		&r.Level, &r.Deadline, &state, &resolver, &resolvedAt, &detail)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval store scan: %w", err)
	}
	r.ActionType = contracts.ActionType(actionType)
	r.State = Resolution(state)
	if resolver.Valid {
		r.Resolver = resolver.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	if err := unmarshalDetail(detail, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalDetail(r *Request) ([]byte, error) {
	schedule, err := json.Marshal(r.Schedule)
	if err != nil {
		return nil, fmt.Errorf("approval store detail: %w", err)
	}
	verdict, err := json.Marshal(r.Verdict)
	if err != nil {
		return nil, fmt.Errorf("approval store detail: %w", err)
	}
	out, err := json.Marshal(requestDetail{
		Deadlines: r.Deadlines,
		Schedule:  schedule,
		Verdict:   verdict,
	})
	if err != nil {
		return nil, fmt.Errorf("approval store detail: %w", err)
	}
	return out, nil
}

func unmarshalDetail(data []byte, r *Request) error {
	var d requestDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("approval store detail: %w", err)
	}
	r.Deadlines = d.Deadlines
	if len(d.Schedule) > 0 {
		if err := json.Unmarshal(d.Schedule, &r.Schedule); err != nil {
			return fmt.Errorf("approval store detail schedule: %w", err)
		}
	}
	if len(d.Verdict) > 0 {
		if err := json.Unmarshal(d.Verdict, &r.Verdict); err != nil {
			return fmt.Errorf("approval store detail verdict: %w", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
