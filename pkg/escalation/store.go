package escalation

import (
	"context"
	"sort"
	"sync"
)

// Store persists approval requests. Update must apply fn atomically against
// the stored request: the scheduler relies on it for the single arbitration
// rule between scan-driven expiry and explicit resolution.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	ListPending(ctx context.Context, f ListFilter) ([]*Request, error)
	// Update loads the request, applies fn under exclusive ownership, and
	// persists the result. If fn returns an error nothing is persisted.
	Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error)
}

// MemoryStore is the in-process Store used in tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.requests[r.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, f ListFilter) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, 0)
	for _, r := range s.requests {
		if r.State == StatePending && f.matches(r) {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := *r
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.requests[id] = &working
	clone := working
	return &clone, nil
}

var _ Store = (*MemoryStore)(nil)
