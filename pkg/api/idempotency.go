package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// storedResponse is a replayable copy of a previously-served response.
type storedResponse struct {
	status   int
	header   http.Header
	body     []byte
	cachedAt time.Time
}

// IdempotencyStore caches responses keyed by the Idempotency-Key header so
// agent retries of POST /v1/actions never double-submit an action.
type IdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*storedResponse
	ttl     time.Duration
}

// NewIdempotencyStore creates the store and starts its expiry sweep.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	s := &IdempotencyStore{
		entries: make(map[string]*storedResponse),
		ttl:     ttl,
	}
	go s.sweep()
	return s
}

func (s *IdempotencyStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for k, v := range s.entries {
			if now.Sub(v.cachedAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *IdempotencyStore) get(key string) (*storedResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[key]
	if !ok || time.Since(r.cachedAt) > s.ttl {
		return nil, false
	}
	return r, true
}

func (s *IdempotencyStore) put(key string, status int, header http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &storedResponse{
		status:   status,
		header:   header,
		body:     body,
		cachedAt: time.Now(),
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

// Middleware replays the cached response for a repeated Idempotency-Key and
// caches successful (2xx) responses for new keys. Requests without the
// header pass through untouched.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if cached, ok := s.get(key); ok {
			for k, vals := range cached.header {
				for _, v := range vals {
					w.Header().Set(k, v)
				}
			}
			w.WriteHeader(cached.status)
			_, _ = w.Write(cached.body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 200 && rec.status < 300 {
			s.put(key, rec.status, w.Header().Clone(), rec.body.Bytes())
		}
	})
}
