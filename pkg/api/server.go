package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/observability"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/pipeline"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server serves the pipeline over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	obs      *observability.Provider
}

// NewServer creates the HTTP surface. obs may be nil.
func NewServer(p *pipeline.Pipeline, obs *observability.Provider) *Server {
	return &Server{pipeline: p, obs: obs}
}

// Handler builds the routed handler with rate limiting and idempotency
// middleware applied.
func (s *Server) Handler(limiter *RateLimiter, idem *IdempotencyStore) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/actions", s.handleSubmitAction)
	mux.HandleFunc("POST /v1/approvals/{id}/resolve", s.handleResolveApproval)
	mux.HandleFunc("POST /v1/approvals/{id}/cancel", s.handleCancelApproval)
	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("GET /v1/approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("POST /v1/executions", s.handleExecutionReport)
	mux.HandleFunc("GET /v1/budgets/{integration}", s.handleBudgetStatus)
	mux.HandleFunc("GET /v1/audit/events", s.handleAuditQuery)
	mux.HandleFunc("GET /v1/audit/verify", s.handleAuditVerify)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var h http.Handler = mux
	if idem != nil {
		h = idem.Middleware(h)
	}
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	return h
}

func (s *Server) track(r *http.Request, name string) (rr *http.Request, done func(error)) {
	if s.obs == nil {
		return r, func(error) {}
	}
	ctx, finish := s.obs.TrackRequest(r.Context(), name,
		attribute.String("http.route", r.URL.Path),
		attribute.String("http.method", r.Method),
	)
	return r.WithContext(ctx), finish
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	r, done := s.track(r, "api.SubmitAction")
	var handleErr error
	defer func() { done(handleErr) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var action contracts.ProposedAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if action.Type == "" || action.Integration == "" || action.AgentID == "" {
		WriteBadRequest(w, "Missing required fields: type, integration, agent_id")
		return
	}

	decision, err := s.pipeline.SubmitAction(r.Context(), &action)
	if err != nil {
		handleErr = err
		WriteInternal(w, err)
		return
	}

	status := http.StatusOK
	if decision.Outcome == contracts.RouteQueued {
		status = http.StatusAccepted
	}
	if decision.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
	}
	writeJSON(w, status, decision)
}

type resolveRequest struct {
	Outcome  string `json:"outcome"`
	Resolver string `json:"resolver"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	r, done := s.track(r, "api.ResolveApproval")
	var handleErr error
	defer func() { done(handleErr) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	outcome := escalation.Resolution(req.Outcome)
	if outcome != escalation.StateApproved && outcome != escalation.StateRejected {
		WriteBadRequest(w, "outcome must be APPROVED or REJECTED")
		return
	}
	if req.Resolver == "" {
		WriteBadRequest(w, "Missing required field: resolver")
		return
	}

	result, err := s.pipeline.ResolveApproval(r.Context(), r.PathValue("id"), outcome, req.Resolver)
	if errors.Is(err, escalation.ErrNotFound) {
		WriteNotFound(w, "Unknown approval request")
		return
	}
	if err != nil {
		handleErr = err
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelApproval(w http.ResponseWriter, r *http.Request) {
	r, done := s.track(r, "api.CancelApproval")
	var handleErr error
	defer func() { done(handleErr) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	result, err := s.pipeline.CancelApproval(r.Context(), r.PathValue("id"), req.Resolver)
	if errors.Is(err, escalation.ErrNotFound) {
		WriteNotFound(w, "Unknown approval request")
		return
	}
	if err != nil {
		handleErr = err
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	f := escalation.ListFilter{
		ActionType:  contracts.ActionType(r.URL.Query().Get("action_type")),
		Integration: r.URL.Query().Get("integration"),
	}
	pending, err := s.pipeline.ListPendingApprovals(r.Context(), f)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.pipeline.GetApproval(r.Context(), r.PathValue("id"))
	if errors.Is(err, escalation.ErrNotFound) {
		WriteNotFound(w, "Unknown approval request")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type executionReport struct {
	Integration string `json:"integration"`
	Success     bool   `json:"success"`
}

func (s *Server) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	r, done := s.track(r, "api.ExecutionReported")
	var handleErr error
	defer func() { done(handleErr) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var report executionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if report.Integration == "" {
		WriteBadRequest(w, "Missing required field: integration")
		return
	}

	if err := s.pipeline.ExecutionReported(r.Context(), report.Integration, report.Success); err != nil {
		handleErr = err
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	status := s.pipeline.GetBudgetStatus(r.PathValue("integration"))
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Type:    ledger.EventType(q.Get("type")),
		Subject: q.Get("subject"),
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "start must be RFC 3339")
			return
		}
		f.StartTime = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "end must be RFC 3339")
			return
		}
		f.EndTime = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		f.MaxResults = n
	}

	events, err := s.pipeline.QueryAuditTrail(r.Context(), f)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.VerifyAuditChain(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
