package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/api"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/classifier"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/governor"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/pipeline"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/router"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/token"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	log := ledger.NewLog(nil)
	gov := governor.New(log, governor.IntegrationConfig{
		Windows: governor.WindowConfig{PerHour: 100},
		Breaker: governor.DefaultBreakerConfig(),
	})
	scheduler := escalation.NewScheduler(escalation.NewMemoryStore(), log, nil, gov)
	guard, err := policy.NewGuardEvaluator()
	require.NoError(t, err)
	issuer := token.NewIssuer([]byte("api-test-key"), time.Minute)
	policies := policy.NewSet(map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.AlwaysApprove, AutoClearCeiling: contracts.RiskLow},
		contracts.ActionCRMWrite:  {Kind: policy.NeverAutoApprove},
	})
	rt := router.New(policies, guard, scheduler, issuer, log)
	gate := classifier.NewGate(classifier.NewHeuristicDetector(), 0, nil)
	p, err := pipeline.New(gate, gov, rt, scheduler, log, issuer, nil)
	require.NoError(t, err)

	return api.NewServer(p, nil).Handler(nil, api.NewIdempotencyStore(time.Minute))
}

func postJSON(t *testing.T, h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitActionAutoCleared(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h, "/v1/actions",
		`{"type":"send-email","integration":"email","agent_id":"agent-7","payload":{"body":"hello"}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var decision contracts.RouteDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, contracts.RouteAutoCleared, decision.Outcome)
	assert.NotEmpty(t, decision.AuthorizationToken)
}

func TestSubmitActionQueuedReturns202(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h, "/v1/actions",
		`{"type":"crm-write","integration":"crm","agent_id":"agent-7","payload":{"field":"stage"}}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var decision contracts.RouteDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, contracts.RouteQueued, decision.Outcome)
	assert.NotEmpty(t, decision.RequestID)
}

func TestSubmitActionValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h, "/v1/actions", `{"type":"send-email"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/v1/actions", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveApprovalFlow(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h, "/v1/actions",
		`{"type":"crm-write","integration":"crm","agent_id":"agent-7","payload":{"field":"stage"}}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var decision contracts.RouteDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))

	rec = postJSON(t, h, "/v1/approvals/"+decision.RequestID+"/resolve",
		`{"outcome":"APPROVED","resolver":"ops@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result pipeline.ResolutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Applied)
	assert.NotEmpty(t, result.AuthorizationToken)
}

func TestResolveApprovalValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h, "/v1/approvals/some-id/resolve",
		`{"outcome":"EXPIRED","resolver":"ops"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/v1/approvals/missing/resolve",
		`{"outcome":"APPROVED","resolver":"ops"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionReportAndBudget(t *testing.T) {
	h := newTestHandler(t)

	for i := 0; i < 5; i++ {
		rec := postJSON(t, h, "/v1/executions", `{"integration":"sms","success":false}`, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/budgets/sms", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status governor.BudgetStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, governor.BreakerOpen, status.Breaker)
}

func TestAuditEndpoints(t *testing.T) {
	h := newTestHandler(t)

	postJSON(t, h, "/v1/actions",
		`{"type":"send-email","integration":"email","agent_id":"agent-7","payload":{"body":"hello"}}`, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/events?type=DECISION", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []*ledger.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Events, 1)

	req = httptest.NewRequest(http.MethodGet, "/v1/audit/verify", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	h := newTestHandler(t)
	headers := map[string]string{"Idempotency-Key": "retry-1"}
	body := `{"type":"send-email","integration":"email","agent_id":"agent-7","payload":{"body":"hello"}}`

	first := postJSON(t, h, "/v1/actions", body, headers)
	require.Equal(t, http.StatusOK, first.Code)
	second := postJSON(t, h, "/v1/actions", body, headers)
	require.Equal(t, http.StatusOK, second.Code)

	// Same action id and token: the second call never re-entered the
	// pipeline.
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	h := newTestHandler(t)
	limited := api.NewRateLimiter(1, 1).Middleware(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
