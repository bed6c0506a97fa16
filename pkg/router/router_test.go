package router_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/router"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/token"
)

type fixture struct {
	router *router.Router
	log    *ledger.Log
	store  *escalation.MemoryStore
}

func newFixture(t *testing.T, policies map[contracts.ActionType]policy.ApprovalPolicy, opts ...router.Option) *fixture {
	t.Helper()
	log := ledger.NewLog(nil)
	store := escalation.NewMemoryStore()
	scheduler := escalation.NewScheduler(store, log, nil, nil)
	guard, err := policy.NewGuardEvaluator()
	require.NoError(t, err)
	issuer := token.NewIssuer([]byte("test-signing-key"), time.Minute)

	rt := router.New(policy.NewSet(policies), guard, scheduler, issuer, log, opts...)
	return &fixture{router: rt, log: log, store: store}
}

func emailAction() *contracts.ProposedAction {
	return &contracts.ProposedAction{
		ID:          "act-1",
		Type:        contracts.ActionSendEmail,
		Integration: "email",
		Payload:     map[string]any{"to": "prospect@example.com", "body": "hi"},
		AgentID:     "agent-7",
		RequestedAt: time.Now(),
	}
}

func allow() contracts.AdmitResult {
	return contracts.AdmitResult{Decision: contracts.AdmitAllow}
}

func decisionEvents(t *testing.T, log *ledger.Log) []*ledger.Event {
	t.Helper()
	events, err := log.Query(context.Background(), ledger.Filter{Type: ledger.EventDecision})
	require.NoError(t, err)
	return events
}

func TestRouteThrottledAdmitRejects(t *testing.T) {
	f := newFixture(t, nil)
	admit := contracts.AdmitResult{Decision: contracts.AdmitThrottled, RetryAfter: 42 * time.Second}

	decision, err := f.router.Route(context.Background(), emailAction(), contracts.RiskVerdict{}, admit)
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteRejected, decision.Outcome)
	assert.Equal(t, contracts.ReasonRateLimited, decision.Reason)
	assert.Equal(t, 42*time.Second, decision.RetryAfter)
	assert.Empty(t, decision.AuthorizationToken)
	assert.Len(t, decisionEvents(t, f.log), 1)
}

func TestRouteBreakerOpenAdmitRejects(t *testing.T) {
	f := newFixture(t, nil)
	admit := contracts.AdmitResult{Decision: contracts.AdmitBreakerOpen, RetryAfter: 30 * time.Second}

	decision, err := f.router.Route(context.Background(), emailAction(), contracts.RiskVerdict{}, admit)
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteRejected, decision.Outcome)
	assert.Equal(t, contracts.ReasonBreakerOpen, decision.Reason)
}

func TestRouteAlwaysApproveWithinCeilingClears(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.AlwaysApprove, AutoClearCeiling: contracts.RiskLow},
	})

	verdict := contracts.RiskVerdict{Level: contracts.RiskLow, Confidence: 0.9}
	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteAutoCleared, decision.Outcome)
	assert.NotEmpty(t, decision.AuthorizationToken)
	assert.Empty(t, decision.RequestID)
}

func TestRouteAlwaysApproveOverCeilingQueues(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.AlwaysApprove, AutoClearCeiling: contracts.RiskLow},
	})

	verdict := contracts.RiskVerdict{Level: contracts.RiskHigh, Confidence: 0.9}
	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteQueued, decision.Outcome)
	assert.Equal(t, contracts.ReasonPolicyQueued, decision.Reason)
	assert.NotEmpty(t, decision.RequestID)
	assert.Empty(t, decision.AuthorizationToken)

	req, err := f.store.Get(context.Background(), decision.RequestID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatePending, req.State)
}

func TestRouteNeverAutoApproveAlwaysQueues(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.NeverAutoApprove},
	})

	verdict := contracts.RiskVerdict{Level: contracts.RiskNone, Confidence: 0.99}
	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteQueued, decision.Outcome)
	assert.NotEmpty(t, decision.RequestID)
}

func TestRouteCriticalRiskNeverAutoClears(t *testing.T) {
	kinds := []policy.Kind{policy.AlwaysApprove, policy.NeverAutoApprove, policy.Smart}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
				contracts.ActionSendEmail: {
					Kind: kind,
					// Ceiling deliberately absurd: critical still overrides.
					AutoClearCeiling: contracts.RiskCritical,
				},
			})
			verdict := contracts.RiskVerdict{Level: contracts.RiskCritical, Confidence: 0.99}
			decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
			require.NoError(t, err)
			assert.Equal(t, contracts.RouteQueued, decision.Outcome)
			assert.Equal(t, contracts.ReasonCriticalRisk, decision.Reason)
			assert.Empty(t, decision.AuthorizationToken)
		})
	}
}

func TestRouteCriticalRejectPolicy(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.AlwaysApprove, Critical: policy.CriticalReject},
	})
	verdict := contracts.RiskVerdict{Level: contracts.RiskCritical, Confidence: 0.99}
	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteRejected, decision.Outcome)
	assert.Equal(t, contracts.ReasonCriticalRisk, decision.Reason)
}

func TestRouteSmartGate(t *testing.T) {
	policies := map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {
			Kind:             policy.Smart,
			AutoClearCeiling: contracts.RiskLow,
			MinConfidence:    0.8,
		},
	}

	t.Run("clears when all gates pass", func(t *testing.T) {
		f := newFixture(t, policies)
		verdict := contracts.RiskVerdict{Level: contracts.RiskLow, Confidence: 0.9}
		decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
		require.NoError(t, err)
		assert.Equal(t, contracts.RouteAutoCleared, decision.Outcome)
	})

	t.Run("queues on low confidence", func(t *testing.T) {
		f := newFixture(t, policies)
		verdict := contracts.RiskVerdict{Level: contracts.RiskLow, Confidence: 0.7}
		decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
		require.NoError(t, err)
		assert.Equal(t, contracts.RouteQueued, decision.Outcome)
		assert.Equal(t, contracts.ReasonSmartThreshold, decision.Reason)
	})

	t.Run("queues above risk ceiling", func(t *testing.T) {
		f := newFixture(t, policies)
		verdict := contracts.RiskVerdict{Level: contracts.RiskMedium, Confidence: 0.99}
		decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
		require.NoError(t, err)
		assert.Equal(t, contracts.RouteQueued, decision.Outcome)
	})
}

func TestRouteSmartGuardExpression(t *testing.T) {
	policies := map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {
			Kind:             policy.Smart,
			AutoClearCeiling: contracts.RiskLow,
			MinConfidence:    0.5,
			Guard:            `action.payload.to != "ceo@bigcorp.com"`,
		},
	}

	f := newFixture(t, policies)
	verdict := contracts.RiskVerdict{Level: contracts.RiskNone, Confidence: 0.9}

	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteAutoCleared, decision.Outcome)

	guarded := emailAction()
	guarded.Payload["to"] = "ceo@bigcorp.com"
	decision, err = f.router.Route(context.Background(), guarded, verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteQueued, decision.Outcome)
	assert.Equal(t, contracts.ReasonSmartThreshold, decision.Reason)
}

func TestRouteSmartBrokenGuardFailsClosed(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {
			Kind:             policy.Smart,
			AutoClearCeiling: contracts.RiskLow,
			MinConfidence:    0.5,
			Guard:            `not valid cel ((`,
		},
	})
	verdict := contracts.RiskVerdict{Level: contracts.RiskNone, Confidence: 0.9}
	decision, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteQueued, decision.Outcome)
}

func TestRouteEmitsExactlyOneDecisionEventWithRedaction(t *testing.T) {
	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.NeverAutoApprove},
	})

	verdict := contracts.RiskVerdict{
		Level:      contracts.RiskMedium,
		Signals:    []contracts.SignalCategory{contracts.SignalPIIEmail},
		Confidence: 0.75,
		PIIFields:  []string{"to"},
	}
	_, err := f.router.Route(context.Background(), emailAction(), verdict, allow())
	require.NoError(t, err)

	events := decisionEvents(t, f.log)
	require.Len(t, events, 1)
	assert.Equal(t, "action:act-1", events[0].Subject)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "QUEUED", payload["outcome"])
	assert.Equal(t, "NEVER_AUTO_APPROVE", payload["policy_kind"])

	stored := payload["action"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, ledger.RedactedValue, stored["to"])
	assert.Equal(t, "hi", stored["body"])
}

func TestRouteFirewallRejectsMalformedPayload(t *testing.T) {
	fw := router.NewPayloadFirewall()
	require.NoError(t, fw.AddSchema(contracts.ActionSendEmail, `{
        "type": "object",
        "required": ["to", "body"],
        "properties": {
            "to": {"type": "string"},
            "body": {"type": "string"}
        }
    }`))

	f := newFixture(t, map[contracts.ActionType]policy.ApprovalPolicy{
		contracts.ActionSendEmail: {Kind: policy.AlwaysApprove, AutoClearCeiling: contracts.RiskLow},
	}, router.WithFirewall(fw))

	bad := emailAction()
	bad.Payload = map[string]any{"to": "someone@example.com"}
	decision, err := f.router.Route(context.Background(), bad, contracts.RiskVerdict{}, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteRejected, decision.Outcome)
	assert.Equal(t, contracts.ReasonPayloadSchema, decision.Reason)

	good := emailAction()
	decision, err = f.router.Route(context.Background(), good, contracts.RiskVerdict{Level: contracts.RiskNone, Confidence: 0.95}, allow())
	require.NoError(t, err)
	assert.Equal(t, contracts.RouteAutoCleared, decision.Outcome)
}
