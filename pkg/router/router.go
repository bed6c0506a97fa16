// Package router decides, for every admitted action, whether it auto-clears,
// queues for human approval, or is rejected. Policy kinds are matched
// exhaustively and critical-risk verdicts override every policy: they can
// never auto-clear. Every call emits exactly one DECISION audit event
// recording the full decision path.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/token"
)

// Queue enqueues an action for human approval. Satisfied by
// *escalation.Scheduler.
type Queue interface {
	Enqueue(ctx context.Context, action *contracts.ProposedAction, verdict contracts.RiskVerdict, schedule policy.Schedule) (*escalation.Request, error)
}

// TokenIssuer mints single-use execution authorizations. Satisfied by
// *token.Issuer.
type TokenIssuer interface {
	Issue(actionID string) (string, error)
}

// Router maps (action, verdict, admit result) to a route decision.
type Router struct {
	policies *policy.Set
	guard    *policy.GuardEvaluator
	firewall *PayloadFirewall
	queue    Queue
	tokens   TokenIssuer
	ledger   ledger.Ledger
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithFirewall enables payload schema validation before routing.
func WithFirewall(f *PayloadFirewall) Option {
	return func(r *Router) { r.firewall = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New wires a Router. tokens may be nil, in which case AUTO_CLEARED
// decisions carry no authorization token.
func New(policies *policy.Set, guard *policy.GuardEvaluator, queue Queue, tokens TokenIssuer, auditLedger ledger.Ledger, opts ...Option) *Router {
	r := &Router{
		policies: policies,
		guard:    guard,
		queue:    queue,
		tokens:   tokens,
		ledger:   auditLedger,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ TokenIssuer = (*token.Issuer)(nil)
var _ Queue = (*escalation.Scheduler)(nil)

// Route resolves the outcome for one action. The DECISION audit event is
// appended before the decision becomes observable to the caller; an audit
// failure fails the whole call.
func (r *Router) Route(ctx context.Context, action *contracts.ProposedAction, verdict contracts.RiskVerdict, admit contracts.AdmitResult) (contracts.RouteDecision, error) {
	decision := contracts.RouteDecision{
		ActionID: action.ID,
		Verdict:  verdict,
	}
	pol := r.policies.For(action.Type)
	branch := ""

	switch {
	case admit.Decision == contracts.AdmitThrottled:
		decision.Outcome = contracts.RouteRejected
		decision.Reason = contracts.ReasonRateLimited
		decision.RetryAfter = admit.RetryAfter
		branch = "governor-throttled"

	case admit.Decision == contracts.AdmitBreakerOpen:
		decision.Outcome = contracts.RouteRejected
		decision.Reason = contracts.ReasonBreakerOpen
		decision.RetryAfter = admit.RetryAfter
		branch = "governor-breaker"

	case r.firewallRejects(action):
		decision.Outcome = contracts.RouteRejected
		decision.Reason = contracts.ReasonPayloadSchema
		branch = "payload-firewall"

	case verdict.Level == contracts.RiskCritical:
		// Critical risk overrides the policy kind entirely.
		decision.Reason = contracts.ReasonCriticalRisk
		if pol.Critical == policy.CriticalReject {
			decision.Outcome = contracts.RouteRejected
			branch = "critical-reject"
		} else {
			decision.Outcome = contracts.RouteQueued
			branch = "critical-queue"
		}

	default:
		r.applyPolicy(action, verdict, pol, &decision, &branch)
	}

	if err := r.auditDecision(ctx, action, verdict, admit, decision, branch, pol.Kind); err != nil {
		return contracts.RouteDecision{}, err
	}

	if decision.Outcome == contracts.RouteQueued {
		req, err := r.queue.Enqueue(ctx, action, verdict, pol.Escalation)
		if err != nil {
			return contracts.RouteDecision{}, fmt.Errorf("router: enqueue approval: %w", err)
		}
		decision.RequestID = req.ID
	}
	if decision.Outcome == contracts.RouteAutoCleared && r.tokens != nil {
		signed, err := r.tokens.Issue(action.ID)
		if err != nil {
			return contracts.RouteDecision{}, fmt.Errorf("router: issue token: %w", err)
		}
		decision.AuthorizationToken = signed
	}

	r.logger.Info("action routed",
		"action_id", action.ID,
		"type", action.Type,
		"outcome", decision.Outcome,
		"reason", decision.Reason,
		"branch", branch,
	)
	return decision, nil
}

// applyPolicy evaluates the non-critical policy branches. The switch over
// policy.Kind is exhaustive; an unknown kind queues, never clears.
func (r *Router) applyPolicy(action *contracts.ProposedAction, verdict contracts.RiskVerdict, pol policy.ApprovalPolicy, decision *contracts.RouteDecision, branch *string) {
	switch pol.Kind {
	case policy.AlwaysApprove:
		if verdict.Level <= pol.AutoClearCeiling {
			decision.Outcome = contracts.RouteAutoCleared
			*branch = "always-approve-clear"
			return
		}
		decision.Outcome = contracts.RouteQueued
		decision.Reason = contracts.ReasonPolicyQueued
		*branch = "always-approve-over-ceiling"

	case policy.NeverAutoApprove:
		decision.Outcome = contracts.RouteQueued
		decision.Reason = contracts.ReasonPolicyQueued
		*branch = "never-auto-approve"

	case policy.Smart:
		if r.smartClears(action, verdict, pol) {
			decision.Outcome = contracts.RouteAutoCleared
			*branch = "smart-clear"
			return
		}
		decision.Outcome = contracts.RouteQueued
		decision.Reason = contracts.ReasonSmartThreshold
		*branch = "smart-queue"

	default:
		decision.Outcome = contracts.RouteQueued
		decision.Reason = contracts.ReasonPolicyQueued
		*branch = "unknown-policy-kind"
	}
}

// smartClears applies the SMART gate: risk ceiling, confidence floor, and the
// optional guard expression. Guard errors fail closed.
func (r *Router) smartClears(action *contracts.ProposedAction, verdict contracts.RiskVerdict, pol policy.ApprovalPolicy) bool {
	if verdict.Level > pol.AutoClearCeiling {
		return false
	}
	if verdict.Confidence < pol.MinConfidence {
		return false
	}
	if pol.Guard == "" {
		return true
	}
	if r.guard == nil {
		return false
	}
	ok, err := r.guard.Evaluate(pol.Guard, action, verdict)
	if err != nil {
		r.logger.Warn("guard evaluation failed, treating as deny",
			"action_id", action.ID, "error", err)
		return false
	}
	return ok
}

func (r *Router) firewallRejects(action *contracts.ProposedAction) bool {
	if r.firewall == nil {
		return false
	}
	if err := r.firewall.Validate(action); err != nil {
		r.logger.Warn("payload firewall rejection", "action_id", action.ID, "error", err)
		return true
	}
	return false
}

// auditDecision records the full decision path. PII fields the classifier
// flagged are redacted from the action snapshot before it reaches the ledger.
func (r *Router) auditDecision(ctx context.Context, action *contracts.ProposedAction, verdict contracts.RiskVerdict, admit contracts.AdmitResult, decision contracts.RouteDecision, branch string, kind policy.Kind) error {
	payload := map[string]any{
		"action": map[string]any{
			"id":           action.ID,
			"type":         string(action.Type),
			"integration":  action.Integration,
			"agent_id":     action.AgentID,
			"requested_at": action.RequestedAt.UTC(),
			"payload":      action.Payload,
		},
		"admit": map[string]any{
			"decision":    string(admit.Decision),
			"retry_after": admit.RetryAfter.String(),
		},
		"verdict": map[string]any{
			"level":      verdict.Level.String(),
			"signals":    verdict.Signals,
			"confidence": verdict.Confidence,
		},
		"policy_kind": string(kind),
		"branch":      branch,
		"outcome":     string(decision.Outcome),
		"reason":      decision.Reason,
	}

	redact := make([]string, 0, len(verdict.PIIFields))
	for _, f := range verdict.PIIFields {
		redact = append(redact, "action.payload."+f)
	}
	if _, err := r.ledger.Append(ctx, ledger.EventDecision, "action:"+action.ID, payload, redact); err != nil {
		return fmt.Errorf("router: audit decision: %w", err)
	}
	return nil
}
