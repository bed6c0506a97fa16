// Package contracts defines the shared types that flow through the failsafe
// pipeline: proposed actions, risk verdicts, admit results, and route
// decisions. Components communicate exclusively through these types so the
// pipeline stages stay independently testable.
package contracts

import (
	"time"
)

// ActionType is the enumerated domain verb an agent wants to perform.
type ActionType string

// Outbound action verbs the swarm is allowed to propose.
const (
	ActionSendEmail           ActionType = "send-email"
	ActionSendSMS             ActionType = "send-sms"
	ActionCreateCalendarEvent ActionType = "create-calendar-event"
	ActionCRMWrite            ActionType = "crm-write"
	ActionBulkOperation       ActionType = "bulk-operation"
)

// ProposedAction is an action an upstream agent wants to execute.
// It is immutable once created; the pipeline never mutates it.
type ProposedAction struct {
	ID          string         `json:"id"`
	Type        ActionType     `json:"type"`
	Integration string         `json:"integration"`
	Payload     map[string]any `json:"payload,omitempty"`
	AgentID     string         `json:"agent_id"`
	RequestedAt time.Time      `json:"requested_at"`
}

// AdmitDecision is the Governor's verdict for a single admission attempt.
type AdmitDecision string

const (
	AdmitAllow       AdmitDecision = "ALLOW"
	AdmitThrottled   AdmitDecision = "THROTTLED"
	AdmitBreakerOpen AdmitDecision = "BREAKER_OPEN"
)

// AdmitResult carries the Governor decision plus the retry hint for
// throttled attempts (shortest retry-after across violated windows).
type AdmitResult struct {
	Decision   AdmitDecision `json:"decision"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RouteOutcome classifies the Router's decision for a proposed action.
type RouteOutcome string

const (
	RouteAutoCleared RouteOutcome = "AUTO_CLEARED"
	RouteQueued      RouteOutcome = "QUEUED"
	RouteRejected    RouteOutcome = "REJECTED"
)

// Rejection and queue reason strings surfaced to callers. These are part of
// the contract: calling agents branch on them programmatically.
const (
	ReasonRateLimited    = "rate-limited"
	ReasonBreakerOpen    = "breaker-open"
	ReasonCriticalRisk   = "critical-risk"
	ReasonPolicyQueued   = "policy-queued"
	ReasonPayloadSchema  = "payload-schema"
	ReasonSmartThreshold = "smart-threshold"
)

// RouteDecision is the synchronous answer to a submitted action.
type RouteDecision struct {
	ActionID string       `json:"action_id"`
	Outcome  RouteOutcome `json:"outcome"`
	Reason   string       `json:"reason,omitempty"`
	// RequestID references the approval request when Outcome is QUEUED.
	RequestID string `json:"request_id,omitempty"`
	// RetryAfter is populated for infrastructure rejections so callers can
	// back off without parsing reason strings.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// AuthorizationToken is the single-use execution token issued on
	// AUTO_CLEARED (and later on APPROVED resolutions).
	AuthorizationToken string `json:"authorization_token,omitempty"`
	// Verdict is the classifier verdict the decision was made under.
	Verdict RiskVerdict `json:"verdict"`
}
