package contracts

import "errors"

// Error taxonomy for the failsafe core. Budget, breaker, and policy outcomes
// are returned to callers as typed decisions rather than raised as these
// errors; the sentinels exist for the paths where a hard failure is the
// correct surface.
var (
	// ErrClassifierTimeout marks a detector that failed to respond within
	// its budget. The gate recovers locally (high risk verdict), so this
	// surfaces only in logs and audit payloads.
	ErrClassifierTimeout = errors.New("classifier: detector timeout")

	// ErrBudgetExceeded marks a rate window exhaustion. Retryable by the
	// caller after the advertised retry-after.
	ErrBudgetExceeded = errors.New("governor: budget exceeded")

	// ErrBreakerOpen marks an integration whose circuit is open. Retryable
	// after the cool-down; surfaced distinctly from ErrBudgetExceeded so
	// callers apply different backoff.
	ErrBreakerOpen = errors.New("governor: breaker open")

	// ErrPolicyViolation marks a critical-risk override. Not retryable
	// without human resolution.
	ErrPolicyViolation = errors.New("router: policy violation")

	// ErrEscalationExpired marks an approval request no human resolved in
	// time. Terminal; surfaced to the caller as a rejection.
	ErrEscalationExpired = errors.New("escalation: request expired")

	// ErrLedgerWrite is fatal: the process must not report an authorization
	// decision whose audit record did not durably commit first.
	ErrLedgerWrite = errors.New("ledger: write failure")
)
