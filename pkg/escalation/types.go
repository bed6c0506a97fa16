// Package escalation owns queued approval requests from enqueue to terminal
// state. A periodic reconciliation scan advances levels past their deadlines;
// explicit resolver actions race with the scan under one arbitration rule:
// the first transition to a terminal state wins, later attempts are no-ops.
package escalation

import (
	"errors"
	"time"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
)

// Resolution is the lifecycle state of an approval request.
type Resolution string

const (
	StatePending   Resolution = "PENDING"
	StateApproved  Resolution = "APPROVED"
	StateRejected  Resolution = "REJECTED"
	StateExpired   Resolution = "EXPIRED"
	StateCancelled Resolution = "CANCELLED"
)

// Terminal reports whether no further transition is permitted.
func (r Resolution) Terminal() bool {
	switch r {
	case StateApproved, StateRejected, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Request is a queued approval. Owned exclusively by the scheduler from
// enqueue to terminal state; terminal states are immutable.
type Request struct {
	ID          string               `json:"id"`
	ActionID    string               `json:"action_id"`
	ActionType  contracts.ActionType `json:"action_type"`
	Integration string               `json:"integration"`
	EnqueuedAt  time.Time            `json:"enqueued_at"`
	// Level is the current escalation level, monotonically non-decreasing.
	Level int `json:"level"`
	// Deadline is the current level's deadline.
	Deadline time.Time `json:"deadline"`
	// Deadlines records each level's deadline as it was computed.
	Deadlines  []time.Time     `json:"deadlines"`
	Schedule   policy.Schedule `json:"schedule"`
	State      Resolution      `json:"state"`
	Resolver   string          `json:"resolver,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	// Verdict carried for auditing and PII redaction on later events.
	Verdict contracts.RiskVerdict `json:"verdict"`
}

// ErrNotFound is returned when a request id is unknown.
var ErrNotFound = errors.New("escalation: request not found")

// ListFilter narrows pending-approval listings.
type ListFilter struct {
	ActionType  contracts.ActionType
	Integration string
}

func (f ListFilter) matches(r *Request) bool {
	if f.ActionType != "" && r.ActionType != f.ActionType {
		return false
	}
	if f.Integration != "" && r.Integration != f.Integration {
		return false
	}
	return true
}
