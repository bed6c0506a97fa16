// Package policy defines the per-action-type approval rules the Router
// dispatches on. The policy kind is a closed variant matched exhaustively:
// new kinds require an explicit, auditable code change here.
package policy

import (
	"fmt"
	"time"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// Kind selects the approval behavior for an action type.
type Kind string

const (
	// AlwaysApprove auto-clears when the verdict is at or below the
	// configured risk ceiling.
	AlwaysApprove Kind = "ALWAYS_APPROVE"
	// NeverAutoApprove queues unconditionally; only a human resolves.
	NeverAutoApprove Kind = "NEVER_AUTO_APPROVE"
	// Smart auto-clears only when the verdict passes both the risk ceiling
	// and the confidence minimum (plus the optional guard expression).
	Smart Kind = "SMART"
)

// ParseKind validates a configuration string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case AlwaysApprove, NeverAutoApprove, Smart:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown policy kind %q", s)
}

// CriticalAction decides what a critical-risk verdict forces: queueing for
// human review or outright rejection. Auto-clearing is never an option.
type CriticalAction string

const (
	CriticalQueue  CriticalAction = "queue"
	CriticalReject CriticalAction = "reject"
)

// Duration wraps time.Duration with YAML support for "30m"-style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Level is one step of an escalation schedule: who gets notified over which
// channel, and how long they have before the request advances.
type Level struct {
	Channel string   `yaml:"channel" json:"channel"`
	Target  string   `yaml:"target" json:"target"`
	After   Duration `yaml:"after" json:"after"`
}

// Schedule is the ordered escalation ladder for queued approvals.
type Schedule struct {
	Levels []Level `yaml:"levels" json:"levels"`
}

// DefaultSchedule is applied when an action type configures none: primary
// contact by email for two hours, then SMS for one more.
func DefaultSchedule() Schedule {
	return Schedule{Levels: []Level{
		{Channel: "email", Target: "approvals", After: Duration(2 * time.Hour)},
		{Channel: "sms", Target: "approvals", After: Duration(1 * time.Hour)},
	}}
}

// ApprovalPolicy is the static rule for one action type. Loaded once,
// read-only at runtime.
type ApprovalPolicy struct {
	Kind Kind `yaml:"kind" json:"kind"`
	// AutoClearCeiling is the highest verdict risk that may auto-clear
	// (default low).
	AutoClearCeiling contracts.RiskLevel `yaml:"auto_clear_ceiling" json:"auto_clear_ceiling"`
	// MinConfidence is the SMART confidence floor for auto-clearing.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	// Guard is an optional CEL expression over {action, verdict}; SMART
	// auto-clearing additionally requires it to evaluate true.
	Guard string `yaml:"guard" json:"guard"`
	// Critical selects the forced outcome for critical-risk verdicts.
	Critical   CriticalAction `yaml:"critical" json:"critical"`
	Escalation Schedule       `yaml:"escalation" json:"escalation"`
}

func (p ApprovalPolicy) withDefaults() ApprovalPolicy {
	if p.Kind == "" {
		p.Kind = NeverAutoApprove
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = 0.75
	}
	if p.Critical == "" {
		p.Critical = CriticalQueue
	}
	if len(p.Escalation.Levels) == 0 {
		p.Escalation = DefaultSchedule()
	}
	return p
}

// Set holds the loaded policies keyed by action type plus the fallback for
// unlisted types. The fallback is NEVER_AUTO_APPROVE: an unknown verb is
// never silently cleared.
type Set struct {
	policies map[contracts.ActionType]ApprovalPolicy
	fallback ApprovalPolicy
}

// NewSet builds a policy set, normalizing defaults on every entry.
func NewSet(policies map[contracts.ActionType]ApprovalPolicy) *Set {
	normalized := make(map[contracts.ActionType]ApprovalPolicy, len(policies))
	for t, p := range policies {
		normalized[t] = p.withDefaults()
	}
	return &Set{
		policies: normalized,
		fallback: ApprovalPolicy{Kind: NeverAutoApprove}.withDefaults(),
	}
}

// For returns the policy for an action type.
func (s *Set) For(t contracts.ActionType) ApprovalPolicy {
	if p, ok := s.policies[t]; ok {
		return p
	}
	return s.fallback
}
