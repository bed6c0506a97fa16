// Package governor implements the Rate & Circuit Governor: per-integration
// rate windows (second/minute/hour/day) and a three-state circuit breaker.
// Each integration's budget has a single logical owner; different
// integrations proceed fully in parallel.
package governor

import (
	"time"
)

// BreakerState is the circuit breaker state for one integration.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// WindowConfig holds the per-window call ceilings. A zero ceiling disables
// that window.
type WindowConfig struct {
	PerSecond int `yaml:"per_second" json:"per_second"`
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
	PerDay    int `yaml:"per_day" json:"per_day"`
}

// BreakerConfig tunes the circuit breaker for one integration.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from CLOSED.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// CoolDown is the base OPEN duration before a HALF_OPEN trial.
	CoolDown time.Duration `yaml:"cool_down" json:"cool_down"`
	// BackoffMultiplier grows the cool-down on repeated reopenings.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// MaxCoolDown caps the grown cool-down.
	MaxCoolDown time.Duration `yaml:"max_cool_down" json:"max_cool_down"`
}

// DefaultBreakerConfig returns the tuning used when an integration has no
// explicit configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		CoolDown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCoolDown:       5 * time.Minute,
	}
}

// IntegrationConfig bundles the governor tuning for one integration name.
type IntegrationConfig struct {
	Windows WindowConfig  `yaml:"windows" json:"windows"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// WindowStatus is a read-only snapshot of one rate window.
type WindowStatus struct {
	Span      time.Duration `json:"span"`
	Ceiling   int           `json:"ceiling"`
	Used      int           `json:"used"`
	ResetsAt  time.Time     `json:"resets_at"`
	Exhausted bool          `json:"exhausted"`
}

// BudgetStatus is the dashboard-facing snapshot of an integration budget.
type BudgetStatus struct {
	Integration         string         `json:"integration"`
	Windows             []WindowStatus `json:"windows"`
	Breaker             BreakerState   `json:"breaker"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Reopenings          int            `json:"reopenings"`
	LastStateChange     time.Time      `json:"last_state_change"`
}
