// Package classifier implements the Action Classifier Gate. It scores a
// proposed action for policy risk (prompt injection, jailbreak, exfiltration,
// PII exposure) and returns a RiskVerdict. The detector is pluggable; the
// gate only needs its verdict shape. Classification is fail-safe: a detector
// that times out yields a high-risk verdict, never a silent allow.
package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// Detector produces a risk verdict for a proposed action. Implementations
// must be pure with respect to the action payload: same payload, same
// verdict, for a fixed detector configuration.
type Detector interface {
	Detect(ctx context.Context, action *contracts.ProposedAction) (contracts.RiskVerdict, error)
}

// DefaultTimeout bounds a single detector call. Low hundreds of milliseconds
// keeps the pipeline responsive while leaving room for an external detector
// round trip.
const DefaultTimeout = 250 * time.Millisecond

// Gate wraps a Detector with the bounded time budget.
type Gate struct {
	detector Detector
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a gate around the given detector. A zero timeout selects
// DefaultTimeout; a nil logger selects slog.Default().
func NewGate(d Detector, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{detector: d, timeout: timeout, logger: logger}
}

// timeoutVerdict is the fail-safe result when the detector cannot answer in
// time: high risk with a detector-timeout signal, so the Router queues the
// action for human review instead of blocking the pipeline or failing open.
func timeoutVerdict() contracts.RiskVerdict {
	return contracts.RiskVerdict{
		Level:      contracts.RiskHigh,
		Signals:    []contracts.SignalCategory{contracts.SignalDetectorTimeout},
		Confidence: 1.0,
	}
}

// Classify runs the detector within the time budget and returns its verdict.
// It never returns an error: detector failure and timeout both degrade to the
// fail-safe high-risk verdict.
func (g *Gate) Classify(ctx context.Context, action *contracts.ProposedAction) contracts.RiskVerdict {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		verdict contracts.RiskVerdict
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := g.detector.Detect(ctx, action)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			g.logger.Warn("detector failed, degrading to high risk",
				"action_id", action.ID, "error", r.err)
			return timeoutVerdict()
		}
		return r.verdict
	case <-ctx.Done():
		g.logger.Warn("detector timeout, degrading to high risk",
			"action_id", action.ID, "budget", g.timeout)
		return timeoutVerdict()
	}
}
