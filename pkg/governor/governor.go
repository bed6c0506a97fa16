package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
)

// Clock provides time for window and breaker arithmetic; injectable for
// tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// SharedWindowStore is an optional distributed backing for the rate windows,
// for multi-node deployments where the ceiling must hold across processes.
// The breaker stays process-local either way.
type SharedWindowStore interface {
	// Admit atomically checks and consumes all configured windows for the
	// integration. It returns the verdict, the shortest retry-after across
	// violated windows, and whether this attempt was the first rejection in
	// the violated window's current period.
	Admit(ctx context.Context, integration string, cfg WindowConfig) (allowed bool, retryAfter time.Duration, firstExhaustion bool, err error)
}

// Governor tracks per-integration call volume and failure rate and admits,
// throttles, or rejects proposed calls. Admit and RecordOutcome are
// linearizable per integration name: concurrent admits never jointly
// overspend a window ceiling.
type Governor struct {
	mu      sync.RWMutex
	budgets map[string]*integrationBudget

	defaults IntegrationConfig
	configs  map[string]IntegrationConfig
	shared   SharedWindowStore
	ledger   ledger.Ledger
	clock    Clock
	logger   *slog.Logger
}

// integrationBudget is the single-owner mutable state for one integration.
type integrationBudget struct {
	mu      sync.Mutex
	name    string
	windows []*fixedWindow
	breaker *breaker
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock injects a test clock.
func WithClock(c Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithIntegrationConfig sets per-integration tuning; unnamed integrations
// fall back to the defaults.
func WithIntegrationConfig(configs map[string]IntegrationConfig) Option {
	return func(g *Governor) { g.configs = configs }
}

// WithSharedWindowStore delegates window accounting to a distributed store.
func WithSharedWindowStore(s SharedWindowStore) Option {
	return func(g *Governor) { g.shared = s }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// New creates a Governor writing every window exhaustion and breaker
// transition to the given ledger before the result becomes observable.
func New(auditLedger ledger.Ledger, defaults IntegrationConfig, opts ...Option) *Governor {
	g := &Governor{
		budgets:  make(map[string]*integrationBudget),
		defaults: defaults,
		ledger:   auditLedger,
		clock:    wallClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Governor) budgetFor(name string) *integrationBudget {
	g.mu.RLock()
	b, ok := g.budgets[name]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.budgets[name]; ok {
		return b
	}
	cfg := g.defaults
	if c, ok := g.configs[name]; ok {
		cfg = c
	}
	b = &integrationBudget{
		name:    name,
		windows: newWindows(cfg.Windows),
		breaker: newBreaker(cfg.Breaker),
	}
	g.budgets[name] = b
	return b
}

// Admit decides whether a call to the integration may proceed right now.
// ALLOW consumes budget in every active window; the caller must report the
// eventual execution result through RecordOutcome exactly once.
func (g *Governor) Admit(ctx context.Context, integration string) (contracts.AdmitResult, error) {
	b := g.budgetFor(integration)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := g.clock.Now()

	ok, retryAfter, tr := b.breaker.admit(now)
	if tr != nil {
		if err := g.auditTransition(ctx, integration, tr); err != nil {
			return contracts.AdmitResult{}, err
		}
	}
	if !ok {
		return contracts.AdmitResult{
			Decision:   contracts.AdmitBreakerOpen,
			RetryAfter: retryAfter,
		}, nil
	}

	res, err := g.admitWindows(ctx, b, integration, now)
	if err != nil || res.Decision != contracts.AdmitAllow {
		// The windows refused what the breaker admitted: nothing will
		// execute, so no RecordOutcome is coming for a claimed trial.
		b.breaker.releaseTrial()
	}
	return res, err
}

// admitWindows runs the rate-window half of the admission, local or shared.
// Caller holds the budget lock.
func (g *Governor) admitWindows(ctx context.Context, b *integrationBudget, integration string, now time.Time) (contracts.AdmitResult, error) {
	if g.shared != nil {
		return g.admitShared(ctx, integration)
	}

	// Check every window first; consume only when all allow.
	var violated []*fixedWindow
	for _, w := range b.windows {
		w.roll(now)
		if !w.hasBudget() {
			violated = append(violated, w)
		}
	}
	if len(violated) > 0 {
		shortest := violated[0].retryAfter(now)
		for _, w := range violated[1:] {
			if ra := w.retryAfter(now); ra < shortest {
				shortest = ra
			}
		}
		for _, w := range violated {
			if w.exhaustionLogged {
				continue
			}
			if err := g.auditExhaustion(ctx, integration, w); err != nil {
				return contracts.AdmitResult{}, err
			}
			w.exhaustionLogged = true
		}
		return contracts.AdmitResult{
			Decision:   contracts.AdmitThrottled,
			RetryAfter: shortest,
		}, nil
	}
	for _, w := range b.windows {
		w.consume()
	}
	return contracts.AdmitResult{Decision: contracts.AdmitAllow}, nil
}

func (g *Governor) admitShared(ctx context.Context, integration string) (contracts.AdmitResult, error) {
	cfg := g.defaults.Windows
	if c, ok := g.configs[integration]; ok {
		cfg = c.Windows
	}
	allowed, retryAfter, firstExhaustion, err := g.shared.Admit(ctx, integration, cfg)
	if err != nil {
		// Fail-safe: a broken shared store throttles rather than allows.
		g.logger.Error("shared window store failed, throttling",
			"integration", integration, "error", err)
		return contracts.AdmitResult{
			Decision:   contracts.AdmitThrottled,
			RetryAfter: time.Second,
		}, nil
	}
	if allowed {
		return contracts.AdmitResult{Decision: contracts.AdmitAllow}, nil
	}
	if firstExhaustion {
		payload := map[string]any{
			"integration": integration,
			"change":      "window-exhausted",
			"shared":      true,
		}
		if _, err := g.ledger.Append(ctx, ledger.EventStateChange, "integration:"+integration, payload, nil); err != nil {
			return contracts.AdmitResult{}, err
		}
	}
	return contracts.AdmitResult{
		Decision:   contracts.AdmitThrottled,
		RetryAfter: retryAfter,
	}, nil
}

// RecordOutcome reports the execution result of a previously admitted call.
// Must be called exactly once per admitted call that actually executed
// externally; it drives the breaker state machine.
func (g *Governor) RecordOutcome(ctx context.Context, integration string, success bool) error {
	b := g.budgetFor(integration)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := g.clock.Now()

	tr := b.breaker.onOutcome(success, now)
	if tr == nil {
		return nil
	}
	if err := g.auditTransition(ctx, integration, tr); err != nil {
		return err
	}
	g.logger.Info("breaker transition",
		"integration", integration, "from", tr.From, "to", tr.To)
	return nil
}

// Status returns a read-only snapshot of the integration's budget.
func (g *Governor) Status(integration string) BudgetStatus {
	b := g.budgetFor(integration)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := g.clock.Now()

	st := BudgetStatus{
		Integration:         integration,
		Breaker:             b.breaker.state,
		ConsecutiveFailures: b.breaker.failures,
		Reopenings:          b.breaker.reopenings,
		LastStateChange:     b.breaker.lastChange,
	}
	for _, w := range b.windows {
		w.roll(now)
		st.Windows = append(st.Windows, w.status())
	}
	return st
}

func (g *Governor) auditTransition(ctx context.Context, integration string, tr *transition) error {
	payload := map[string]any{
		"integration": integration,
		"change":      "breaker-transition",
		"from":        string(tr.From),
		"to":          string(tr.To),
	}
	if tr.RemainingCoolDown > 0 {
		payload["cool_down"] = tr.RemainingCoolDown.String()
	}
	_, err := g.ledger.Append(ctx, ledger.EventStateChange, "integration:"+integration, payload, nil)
	if err != nil {
		return fmt.Errorf("governor: audit breaker transition: %w", err)
	}
	return nil
}

func (g *Governor) auditExhaustion(ctx context.Context, integration string, w *fixedWindow) error {
	payload := map[string]any{
		"integration": integration,
		"change":      "window-exhausted",
		"window":      w.span.String(),
		"ceiling":     w.ceiling,
		"resets_at":   w.start.Add(w.span).UTC(),
	}
	_, err := g.ledger.Append(ctx, ledger.EventStateChange, "integration:"+integration, payload, nil)
	if err != nil {
		return fmt.Errorf("governor: audit window exhaustion: %w", err)
	}
	return nil
}
