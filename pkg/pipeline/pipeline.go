// Package pipeline is the synchronous front door of the failsafe core. It
// runs every proposed action through classify -> admit -> route and exposes
// the operational surface: approval resolution, budget status, audit queries,
// and execution outcome reporting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/classifier"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/governor"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/router"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/token"
)

const instrumentationName = "failsafe/pipeline"

// Pipeline wires the gate, governor, router, and scheduler behind one API.
type Pipeline struct {
	gate      *classifier.Gate
	governor  *governor.Governor
	router    *router.Router
	scheduler *escalation.Scheduler
	ledger    ledger.Ledger
	tokens    *token.Issuer
	logger    *slog.Logger

	tracer    trace.Tracer
	submits   metric.Int64Counter
	outcomes  metric.Int64Counter
	submitDur metric.Float64Histogram
}

// New assembles the pipeline. tokens may be nil when execution authorization
// is handled out of band.
func New(gate *classifier.Gate, gov *governor.Governor, rt *router.Router, sched *escalation.Scheduler, auditLedger ledger.Ledger, tokens *token.Issuer, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter(instrumentationName)
	submits, err := meter.Int64Counter("failsafe.actions.submitted",
		metric.WithDescription("Proposed actions submitted, by route outcome"))
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	outcomes, err := meter.Int64Counter("failsafe.executions.reported",
		metric.WithDescription("Execution outcomes reported, by result"))
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	submitDur, err := meter.Float64Histogram("failsafe.submit.duration",
		metric.WithDescription("SubmitAction latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	return &Pipeline{
		gate:      gate,
		governor:  gov,
		router:    rt,
		scheduler: sched,
		ledger:    auditLedger,
		tokens:    tokens,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		submits:   submits,
		outcomes:  outcomes,
		submitDur: submitDur,
	}, nil
}

// SubmitAction runs one proposed action through the full gauntlet and returns
// the synchronous decision. The zero-value ID and RequestedAt are filled in.
func (p *Pipeline) SubmitAction(ctx context.Context, action *contracts.ProposedAction) (contracts.RouteDecision, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.SubmitAction",
		trace.WithAttributes(
			attribute.String("action.type", string(action.Type)),
			attribute.String("action.integration", action.Integration),
		))
	defer span.End()
	start := time.Now()

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.RequestedAt.IsZero() {
		action.RequestedAt = time.Now().UTC()
	}

	verdict := p.gate.Classify(ctx, action)
	span.SetAttributes(attribute.String("verdict.level", verdict.Level.String()))

	admit, err := p.governor.Admit(ctx, action.Integration)
	if err != nil {
		return contracts.RouteDecision{}, fmt.Errorf("pipeline: admit: %w", err)
	}

	decision, err := p.router.Route(ctx, action, verdict, admit)
	if err != nil {
		return contracts.RouteDecision{}, fmt.Errorf("pipeline: route: %w", err)
	}

	p.submits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(decision.Outcome)),
		attribute.String("action.type", string(action.Type)),
	))
	p.submitDur.Record(ctx, time.Since(start).Seconds())
	return decision, nil
}

// ResolutionResult reports an approval resolution back to the caller.
type ResolutionResult struct {
	Request *escalation.Request `json:"request"`
	// Applied is false when the request was already terminal and this call
	// was a no-op.
	Applied bool `json:"applied"`
	// AuthorizationToken is issued when this call APPROVED the request.
	AuthorizationToken string `json:"authorization_token,omitempty"`
}

// ResolveApproval applies a human decision to a queued request. Idempotent:
// a late resolve against an expired or already-resolved request is a no-op
// reporting the standing state.
func (p *Pipeline) ResolveApproval(ctx context.Context, requestID string, outcome escalation.Resolution, resolver string) (*ResolutionResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ResolveApproval",
		trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()

	req, applied, err := p.scheduler.Resolve(ctx, requestID, outcome, resolver)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve: %w", err)
	}
	result := &ResolutionResult{Request: req, Applied: applied}
	if applied && outcome == escalation.StateApproved && p.tokens != nil {
		signed, err := p.tokens.Issue(req.ActionID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: issue token: %w", err)
		}
		result.AuthorizationToken = signed
	}
	return result, nil
}

// CancelApproval withdraws a queued request, e.g. when the proposing agent
// superseded the action. Idempotent like ResolveApproval.
func (p *Pipeline) CancelApproval(ctx context.Context, requestID, resolver string) (*ResolutionResult, error) {
	req, applied, err := p.scheduler.Cancel(ctx, requestID, resolver)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cancel: %w", err)
	}
	return &ResolutionResult{Request: req, Applied: applied}, nil
}

// ExecutionReported records the real-world result of an authorized call; it
// drives the integration's circuit breaker.
func (p *Pipeline) ExecutionReported(ctx context.Context, integration string, success bool) error {
	if err := p.governor.RecordOutcome(ctx, integration, success); err != nil {
		return fmt.Errorf("pipeline: record outcome: %w", err)
	}
	p.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("integration", integration),
		attribute.Bool("success", success),
	))
	return nil
}

// GetBudgetStatus snapshots window usage and breaker state for an
// integration.
func (p *Pipeline) GetBudgetStatus(integration string) governor.BudgetStatus {
	return p.governor.Status(integration)
}

// ListPendingApprovals lists unresolved requests for the review surface.
func (p *Pipeline) ListPendingApprovals(ctx context.Context, f escalation.ListFilter) ([]*escalation.Request, error) {
	return p.scheduler.ListPending(ctx, f)
}

// GetApproval returns one approval request by id.
func (p *Pipeline) GetApproval(ctx context.Context, requestID string) (*escalation.Request, error) {
	return p.scheduler.Get(ctx, requestID)
}

// QueryAuditTrail reads the ledger with the given filter.
func (p *Pipeline) QueryAuditTrail(ctx context.Context, f ledger.Filter) ([]*ledger.Event, error) {
	return p.ledger.Query(ctx, f)
}

// VerifyAuditChain re-walks the hash chain and reports the first break.
func (p *Pipeline) VerifyAuditChain(ctx context.Context) error {
	return p.ledger.VerifyChain(ctx)
}
