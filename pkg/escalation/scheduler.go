package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
)

// Clock provides time for deadlines; injectable for tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Notification is the payload handed to the notification collaborator on
// every escalation-level transition.
type Notification struct {
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	RequestID string    `json:"request_id"`
	Level     int       `json:"level"`
	Deadline  time.Time `json:"deadline"`
}

// Notifier dispatches escalation notifications. Fire-and-forget from the
// scheduler's perspective; delivery outcome feeds the Governor's breaker for
// the notification integration.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutcomeRecorder is the Governor surface the scheduler reports notification
// outcomes to.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, integration string, success bool) error
}

// DefaultScanInterval keeps resolution latency small relative to the
// shortest configured deadline without per-request timers.
const DefaultScanInterval = 5 * time.Second

const defaultNotifyTimeout = 10 * time.Second

// Scheduler advances queued approvals through their escalation schedule
// until resolved or expired.
type Scheduler struct {
	store         Store
	ledger        ledger.Ledger
	notifier      Notifier
	outcomes      OutcomeRecorder
	clock         Clock
	scanInterval  time.Duration
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func WithScanInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.scanInterval = d }
}

func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler wires the scheduler. notifier and outcomes may be nil, in
// which case level transitions still advance on schedule and only the
// dispatch is skipped.
func NewScheduler(store Store, auditLedger ledger.Ledger, notifier Notifier, outcomes OutcomeRecorder, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:         store,
		ledger:        auditLedger,
		notifier:      notifier,
		outcomes:      outcomes,
		clock:         wallClock{},
		scanInterval:  DefaultScanInterval,
		notifyTimeout: defaultNotifyTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates a PENDING request at level 0 with the schedule's first
// deadline and dispatches the level-0 notification.
func (s *Scheduler) Enqueue(ctx context.Context, action *contracts.ProposedAction, verdict contracts.RiskVerdict, schedule policy.Schedule) (*Request, error) {
	if len(schedule.Levels) == 0 {
		schedule = policy.DefaultSchedule()
	}
	now := s.clock.Now()
	deadline := now.Add(schedule.Levels[0].After.Std())
	req := &Request{
		ID:          uuid.New().String(),
		ActionID:    action.ID,
		ActionType:  action.Type,
		Integration: action.Integration,
		EnqueuedAt:  now,
		Level:       0,
		Deadline:    deadline,
		Deadlines:   []time.Time{deadline},
		Schedule:    schedule,
		State:       StatePending,
		Verdict:     verdict,
	}

	payload := map[string]any{
		"change":    "enqueued",
		"action_id": action.ID,
		"level":     0,
		"deadline":  deadline.UTC(),
	}
	if _, err := s.ledger.Append(ctx, ledger.EventEscalation, "approval:"+req.ID, payload, nil); err != nil {
		return nil, fmt.Errorf("escalation: audit enqueue: %w", err)
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("escalation: persist request: %w", err)
	}

	s.dispatch(req, schedule.Levels[0])
	return req, nil
}

// Resolve applies an explicit resolver decision. Idempotent: resolving an
// already-terminal request is a no-op that reports the existing state. The
// returned bool is true when this call performed the transition.
func (s *Scheduler) Resolve(ctx context.Context, id string, outcome Resolution, resolver string) (*Request, bool, error) {
	if outcome != StateApproved && outcome != StateRejected {
		return nil, false, fmt.Errorf("escalation: invalid resolution %q", outcome)
	}
	return s.terminate(ctx, id, outcome, resolver)
}

// Cancel terminates an in-flight request (e.g. the action was superseded).
// Subject to the same idempotent-resolution rule.
func (s *Scheduler) Cancel(ctx context.Context, id string, resolver string) (*Request, bool, error) {
	return s.terminate(ctx, id, StateCancelled, resolver)
}

func (s *Scheduler) terminate(ctx context.Context, id string, outcome Resolution, resolver string) (*Request, bool, error) {
	won := false
	updated, err := s.store.Update(ctx, id, func(r *Request) error {
		if r.State.Terminal() {
			return nil
		}
		payload := map[string]any{
			"change":    "resolved",
			"action_id": r.ActionID,
			"level":     r.Level,
			"outcome":   string(outcome),
			"resolver":  resolver,
		}
		if _, err := s.ledger.Append(ctx, ledger.EventResolution, "approval:"+r.ID, payload, nil); err != nil {
			return fmt.Errorf("escalation: audit resolution: %w", err)
		}
		now := s.clock.Now()
		r.State = outcome
		r.Resolver = resolver
		r.ResolvedAt = &now
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, won, nil
}

// Run drives the periodic expiry scan until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("escalation scan failed", "error", err)
			}
		}
	}
}

// Scan advances every pending request whose deadline has lapsed. Exported so
// tests and operators can force a reconciliation pass.
func (s *Scheduler) Scan(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx, ListFilter{})
	if err != nil {
		return fmt.Errorf("escalation: list pending: %w", err)
	}
	now := s.clock.Now()
	for _, r := range pending {
		if r.Deadline.After(now) {
			continue
		}
		if err := s.advance(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// advance moves one lapsed request to its next level, or to EXPIRED from the
// final level. Races with Resolve through the store's atomic Update.
func (s *Scheduler) advance(ctx context.Context, id string) error {
	var notify *Notification
	var channel string
	_, err := s.store.Update(ctx, id, func(r *Request) error {
		now := s.clock.Now()
		if r.State.Terminal() || r.Deadline.After(now) {
			return nil
		}
		last := len(r.Schedule.Levels) - 1
		if r.Level >= last {
			payload := map[string]any{
				"change":    "expired",
				"action_id": r.ActionID,
				"level":     r.Level,
				"outcome":   string(StateExpired),
			}
			if _, err := s.ledger.Append(ctx, ledger.EventResolution, "approval:"+r.ID, payload, nil); err != nil {
				return fmt.Errorf("escalation: audit expiry: %w", err)
			}
			r.State = StateExpired
			r.ResolvedAt = &now
			return nil
		}

		next := r.Level + 1
		level := r.Schedule.Levels[next]
		deadline := now.Add(level.After.Std())
		payload := map[string]any{
			"change":    "escalated",
			"action_id": r.ActionID,
			"from":      r.Level,
			"to":        next,
			"channel":   level.Channel,
			"deadline":  deadline.UTC(),
		}
		if _, err := s.ledger.Append(ctx, ledger.EventEscalation, "approval:"+r.ID, payload, nil); err != nil {
			return fmt.Errorf("escalation: audit escalation: %w", err)
		}
		r.Level = next
		r.Deadline = deadline
		r.Deadlines = append(r.Deadlines, deadline)
		notify = &Notification{
			Channel:   level.Channel,
			Target:    level.Target,
			RequestID: r.ID,
			Level:     next,
			Deadline:  deadline,
		}
		channel = level.Channel
		return nil
	})
	if err != nil {
		return err
	}
	if notify != nil {
		s.dispatchNotification(*notify, channel)
	}
	return nil
}

func (s *Scheduler) dispatch(req *Request, level policy.Level) {
	s.dispatchNotification(Notification{
		Channel:   level.Channel,
		Target:    level.Target,
		RequestID: req.ID,
		Level:     req.Level,
		Deadline:  req.Deadline,
	}, level.Channel)
}

// dispatchNotification sends asynchronously. A channel failure never blocks
// the state transition; it is logged and reported to the Governor so
// repeated failures trip the breaker for that notification integration.
func (s *Scheduler) dispatchNotification(n Notification, channel string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		err := s.notifier.Notify(ctx, n)
		if err != nil {
			s.logger.Warn("notification dispatch failed",
				"request_id", n.RequestID, "channel", n.Channel, "error", err)
		}
		if s.outcomes != nil {
			integration := "notifications/" + channel
			if recErr := s.outcomes.RecordOutcome(ctx, integration, err == nil); recErr != nil {
				s.logger.Error("notification outcome not recorded",
					"integration", integration, "error", recErr)
			}
		}
	}()
}

// Get returns the current state of a request.
func (s *Scheduler) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListPending lists unresolved requests for the approval dashboard.
func (s *Scheduler) ListPending(ctx context.Context, f ListFilter) ([]*Request, error) {
	return s.store.ListPending(ctx, f)
}
