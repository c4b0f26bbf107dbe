// Package webhook resolves gateway confirmations to transactions and applies them through the
// payment state machine. Deliveries are at-least-once and may arrive out of order or concurrently.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"elearning-marketplace/backend/internal/audit"
	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	"elearning-marketplace/backend/internal/db/uow"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/replay"
	paymentrepo "elearning-marketplace/backend/internal/payment/repository"
	"elearning-marketplace/backend/internal/payment/service"
	"elearning-marketplace/backend/internal/telemetry"
)

var (
	// ErrUnresolvableConfirmation means the delivery names no transaction we have or can create.
	ErrUnresolvableConfirmation = errors.New("confirmation cannot be resolved to a transaction")
	ErrInvalidSignature         = errors.New("invalid confirmation signature")
)

const (
	module           = "webhook"
	defaultReplayTTL = 24 * time.Hour
	createAttempts   = 2
)

var tracer = otel.Tracer("elearning-marketplace/webhook")

// Outcome classifies a processed delivery. Only errors produce a non-2xx response.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeUnknown   Outcome = "unknown_status"
)

// Result reports what a delivery did. Transaction is nil for replay-guard hits.
type Result struct {
	Outcome     Outcome
	Transaction *domain.Transaction
}

// OutcomeRecorder counts outcomes; *otel.Metrics satisfies it.
type OutcomeRecorder interface {
	WebhookOutcome(ctx context.Context, outcome string)
}

// Config holds the verification settings. An empty Key disables signature checks.
type Config struct {
	CustomerID string
	Key        string
	ReplayTTL  time.Duration
}

// Processor applies confirmations.
type Processor struct {
	payments *service.Service
	uow      uow.Manager
	guard    replay.Guard
	cfg      Config
	audit    audit.LogSink
	events   telemetry.EventEmitter
	log      logging.Logger
	metrics  OutcomeRecorder
}

// NewProcessor returns a Processor. guard, sink, events, log and metrics may be nil.
func NewProcessor(payments *service.Service, m uow.Manager, guard replay.Guard, cfg Config, sink audit.LogSink, events telemetry.EventEmitter, log logging.Logger, metrics OutcomeRecorder) *Processor {
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = defaultReplayTTL
	}
	return &Processor{
		payments: payments,
		uow:      m,
		guard:    guard,
		cfg:      cfg,
		audit:    sink,
		events:   events,
		log:      log.With("component", module),
		metrics:  metrics,
	}
}

// Process verifies and applies one delivery. Replays, stale statuses and unknown statuses
// return a Result and no error so the gateway stops redelivering.
func (p *Processor) Process(ctx context.Context, c Confirmation) (*Result, error) {
	ctx, span := tracer.Start(ctx, "webhook.Process", trace.WithAttributes(
		attribute.String("ref_payco", c.RefPayco), attribute.String("state", c.Status)))
	defer span.End()

	if p.cfg.Key != "" && !verify(p.cfg.CustomerID, p.cfg.Key, c) {
		p.log.Warn(ctx, "webhook: signature mismatch", "ref_payco", c.RefPayco)
		p.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "signature_mismatch",
			fmt.Sprintf("confirmation %s rejected: bad signature", c.RefPayco), "")
		return nil, ErrInvalidSignature
	}
	if c.RefPayco == "" {
		return nil, ErrUnresolvableConfirmation
	}

	status, known := domain.MapGatewayStatus(c.Status)
	key := replay.Key(c.RefPayco, string(status))
	if known && p.guard != nil {
		seen, err := p.guard.Seen(ctx, key)
		if err != nil {
			p.log.Warn(ctx, "webhook: replay guard unavailable", "error", err)
		} else if seen {
			p.record(ctx, OutcomeDuplicate)
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	var (
		res *Result
		ch  *service.Change
		err error
	)
	for range createAttempts {
		res, ch, err = p.apply(ctx, c, status, known)
		if !errors.Is(err, paymentrepo.ErrDuplicateExternalID) {
			break
		}
		// A concurrent delivery created the transaction first; the next pass finds it.
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrUnresolvableConfirmation) {
			p.log.Warn(ctx, "webhook: unresolvable confirmation", "ref_payco", c.RefPayco, "invoice", c.Invoice)
			return nil, err
		}
		return nil, fmt.Errorf("webhook.Process: %w", err)
	}

	p.payments.Publish(ctx, ch)
	p.after(ctx, c, res)
	if known && p.guard != nil && res.Outcome != OutcomeUnknown {
		if err := p.guard.Remember(ctx, key, p.cfg.ReplayTTL); err != nil {
			p.log.Warn(ctx, "webhook: could not remember delivery", "error", err)
		}
	}
	p.record(ctx, res.Outcome)
	return res, nil
}

func (p *Processor) apply(ctx context.Context, c Confirmation, status domain.Status, known bool) (*Result, *service.Change, error) {
	var (
		res *Result
		ch  *service.Change
	)
	err := p.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		t, err := p.resolve(ctx, r, c)
		if err != nil {
			return err
		}
		if !known {
			res = &Result{Outcome: OutcomeUnknown, Transaction: t}
			return nil
		}
		ch, err = p.payments.ApplyWithin(ctx, r, t, service.Update{
			Status:       status,
			ExternalID:   c.RefPayco,
			ErrorMessage: c.Reason,
		})
		switch {
		case errors.Is(err, service.ErrInvalidTransition):
			res = &Result{Outcome: OutcomeStale, Transaction: t}
			return nil
		case err != nil:
			return err
		}
		outcome := OutcomeApplied
		if !ch.Changed {
			outcome = OutcomeDuplicate
		}
		res = &Result{Outcome: outcome, Transaction: ch.Transaction}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, ch, nil
}

// resolve finds the transaction by gateway reference, then by our own reference, and finally
// materializes one from the delivery's user and course extras.
func (p *Processor) resolve(ctx context.Context, r uow.Repos, c Confirmation) (*domain.Transaction, error) {
	t, err := r.Transactions().GetByExternalIDForUpdate(ctx, c.RefPayco)
	if err != nil || t != nil {
		return t, err
	}
	if c.Invoice != "" {
		t, err = r.Transactions().GetByReferenceForUpdate(ctx, c.Invoice)
		if err != nil || t != nil {
			return t, err
		}
	}
	if c.UserID == "" || c.CourseID == "" {
		return nil, ErrUnresolvableConfirmation
	}
	course, err := r.Courses().GetByID(ctx, c.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, ErrUnresolvableConfirmation
	}
	amount := course.PriceMinor
	if c.Amount != "" {
		if amount, err = domain.ParseMinor(c.Amount); err != nil {
			return nil, ErrUnresolvableConfirmation
		}
	}
	currency := c.Currency
	if currency == "" {
		currency = course.Currency
	}
	t, err = domain.NewTransaction(c.UserID, c.CourseID, amount, currency, c.Franchise, p.payments.GatewayName(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	t.ExternalID = c.RefPayco
	t.Description = "created from gateway confirmation"
	if err := r.Transactions().Create(ctx, t); err != nil {
		return nil, err
	}
	p.log.Info(ctx, "webhook: transaction materialized from confirmation", "reference", t.Reference, "ref_payco", c.RefPayco)
	return t, nil
}

func (p *Processor) after(ctx context.Context, c Confirmation, res *Result) {
	t := res.Transaction
	switch res.Outcome {
	case OutcomeUnknown:
		p.log.Warn(ctx, "webhook: unknown gateway status", "ref_payco", c.RefPayco, "state", c.Status)
		p.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "unknown_status",
			fmt.Sprintf("transaction %s: gateway status %q not recognised", t.Reference, c.Status), t.UserID)
		telemetry.EmitAsync(ctx, p.events, p.log, telemetry.NewEvent(telemetry.TypeWebhookUnknownStatus, module).
			WithUser(t.UserID).WithSubject(t.ID).With("state", c.Status))
	case OutcomeStale:
		p.log.Info(ctx, "webhook: stale confirmation ignored", "reference", t.Reference, "current", t.Status, "state", c.Status)
		telemetry.EmitAsync(ctx, p.events, p.log, telemetry.NewEvent(telemetry.TypeWebhookStale, module).
			WithUser(t.UserID).WithSubject(t.ID).With("current", string(t.Status)).With("state", c.Status))
	}
	if t == nil || c.Amount == "" {
		return
	}
	if amount, err := domain.ParseMinor(c.Amount); err == nil && amount != t.AmountMinor {
		p.log.Warn(ctx, "webhook: confirmed amount differs from transaction", "reference", t.Reference,
			"confirmed", amount, "expected", t.AmountMinor)
		p.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "amount_mismatch",
			fmt.Sprintf("transaction %s confirmed %s, expected %s", t.Reference, c.Amount, domain.FormatMinor(t.AmountMinor)), t.UserID)
	}
}

func (p *Processor) record(ctx context.Context, o Outcome) {
	if p.metrics != nil {
		p.metrics.WebhookOutcome(ctx, string(o))
	}
}
