// Package service implements the payment transaction state machine. Every status write and its
// enrollment side effect commit in one transaction; audit, telemetry and metrics follow the commit.
package service

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
	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/gateway"
	"elearning-marketplace/backend/internal/telemetry"
)

var (
	ErrNotFound             = errors.New("transaction not found")
	ErrInvalidTransition    = errors.New("invalid transaction status transition")
	ErrCourseNotFound       = errors.New("course not found")
	ErrNoExternalReference  = errors.New("transaction has no gateway reference yet")
	ErrInvalidPaymentParams = errors.New("invalid payment parameters")
)

const module = "payment"

var tracer = otel.Tracer("elearning-marketplace/payment")

// Gateway is the outbound payment gateway.
type Gateway interface {
	CreatePayment(ctx context.Context, in gateway.PaymentRequest) (*gateway.PaymentResult, error)
	GetPayment(ctx context.Context, externalID string) (*gateway.PaymentStatus, error)
}

// Enrollments is the enrollment state machine as seen from a payment. The *ForPayment/ForRefund
// calls run inside the payment's transaction; Activated and Cancelled run after it commits.
type Enrollments interface {
	ActivateForPayment(ctx context.Context, r uow.Repos, studentID, courseID string, amountPaidMinor int64) (*enrollmentdomain.Enrollment, bool, error)
	CancelForRefund(ctx context.Context, r uow.Repos, enrollmentID string) (*enrollmentdomain.Enrollment, bool, error)
	Activated(ctx context.Context, e *enrollmentdomain.Enrollment)
	Cancelled(ctx context.Context, e *enrollmentdomain.Enrollment, reason string)
}

// TransitionRecorder counts status changes; *otel.Metrics satisfies it.
type TransitionRecorder interface {
	Transition(ctx context.Context, from, to string)
}

// Update is a requested status change.
type Update struct {
	Status       domain.Status
	ExternalID   string
	ErrorMessage string
	RefundReason string
}

// Change describes what ApplyWithin did.
type Change struct {
	Transaction *domain.Transaction
	From, To    domain.Status
	// Changed is false for a same-status no-op.
	Changed             bool
	Enrollment          *enrollmentdomain.Enrollment
	EnrollmentActivated bool
	EnrollmentCancelled bool
}

// CreateInput holds the parameters of a new transaction.
type CreateInput struct {
	UserID      string
	CourseID    string
	AmountMinor int64
	Currency    string
	Method      string
	Description string
}

// CheckoutResult is returned by Checkout.
type CheckoutResult struct {
	Transaction *domain.Transaction
	RedirectURL string
}

// Service owns the transaction lifecycle.
type Service struct {
	uow         uow.Manager
	enrollments Enrollments
	gateway     Gateway
	audit       audit.LogSink
	events      telemetry.EventEmitter
	log         logging.Logger
	metrics     TransitionRecorder
	gatewayName string
	now         func() time.Time
}

// Deps are the collaborators of Service. Audit, Events, Log and Metrics may be nil.
type Deps struct {
	UoW         uow.Manager
	Enrollments Enrollments
	Gateway     Gateway
	Audit       audit.LogSink
	Events      telemetry.EventEmitter
	Log         logging.Logger
	Metrics     TransitionRecorder
	GatewayName string
}

// NewService returns a Service.
func NewService(d Deps) *Service {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.GatewayName == "" {
		d.GatewayName = "epayco"
	}
	return &Service{
		uow:         d.UoW,
		enrollments: d.Enrollments,
		gateway:     d.Gateway,
		audit:       d.Audit,
		events:      d.Events,
		log:         d.Log.With("component", module),
		metrics:     d.Metrics,
		gatewayName: d.GatewayName,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GatewayName is the name stamped on transactions created by this service.
func (s *Service) GatewayName() string { return s.gatewayName }

// Create stores a PENDING transaction. An amount different from the course's listed price is
// allowed (promotions) but logged and audited.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Transaction, error) {
	const op = "payment.Create"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("course_id", in.CourseID)))
	defer span.End()

	if in.UserID == "" || in.Currency == "" {
		return nil, ErrInvalidPaymentParams
	}
	var listed int64 = -1
	if in.CourseID != "" {
		course, err := s.uow.Repos().Courses().GetByID(ctx, in.CourseID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if course == nil {
			return nil, ErrCourseNotFound
		}
		listed = course.PriceMinor
		if in.AmountMinor == 0 {
			in.AmountMinor = course.PriceMinor
		}
	}
	if in.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	t, err := domain.NewTransaction(in.UserID, in.CourseID, in.AmountMinor, in.Currency, in.Method, s.gatewayName, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.Description = in.Description
	if err := s.uow.Repos().Transactions().Create(ctx, t); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if listed >= 0 && listed != t.AmountMinor {
		msg := fmt.Sprintf("transaction %s amount %s differs from course %s price %s",
			t.Reference, domain.FormatMinor(t.AmountMinor), t.CourseID, domain.FormatMinor(listed))
		s.log.Warn(ctx, "payment: amount differs from course price", "reference", t.Reference,
			"amount", t.AmountMinor, "listed", listed)
		s.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "price_mismatch", msg, t.UserID)
		telemetry.EmitAsync(ctx, s.events, s.log, telemetry.NewEvent(telemetry.TypePaymentPriceMismatch, module).
			WithUser(t.UserID).WithSubject(t.ID).With("listed", domain.FormatMinor(listed)).With("amount", domain.FormatMinor(t.AmountMinor)))
	}
	return t, nil
}

// Get returns the transaction or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := s.uow.Repos().Transactions().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("payment.Get: %w", err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// ApplyUpdate locks the transaction, applies upd and publishes the change after commit.
func (s *Service) ApplyUpdate(ctx context.Context, id string, upd Update) (*Change, error) {
	const op = "payment.ApplyUpdate"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("to", string(upd.Status))))
	defer span.End()

	var ch *Change
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		t, err := r.Transactions().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrNotFound
		}
		ch, err = s.ApplyWithin(ctx, r, t, upd)
		return err
	})
	if err != nil {
		span.RecordError(err)
		if isSentinel(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.Publish(ctx, ch)
	return ch, nil
}

// ApplyWithin applies upd to t, which the caller has locked inside r's transaction. Moving to the
// current status is a no-op apart from recording a missing external id, so replays never re-run
// side effects. Illegal edges return ErrInvalidTransition and leave t untouched.
func (s *Service) ApplyWithin(ctx context.Context, r uow.Repos, t *domain.Transaction, upd Update) (*Change, error) {
	ch := &Change{Transaction: t, From: t.Status, To: upd.Status}
	if !upd.Status.Valid() {
		return nil, ErrInvalidTransition
	}
	now := s.now()

	if t.Status == upd.Status {
		if upd.ExternalID != "" && t.ExternalID == "" {
			t.ExternalID = upd.ExternalID
			t.UpdatedAt = now
			if err := r.Transactions().Update(ctx, t); err != nil {
				return nil, err
			}
		}
		return ch, nil
	}
	if !t.Status.CanTransitionTo(upd.Status) {
		return nil, ErrInvalidTransition
	}

	next := *t
	switch upd.Status {
	case domain.StatusCompleted:
		if next.CompletedAt == nil {
			next.CompletedAt = &now
		}
		if next.CourseID != "" && s.enrollments != nil {
			e, activated, err := s.enrollments.ActivateForPayment(ctx, r, next.UserID, next.CourseID, next.AmountMinor)
			if err != nil {
				return nil, err
			}
			next.EnrollmentID = e.ID
			ch.Enrollment, ch.EnrollmentActivated = e, activated
		}
	case domain.StatusFailed, domain.StatusCancelled:
		next.ErrorMessage = upd.ErrorMessage
	case domain.StatusRefunded:
		if next.RefundedAt == nil {
			next.RefundedAt = &now
		}
		next.RefundReason = upd.RefundReason
		if next.EnrollmentID != "" && s.enrollments != nil {
			e, cancelled, err := s.enrollments.CancelForRefund(ctx, r, next.EnrollmentID)
			if err != nil {
				return nil, err
			}
			ch.Enrollment, ch.EnrollmentCancelled = e, cancelled
		}
	}
	if upd.ExternalID != "" && next.ExternalID == "" {
		next.ExternalID = upd.ExternalID
	}
	next.Status = upd.Status
	next.UpdatedAt = now
	if err := r.Transactions().Update(ctx, &next); err != nil {
		return nil, err
	}
	*t = next
	ch.Changed = true
	return ch, nil
}

// Publish records audit, telemetry and metrics for a committed change. Unchanged is a no-op.
func (s *Service) Publish(ctx context.Context, ch *Change) {
	if ch == nil || !ch.Changed {
		return
	}
	t := ch.Transaction
	if s.metrics != nil {
		s.metrics.Transition(ctx, string(ch.From), string(ch.To))
	}
	level := auditdomain.LevelInfo
	if ch.To == domain.StatusFailed {
		level = auditdomain.LevelWarn
	}
	s.audit.LogEvent(ctx, level, module, "status_changed",
		fmt.Sprintf("transaction %s %s -> %s", t.Reference, ch.From, ch.To), t.UserID)
	s.log.Info(ctx, "payment: status changed", "reference", t.Reference, "from", ch.From, "to", ch.To)
	telemetry.EmitAsync(ctx, s.events, s.log, telemetry.NewEvent(telemetry.TypePaymentStatusChanged, module).
		WithUser(t.UserID).WithSubject(t.ID).With("from", string(ch.From)).With("to", string(ch.To)))

	if s.enrollments == nil {
		return
	}
	if ch.EnrollmentActivated {
		s.enrollments.Activated(ctx, ch.Enrollment)
	}
	if ch.EnrollmentCancelled {
		s.enrollments.Cancelled(ctx, ch.Enrollment, "payment refunded")
	}
}

// Checkout creates a transaction and starts the payment at the gateway. The gateway call is never
// retried. When the outcome is unknown (timeout, 5xx, unreadable reply) the transaction stays
// PENDING for Sync or a confirmation to settle. Only a definite rejection marks it FAILED.
func (s *Service) Checkout(ctx context.Context, in CreateInput) (*CheckoutResult, error) {
	const op = "payment.Checkout"
	t, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("reference", t.Reference)))
	defer span.End()

	res, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		Reference:   t.Reference,
		AmountMinor: t.AmountMinor,
		Currency:    t.Currency,
		Method:      t.PaymentMethod,
		Description: t.Description,
		UserID:      t.UserID,
		CourseID:    t.CourseID,
	})
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, gateway.ErrGatewayRejected) && !errors.Is(err, gateway.ErrGatewayAuthFailure) {
			s.log.Warn(ctx, "payment: gateway outcome unknown; transaction left pending",
				"reference", t.Reference, "error", err)
			return &CheckoutResult{Transaction: t}, err
		}
		ch, uerr := s.ApplyUpdate(ctx, t.ID, Update{Status: domain.StatusFailed, ErrorMessage: err.Error()})
		if uerr != nil {
			s.log.Error(ctx, "payment: could not mark transaction failed", "reference", t.Reference, "error", uerr)
			return &CheckoutResult{Transaction: t}, err
		}
		return &CheckoutResult{Transaction: ch.Transaction}, err
	}

	target := domain.StatusProcessing
	if mapped, ok := domain.MapGatewayStatus(res.Status); ok && mapped != domain.StatusPending {
		target = mapped
	}
	ch, err := s.ApplyUpdate(ctx, t.ID, Update{Status: target, ExternalID: res.ExternalID})
	switch {
	case errors.Is(err, ErrInvalidTransition):
		// A confirmation already moved it further; report what is stored.
		cur, gerr := s.Get(ctx, t.ID)
		if gerr != nil {
			return nil, gerr
		}
		return &CheckoutResult{Transaction: cur, RedirectURL: res.RedirectURL}, nil
	case err != nil:
		return nil, err
	}
	return &CheckoutResult{Transaction: ch.Transaction, RedirectURL: res.RedirectURL}, nil
}

// Sync polls the gateway for the transaction's status and applies it through the same serialized
// path as confirmations. An unknown gateway status or a stale one leaves the transaction as is.
func (s *Service) Sync(ctx context.Context, id string) (*Change, error) {
	const op = "payment.Sync"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ExternalID == "" {
		return nil, ErrNoExternalReference
	}
	st, err := s.gateway.GetPayment(ctx, t.ExternalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	status, ok := domain.MapGatewayStatus(st.Status)
	if !ok {
		s.log.Warn(ctx, "payment: unknown gateway status on sync", "reference", t.Reference, "status", st.Status)
		s.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "unknown_status",
			fmt.Sprintf("transaction %s: gateway status %q not recognised", t.Reference, st.Status), t.UserID)
		return &Change{Transaction: t, From: t.Status, To: t.Status}, nil
	}
	ch, err := s.ApplyUpdate(ctx, id, Update{Status: status, ErrorMessage: st.Reason})
	if errors.Is(err, ErrInvalidTransition) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return &Change{Transaction: cur, From: cur.Status, To: cur.Status}, nil
	}
	return ch, err
}

// Refund moves a COMPLETED transaction to REFUNDED and cancels its enrollment.
func (s *Service) Refund(ctx context.Context, id, reason string) (*Change, error) {
	return s.ApplyUpdate(ctx, id, Update{Status: domain.StatusRefunded, RefundReason: reason})
}

func isSentinel(err error) bool {
	for _, target := range []error{ErrNotFound, ErrInvalidTransition, ErrCourseNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
