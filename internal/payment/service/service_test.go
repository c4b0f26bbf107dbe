package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"elearning-marketplace/backend/internal/audit"
	coursedomain "elearning-marketplace/backend/internal/course/domain"
	"elearning-marketplace/backend/internal/db/memstore"
	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	enrollmentservice "elearning-marketplace/backend/internal/enrollment/service"
	"elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/gateway"
)

type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	result    *gateway.PaymentResult
	status    *gateway.PaymentStatus
	statusErr error
	requests  []gateway.PaymentRequest
}

func (g *fakeGateway) CreatePayment(_ context.Context, in gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, in)
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.result != nil {
		return g.result, nil
	}
	return &gateway.PaymentResult{ExternalID: "ext-" + in.Reference, Status: "Pendiente", RedirectURL: "https://pay.example/" + in.Reference}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, externalID string) (*gateway.PaymentStatus, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

type countingMetrics struct {
	mu    sync.Mutex
	edges []string
}

func (m *countingMetrics) Transition(_ context.Context, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, from+"->"+to)
}

type fixture struct {
	svc     *Service
	store   *memstore.Store
	gw      *fakeGateway
	metrics *countingMetrics
}

func newFixture(t *testing.T, max *int) *fixture {
	t.Helper()
	store := memstore.New()
	c := &coursedomain.Course{ID: "c1", Title: "Go", PriceMinor: 5000000, Currency: "COP", Published: true, MaxStudents: max}
	if err := store.Repos().Courses().Create(context.Background(), c); err != nil {
		t.Fatalf("create course: %v", err)
	}
	sink := audit.NewLogger(store.Audit(), nil, nil)
	gw := &fakeGateway{}
	m := &countingMetrics{}
	svc := NewService(Deps{
		UoW:         store,
		Enrollments: enrollmentservice.NewService(store, sink, nil, nil),
		Gateway:     gw,
		Audit:       sink,
		Metrics:     m,
	})
	return &fixture{svc: svc, store: store, gw: gw, metrics: m}
}

func intPtr(v int) *int { return &v }

func (f *fixture) seats(t *testing.T) int {
	t.Helper()
	c, err := f.store.Repos().Courses().GetByID(context.Background(), "c1")
	if err != nil || c == nil {
		t.Fatalf("get course: %v", err)
	}
	return c.CurrentStudents
}

func (f *fixture) create(t *testing.T) *domain.Transaction {
	t.Helper()
	tx, err := f.svc.Create(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", AmountMinor: 5000000, Currency: "cop", Method: "card"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tx
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tx, err := f.svc.Create(ctx, CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tx.AmountMinor != 5000000 || tx.Status != domain.StatusPending || tx.Gateway != "epayco" {
		t.Fatalf("tx = %+v", tx)
	}

	if _, err := f.svc.Create(ctx, CreateInput{UserID: "u1", CourseID: "missing", AmountMinor: 1, Currency: "COP"}); !errors.Is(err, ErrCourseNotFound) {
		t.Errorf("missing course err = %v, want ErrCourseNotFound", err)
	}
	if _, err := f.svc.Create(ctx, CreateInput{UserID: "u1", AmountMinor: -5, Currency: "COP"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.svc.Create(ctx, CreateInput{AmountMinor: 5, Currency: "COP"}); !errors.Is(err, ErrInvalidPaymentParams) {
		t.Errorf("missing user err = %v, want ErrInvalidPaymentParams", err)
	}
}

func TestCreate_PriceMismatchIsAuditedNotRejected(t *testing.T) {
	f := newFixture(t, nil)
	tx, err := f.svc.Create(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", AmountMinor: 100, Currency: "COP"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tx.AmountMinor != 100 {
		t.Fatalf("amount = %d, want 100", tx.AmountMinor)
	}
	var found bool
	for _, a := range f.store.Audit().All() {
		if a.Action == "price_mismatch" {
			found = true
		}
	}
	if !found {
		t.Error("expected a price_mismatch audit entry")
	}
}

func TestApplyUpdate_CompletedTwiceActivatesOnce(t *testing.T) {
	f := newFixture(t, intPtr(10))
	ctx := context.Background()
	tx := f.create(t)

	ch, err := f.svc.ApplyUpdate(ctx, tx.ID, Update{Status: domain.StatusCompleted, ExternalID: "ref-1"})
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if !ch.Changed || !ch.EnrollmentActivated || ch.Enrollment == nil {
		t.Fatalf("change = %+v", ch)
	}
	if ch.Enrollment.Status != enrollmentdomain.StatusActive || ch.Enrollment.AmountPaidMinor != 5000000 {
		t.Fatalf("enrollment = %+v", ch.Enrollment)
	}
	if ch.Transaction.CompletedAt == nil || ch.Transaction.EnrollmentID != ch.Enrollment.ID || ch.Transaction.ExternalID != "ref-1" {
		t.Fatalf("transaction = %+v", ch.Transaction)
	}

	ch2, err := f.svc.ApplyUpdate(ctx, tx.ID, Update{Status: domain.StatusCompleted})
	if err != nil {
		t.Fatalf("second ApplyUpdate: %v", err)
	}
	if ch2.Changed {
		t.Error("second COMPLETED must be a no-op")
	}
	if got := f.seats(t); got != 1 {
		t.Errorf("seats = %d, want 1", got)
	}
	if len(f.metrics.edges) != 1 || f.metrics.edges[0] != "PENDING->COMPLETED" {
		t.Errorf("metrics = %v", f.metrics.edges)
	}
}

func TestApplyUpdate_ConcurrentCompletionsActivateOnce(t *testing.T) {
	f := newFixture(t, intPtr(10))
	tx := f.create(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := f.svc.ApplyUpdate(context.Background(), tx.ID, Update{Status: domain.StatusCompleted})
			if err != nil {
				t.Errorf("ApplyUpdate: %v", err)
				return
			}
			if ch.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if changed != 1 {
		t.Errorf("changed = %d, want 1", changed)
	}
	if got := f.seats(t); got != 1 {
		t.Errorf("seats = %d, want 1", got)
	}
}

func TestApplyUpdate_IllegalTransitionLeavesRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := f.create(t)

	if _, err := f.svc.ApplyUpdate(ctx, tx.ID, Update{Status: domain.StatusFailed, ErrorMessage: "declined"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	_, err := f.svc.ApplyUpdate(ctx, tx.ID, Update{Status: domain.StatusCompleted})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	got, err := f.svc.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusFailed || got.ErrorMessage != "declined" || got.CompletedAt != nil {
		t.Errorf("tx = %+v", got)
	}
	if f.seats(t) != 0 {
		t.Error("no seat may be taken by an illegal transition")
	}
	if _, err := f.svc.ApplyUpdate(ctx, "nope", Update{Status: domain.StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestApplyUpdate_CourseFullRollsBack(t *testing.T) {
	f := newFixture(t, intPtr(1))
	ctx := context.Background()
	first := f.create(t)
	if _, err := f.svc.ApplyUpdate(ctx, first.ID, Update{Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := f.svc.Create(ctx, CreateInput{UserID: "u2", CourseID: "c1", AmountMinor: 5000000, Currency: "COP"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = f.svc.ApplyUpdate(ctx, second.ID, Update{Status: domain.StatusCompleted})
	if !errors.Is(err, enrollmentservice.ErrCourseFull) {
		t.Fatalf("err = %v, want ErrCourseFull", err)
	}
	got, _ := f.svc.Get(ctx, second.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING after rollback", got.Status)
	}
}

func TestRefund_CancelsEnrollmentAndReleasesSeat(t *testing.T) {
	f := newFixture(t, intPtr(5))
	ctx := context.Background()
	tx := f.create(t)
	done, err := f.svc.ApplyUpdate(ctx, tx.ID, Update{Status: domain.StatusCompleted})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	ch, err := f.svc.Refund(ctx, tx.ID, "customer request")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !ch.EnrollmentCancelled || ch.Enrollment.Status != enrollmentdomain.StatusCancelled {
		t.Fatalf("change = %+v", ch)
	}
	if ch.Transaction.RefundedAt == nil || ch.Transaction.RefundReason != "customer request" {
		t.Errorf("tx = %+v", ch.Transaction)
	}
	if f.seats(t) != 0 {
		t.Errorf("seats = %d, want 0", f.seats(t))
	}
	e, err := f.store.Repos().Enrollments().GetByID(ctx, done.Enrollment.ID)
	if err != nil || e.Status != enrollmentdomain.StatusCancelled {
		t.Errorf("stored enrollment = %+v, %v", e, err)
	}

	if _, err := f.svc.Refund(ctx, f.create(t).ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("refund of pending err = %v, want ErrInvalidTransition", err)
	}
}

func TestCheckout_Outcomes(t *testing.T) {
	t.Run("accepted moves to processing", func(t *testing.T) {
		f := newFixture(t, nil)
		res, err := f.svc.Checkout(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		if res.Transaction.Status != domain.StatusProcessing || res.Transaction.ExternalID == "" || res.RedirectURL == "" {
			t.Errorf("result = %+v", res.Transaction)
		}
		if len(f.gw.requests) != 1 || f.gw.requests[0].CourseID != "c1" || f.gw.requests[0].AmountMinor != 5000000 {
			t.Errorf("requests = %+v", f.gw.requests)
		}
	})

	t.Run("immediate approval completes", func(t *testing.T) {
		f := newFixture(t, nil)
		f.gw.result = &gateway.PaymentResult{ExternalID: "e-1", Status: "Aceptada"}
		res, err := f.svc.Checkout(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		if res.Transaction.Status != domain.StatusCompleted || f.seats(t) != 1 {
			t.Errorf("status = %s seats = %d", res.Transaction.Status, f.seats(t))
		}
	})

	t.Run("timeout stays pending", func(t *testing.T) {
		f := newFixture(t, nil)
		f.gw.createErr = fmt.Errorf("%w: deadline", gateway.ErrGatewayTimeout)
		res, err := f.svc.Checkout(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
		if !errors.Is(err, gateway.ErrGatewayTimeout) {
			t.Fatalf("err = %v, want ErrGatewayTimeout", err)
		}
		got, _ := f.svc.Get(context.Background(), res.Transaction.ID)
		if got.Status != domain.StatusPending {
			t.Errorf("status = %s, want PENDING", got.Status)
		}
	})

	t.Run("upstream 5xx stays pending", func(t *testing.T) {
		f := newFixture(t, nil)
		f.gw.createErr = fmt.Errorf("%w: upstream status 504", gateway.ErrGatewayUnavailable)
		res, err := f.svc.Checkout(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
		if !errors.Is(err, gateway.ErrGatewayUnavailable) {
			t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
		}
		got, _ := f.svc.Get(context.Background(), res.Transaction.ID)
		if got.Status != domain.StatusPending || got.ErrorMessage != "" {
			t.Errorf("tx = %+v, want untouched PENDING", got)
		}
	})

	t.Run("rejection fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.gw.createErr = fmt.Errorf("%w: card declined", gateway.ErrGatewayRejected)
		res, err := f.svc.Checkout(context.Background(), CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
		if !errors.Is(err, gateway.ErrGatewayRejected) {
			t.Fatalf("err = %v, want ErrGatewayRejected", err)
		}
		if res.Transaction.Status != domain.StatusFailed || res.Transaction.ErrorMessage == "" {
			t.Errorf("tx = %+v", res.Transaction)
		}
	})
}

func TestSync_AppliesGatewayStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Checkout(ctx, CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	f.gw.status = &gateway.PaymentStatus{ExternalID: res.Transaction.ExternalID, Status: "Rechazada", Reason: "insufficient funds"}
	ch, err := f.svc.Sync(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ch.Transaction.Status != domain.StatusFailed || ch.Transaction.ErrorMessage != "insufficient funds" {
		t.Fatalf("tx = %+v", ch.Transaction)
	}

	// Stale: FAILED cannot become COMPLETED.
	f.gw.status = &gateway.PaymentStatus{Status: "Aceptada"}
	ch, err = f.svc.Sync(ctx, res.Transaction.ID)
	if err != nil || ch.Changed || ch.Transaction.Status != domain.StatusFailed {
		t.Errorf("stale sync = %+v, %v", ch, err)
	}

	f.gw.status = &gateway.PaymentStatus{Status: "Misterio"}
	ch, err = f.svc.Sync(ctx, res.Transaction.ID)
	if err != nil || ch.Changed {
		t.Errorf("unknown sync = %+v, %v", ch, err)
	}

	pending := f.create(t)
	if _, err := f.svc.Sync(ctx, pending.ID); !errors.Is(err, ErrNoExternalReference) {
		t.Errorf("err = %v, want ErrNoExternalReference", err)
	}
}
