package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"elearning-marketplace/backend/internal/audit"
	coursedomain "elearning-marketplace/backend/internal/course/domain"
	"elearning-marketplace/backend/internal/db/memstore"
	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	enrollmentservice "elearning-marketplace/backend/internal/enrollment/service"
	"elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/gateway"
	"elearning-marketplace/backend/internal/payment/replay"
	"elearning-marketplace/backend/internal/payment/service"
)

type fixture struct {
	proc     *Processor
	payments *service.Service
	store    *memstore.Store
	guard    *replay.MemoryGuard
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := memstore.New()
	max := 10
	c := &coursedomain.Course{ID: "c1", Title: "Go", PriceMinor: 5000000, Currency: "COP", Published: true, MaxStudents: &max}
	if err := store.Repos().Courses().Create(context.Background(), c); err != nil {
		t.Fatalf("create course: %v", err)
	}
	sink := audit.NewLogger(store.Audit(), nil, nil)
	payments := service.NewService(service.Deps{
		UoW:         store,
		Enrollments: enrollmentservice.NewService(store, sink, nil, nil),
		Audit:       sink,
	})
	guard := replay.NewMemoryGuard()
	return &fixture{
		proc:     NewProcessor(payments, store, guard, cfg, sink, nil, nil, nil),
		payments: payments,
		store:    store,
		guard:    guard,
	}
}

func (f *fixture) pending(t *testing.T) *domain.Transaction {
	t.Helper()
	tx, err := f.payments.Create(context.Background(), service.CreateInput{UserID: "u1", CourseID: "c1", AmountMinor: 5000000, Currency: "COP"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tx
}

func (f *fixture) activeEnrollments(t *testing.T) *enrollmentdomain.Enrollment {
	t.Helper()
	e, err := f.store.Repos().Enrollments().FindLatest(context.Background(), "u1", "c1", enrollmentdomain.StatusActive)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	return e
}

func (f *fixture) seats(t *testing.T) int {
	t.Helper()
	c, _ := f.store.Repos().Courses().GetByID(context.Background(), "c1")
	return c.CurrentStudents
}

func accepted(tx *domain.Transaction) Confirmation {
	return Confirmation{
		RefPayco:      "99887766",
		TransactionID: "tx-1",
		Status:        "Aceptada",
		Amount:        "50000.00",
		Currency:      "COP",
		Invoice:       tx.Reference,
		UserID:        tx.UserID,
		CourseID:      tx.CourseID,
	}
}

func TestProcess_AcceptedCompletesAndActivates(t *testing.T) {
	f := newFixture(t, Config{})
	tx := f.pending(t)

	res, err := f.proc.Process(context.Background(), accepted(tx))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeApplied || res.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	if res.Transaction.ExternalID != "99887766" {
		t.Errorf("external id = %q", res.Transaction.ExternalID)
	}
	e := f.activeEnrollments(t)
	if e == nil || e.AmountPaidMinor != tx.AmountMinor {
		t.Fatalf("active enrollment = %+v", e)
	}
	if res.Transaction.EnrollmentID != e.ID {
		t.Errorf("transaction not linked to enrollment")
	}
	if f.seats(t) != 1 {
		t.Errorf("seats = %d, want 1", f.seats(t))
	}
}

func TestProcess_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	tx := f.pending(t)
	c := accepted(tx)

	if _, err := f.proc.Process(context.Background(), c); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := f.proc.Process(context.Background(), c)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Errorf("outcome = %s, want duplicate", res.Outcome)
	}

	// Without the guard the state machine still treats the replay as a no-op.
	f.proc.guard = nil
	res, err = f.proc.Process(context.Background(), c)
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Errorf("unguarded replay = %+v, %v", res, err)
	}
	if f.seats(t) != 1 {
		t.Errorf("seats = %d, want 1", f.seats(t))
	}
}

func TestProcess_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.proc.guard = nil
	tx := f.pending(t)
	c := accepted(tx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.proc.Process(context.Background(), c)
			if err != nil {
				t.Errorf("Process: %v", err)
				return
			}
			if res.Outcome == OutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if f.seats(t) != 1 {
		t.Errorf("seats = %d, want 1", f.seats(t))
	}
}

func TestProcess_MissingReferenceIsUnresolvable(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.proc.Process(context.Background(), Confirmation{Status: "Aceptada", Invoice: "TXN-X"})
	if !errors.Is(err, ErrUnresolvableConfirmation) {
		t.Errorf("err = %v, want ErrUnresolvableConfirmation", err)
	}

	_, err = f.proc.Process(context.Background(), Confirmation{RefPayco: "1", Status: "Aceptada", Invoice: "TXN-unknown"})
	if !errors.Is(err, ErrUnresolvableConfirmation) {
		t.Errorf("unknown invoice without extras err = %v, want ErrUnresolvableConfirmation", err)
	}

	_, err = f.proc.Process(context.Background(), Confirmation{RefPayco: "2", Status: "Aceptada", UserID: "u1", CourseID: "gone"})
	if !errors.Is(err, ErrUnresolvableConfirmation) {
		t.Errorf("unknown course err = %v, want ErrUnresolvableConfirmation", err)
	}
}

func TestProcess_UnknownStatusLeavesPending(t *testing.T) {
	f := newFixture(t, Config{})
	tx := f.pending(t)
	c := accepted(tx)
	c.Status = "EnRevisionManual"

	res, err := f.proc.Process(context.Background(), c)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeUnknown {
		t.Errorf("outcome = %s, want unknown_status", res.Outcome)
	}
	got, _ := f.payments.Get(context.Background(), tx.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if f.guard.Len() != 0 {
		t.Error("unknown statuses must not be remembered")
	}
}

func TestProcess_StaleStatusIsAcknowledged(t *testing.T) {
	f := newFixture(t, Config{})
	tx := f.pending(t)
	if _, err := f.proc.Process(context.Background(), accepted(tx)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	late := accepted(tx)
	late.Status = "Pendiente"

	res, err := f.proc.Process(context.Background(), late)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// COMPLETED -> PENDING is not an edge; the delivery is acknowledged and ignored.
	if res.Outcome != OutcomeStale || res.Transaction.Status != domain.StatusCompleted {
		t.Errorf("result = %s %s", res.Outcome, res.Transaction.Status)
	}
}

func TestProcess_MaterializesFromExtras(t *testing.T) {
	f := newFixture(t, Config{})
	c := Confirmation{RefPayco: "5555", Status: "Aceptada", Amount: "42000", Currency: "COP", UserID: "u1", CourseID: "c1"}

	res, err := f.proc.Process(context.Background(), c)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Transaction.Status != domain.StatusCompleted || res.Transaction.AmountMinor != 4200000 {
		t.Fatalf("tx = %+v", res.Transaction)
	}
	if e := f.activeEnrollments(t); e == nil || e.AmountPaidMinor != 4200000 {
		t.Errorf("enrollment = %+v", e)
	}
}

type unavailableGateway struct{}

func (unavailableGateway) CreatePayment(context.Context, gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	return nil, fmt.Errorf("%w: upstream status 504", gateway.ErrGatewayUnavailable)
}

func (unavailableGateway) GetPayment(context.Context, string) (*gateway.PaymentStatus, error) {
	return nil, gateway.ErrPaymentNotFound
}

func TestProcess_AcceptedAfterUpstreamErrorActivates(t *testing.T) {
	f := newFixture(t, Config{})
	sink := audit.NewLogger(f.store.Audit(), nil, nil)
	payments := service.NewService(service.Deps{
		UoW:         f.store,
		Enrollments: enrollmentservice.NewService(f.store, sink, nil, nil),
		Gateway:     unavailableGateway{},
		Audit:       sink,
	})
	f.proc = NewProcessor(payments, f.store, f.guard, Config{}, sink, nil, nil, nil)

	res, err := payments.Checkout(context.Background(), service.CreateInput{UserID: "u1", CourseID: "c1", Currency: "COP"})
	if !errors.Is(err, gateway.ErrGatewayUnavailable) {
		t.Fatalf("Checkout err = %v", err)
	}
	if res.Transaction.Status != domain.StatusPending {
		t.Fatalf("status after checkout = %s, want PENDING", res.Transaction.Status)
	}

	out, err := f.proc.Process(context.Background(), accepted(res.Transaction))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Outcome != OutcomeApplied || out.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("result = %s %s", out.Outcome, out.Transaction.Status)
	}
	if e := f.activeEnrollments(t); e == nil {
		t.Error("no active enrollment after accepted confirmation")
	}
}

func TestProcess_Signature(t *testing.T) {
	cfg := Config{CustomerID: "cust", Key: "secret"}
	f := newFixture(t, cfg)
	tx := f.pending(t)
	c := accepted(tx)

	c.Signature = "deadbeef"
	if _, err := f.proc.Process(context.Background(), c); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
	got, _ := f.payments.Get(context.Background(), tx.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("rejected delivery changed status to %s", got.Status)
	}

	c.Signature = Sign(cfg.CustomerID, cfg.Key, c)
	res, err := f.proc.Process(context.Background(), c)
	if err != nil || res.Outcome != OutcomeApplied {
		t.Errorf("signed delivery = %+v, %v", res, err)
	}
}

func TestFromValues(t *testing.T) {
	v := url.Values{}
	v.Set("x_ref_payco", " 123 ")
	v.Set("x_transaction_state", "Aceptada")
	v.Set("x_id_invoice", "TXN-1")
	v.Set("x_extra1", "u1")
	v.Set("x_extra2", "c1")
	c := FromValues(v)
	if c.RefPayco != "123" || c.Status != "Aceptada" || c.Invoice != "TXN-1" || c.UserID != "u1" || c.CourseID != "c1" {
		t.Errorf("confirmation = %+v", c)
	}
}
