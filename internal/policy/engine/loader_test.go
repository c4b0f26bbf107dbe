package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"elearning-marketplace/backend/internal/policy/domain"
)

type fakeSource struct {
	list []*domain.Policy
	err  error
}

func (f fakeSource) ListEnabled(context.Context) ([]*domain.Policy, error) { return f.list, f.err }

func TestLoadModules_EmptyFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	modules, err := LoadModules(ctx, fakeSource{})
	if err != nil || modules != nil {
		t.Fatalf("LoadModules = %v, %v", modules, err)
	}
	a, err := NewOPAAuthorizer(ctx, modules)
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	ok, _ := a.Allow(ctx, Input{Action: ActionPaymentRefund, SubjectID: "a", Role: "admin"})
	if !ok {
		t.Error("default policy should allow admin refund")
	}
}

func TestLoadModules_StoredPolicyReplacesDefault(t *testing.T) {
	ctx := context.Background()
	p, err := domain.New("lockdown", "package elearn.authz\n\ndefault allow := false\n", time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	modules, err := LoadModules(ctx, fakeSource{list: []*domain.Policy{p}})
	if err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if _, ok := modules["lockdown.rego"]; !ok {
		t.Fatalf("modules = %v", modules)
	}
	a, err := NewOPAAuthorizer(ctx, modules)
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	ok, _ := a.Allow(ctx, Input{Action: ActionPaymentRefund, SubjectID: "a", Role: "admin"})
	if ok {
		t.Error("lockdown policy should deny everything")
	}
}

func TestLoadModules_SourceError(t *testing.T) {
	_, err := LoadModules(context.Background(), fakeSource{err: errors.New("db down")})
	if err == nil {
		t.Fatal("expected error")
	}
}
