package engine

import (
	"context"
	"fmt"

	"elearning-marketplace/backend/internal/policy/domain"
)

// PolicySource lists stored policies; the policy repository satisfies it.
type PolicySource interface {
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
}

// LoadModules returns the enabled stored policies keyed by module name, or nil when none are
// enabled so NewOPAAuthorizer falls back to DefaultPolicy.
func LoadModules(ctx context.Context, src PolicySource) (map[string]string, error) {
	list, err := src.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	modules := make(map[string]string, len(list))
	for _, p := range list {
		modules[p.Name] = p.Rules
	}
	return modules, nil
}
