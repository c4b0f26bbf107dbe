package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPolicy = errors.New("policy name and rules are required")

// Policy is a stored Rego module. Enabled policies replace the built-in authorization policy.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an enabled policy named name (used as the module file name).
func New(name, rules string, now time.Time) (*Policy, error) {
	name, rules = strings.TrimSpace(name), strings.TrimSpace(rules)
	if name == "" || rules == "" {
		return nil, ErrInvalidPolicy
	}
	if !strings.HasSuffix(name, ".rego") {
		name += ".rego"
	}
	return &Policy{ID: uuid.NewString(), Name: name, Rules: rules, Enabled: true, CreatedAt: now, UpdatedAt: now}, nil
}
