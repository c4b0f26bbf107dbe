package engine

import "context"

// Actions checked by the HTTP layer.
const (
	ActionAuthMe             = "auth.me"
	ActionPaymentCheckout    = "payment.checkout"
	ActionPaymentRead        = "payment.read"
	ActionPaymentSync        = "payment.sync"
	ActionPaymentRefund      = "payment.refund"
	ActionEnrollmentCreate   = "enrollment.create"
	ActionEnrollmentProgress = "enrollment.progress"
	ActionEnrollmentCancel   = "enrollment.cancel"
)

// Input is the policy input. OwnerID is empty for actions without a target resource.
type Input struct {
	Action    string
	SubjectID string
	Role      string
	OwnerID   string
}

// Authorizer decides whether a subject may perform an action.
type Authorizer interface {
	// Allow reports the decision. Evaluation errors deny.
	Allow(ctx context.Context, in Input) (bool, error)
}
