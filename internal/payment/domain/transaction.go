package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transaction is one payment attempt. Reference is unique and never changes after creation.
type Transaction struct {
	ID            string
	UserID        string
	CourseID      string
	EnrollmentID  string
	Reference     string
	ExternalID    string
	AmountMinor   int64
	Currency      string
	PaymentMethod string
	Gateway       string
	Status        Status
	Description   string
	Metadata      map[string]string
	ErrorMessage  string
	RefundReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// CompletedAt and RefundedAt are stamped once, on entry into COMPLETED and REFUNDED.
	CompletedAt *time.Time
	RefundedAt  *time.Time
}

// NewTransaction returns a PENDING transaction with a fresh id and reference.
func NewTransaction(userID, courseID string, amountMinor int64, currency, method, gateway string, now time.Time) (*Transaction, error) {
	ref, err := NewReference(now)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		CourseID:      courseID,
		Reference:     ref,
		AmountMinor:   amountMinor,
		Currency:      strings.ToUpper(currency),
		PaymentMethod: method,
		Gateway:       gateway,
		Status:        StatusPending,
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewReference returns a human-readable reference: TXN-YYYYMMDD-<12 hex>.
func NewReference(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "TXN-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
