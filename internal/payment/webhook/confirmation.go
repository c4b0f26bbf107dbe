package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Confirmation is a gateway confirmation delivery. Field names follow the gateway's x_ keys.
type Confirmation struct {
	RefPayco      string // x_ref_payco: the gateway's transaction reference
	TransactionID string // x_transaction_id
	Status        string // x_transaction_state
	Amount        string // x_amount
	Currency      string // x_currency_code
	Invoice       string // x_id_invoice: our transaction reference
	UserID        string // x_extra1
	CourseID      string // x_extra2
	Reason        string // x_response_reason_text
	Signature     string // x_signature
	Franchise     string // x_franchise
}

// FromValues reads a confirmation from form or query values.
func FromValues(v url.Values) Confirmation {
	return FromMap(func(k string) string { return v.Get(k) })
}

// FromMap reads a confirmation through get, which returns "" for absent keys.
func FromMap(get func(string) string) Confirmation {
	f := func(k string) string { return strings.TrimSpace(get(k)) }
	return Confirmation{
		RefPayco:      f("x_ref_payco"),
		TransactionID: f("x_transaction_id"),
		Status:        f("x_transaction_state"),
		Amount:        f("x_amount"),
		Currency:      f("x_currency_code"),
		Invoice:       f("x_id_invoice"),
		UserID:        f("x_extra1"),
		CourseID:      f("x_extra2"),
		Reason:        f("x_response_reason_text"),
		Signature:     f("x_signature"),
		Franchise:     f("x_franchise"),
	}
}

// Sign computes the gateway signature:
// hex(sha256(customerID^key^ref_payco^transaction_id^amount^currency)).
func Sign(customerID, key string, c Confirmation) string {
	raw := fmt.Sprintf("%s^%s^%s^%s^%s^%s", customerID, key, c.RefPayco, c.TransactionID, c.Amount, c.Currency)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func verify(customerID, key string, c Confirmation) bool {
	want := Sign(customerID, key, c)
	got := strings.ToLower(c.Signature)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
