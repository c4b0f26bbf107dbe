// Package gateway talks to the external payment gateway: service login with a cached bearer
// credential, payment creation and status lookup.
package gateway

import "errors"

var (
	// ErrGatewayAuthFailure means no usable credential could be obtained, or the gateway rejected it.
	ErrGatewayAuthFailure = errors.New("payment gateway authentication failed")
	// ErrGatewayTimeout is retryable: the outcome of the call is unknown.
	ErrGatewayTimeout = errors.New("payment gateway timed out")
	// ErrGatewayUnavailable is a 5xx, a 429 or an unreadable reply. The request may have taken effect.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is a definite non-2xx answer to a payment request.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrPaymentNotFound is returned by GetPayment when the gateway has no such payment.
	ErrPaymentNotFound = errors.New("payment not found at gateway")
)
