// Package httpx holds the JSON response helpers shared by the HTTP handlers and the single
// mapping from service errors to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	enrollmentservice "elearning-marketplace/backend/internal/enrollment/service"
	identityservice "elearning-marketplace/backend/internal/identity/service"
	"elearning-marketplace/backend/internal/logging"
	paymentdomain "elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/gateway"
	paymentservice "elearning-marketplace/backend/internal/payment/service"
	"elearning-marketplace/backend/internal/payment/webhook"
)

// ErrForbidden is returned by handlers when the policy engine denies an action.
var ErrForbidden = errors.New("forbidden")

// ErrBadRequest wraps body decoding failures.
var ErrBadRequest = errors.New("bad request")

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a bounded JSON body into dst. Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

type mapping struct {
	target  error
	status  int
	message string
}

// Authentication failures share one body so callers learn nothing about which check failed.
var mappings = []mapping{
	{identityservice.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
	{identityservice.ErrCSRFMismatch, http.StatusUnauthorized, "unauthorized"},
	{identityservice.ErrInvalidSession, http.StatusUnauthorized, "unauthorized"},
	{webhook.ErrInvalidSignature, http.StatusUnauthorized, "unauthorized"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrBadRequest, http.StatusBadRequest, "malformed request body"},
	{paymentservice.ErrNotFound, http.StatusNotFound, "transaction not found"},
	{enrollmentservice.ErrNotFound, http.StatusNotFound, "enrollment not found"},
	{paymentservice.ErrCourseNotFound, http.StatusNotFound, "course not found"},
	{paymentservice.ErrInvalidTransition, http.StatusConflict, "transaction cannot move to the requested status"},
	{paymentservice.ErrNoExternalReference, http.StatusConflict, "transaction has not reached the gateway yet"},
	{enrollmentservice.ErrInvalidTransition, http.StatusConflict, "enrollment cannot move to the requested status"},
	{enrollmentservice.ErrAlreadyEnrolled, http.StatusConflict, "already enrolled in this course"},
	{enrollmentservice.ErrCourseFull, http.StatusConflict, "course is full"},
	{enrollmentservice.ErrCourseUnavailable, http.StatusUnprocessableEntity, "course is not available"},
	{paymentservice.ErrInvalidPaymentParams, http.StatusUnprocessableEntity, "invalid payment parameters"},
	{paymentdomain.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid amount"},
	{webhook.ErrUnresolvableConfirmation, http.StatusUnprocessableEntity, "confirmation cannot be resolved"},
	{gateway.ErrGatewayTimeout, http.StatusServiceUnavailable, "payment gateway timed out; retry later"},
	{gateway.ErrGatewayUnavailable, http.StatusServiceUnavailable, "payment gateway unavailable; retry later"},
	{gateway.ErrGatewayAuthFailure, http.StatusBadGateway, "payment gateway unavailable"},
	{gateway.ErrGatewayRejected, http.StatusBadGateway, "payment gateway rejected the request"},
	{gateway.ErrPaymentNotFound, http.StatusBadGateway, "payment unknown to the gateway"},
}

// StatusFor returns the status code and public message for err.
func StatusFor(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// WriteError maps err to a status and writes the error envelope. Unmapped errors are logged
// and reported as a bare 500.
func WriteError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if status >= http.StatusInternalServerError && log != nil {
		log.Error(r.Context(), "http: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	WriteJSON(w, status, ErrorBody{Error: msg})
}
