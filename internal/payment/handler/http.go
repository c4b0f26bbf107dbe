// Package handler exposes checkout, status, refund and the gateway confirmation endpoint over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/payment/domain"
	"elearning-marketplace/backend/internal/payment/gateway"
	"elearning-marketplace/backend/internal/payment/service"
	"elearning-marketplace/backend/internal/payment/webhook"
	"elearning-marketplace/backend/internal/policy/engine"
	"elearning-marketplace/backend/internal/server/httpx"
	"elearning-marketplace/backend/internal/server/middleware"
)

const maxWebhookBytes = 64 << 10

// Handler serves /api/payments.
type Handler struct {
	payments *service.Service
	webhooks *webhook.Processor
	authz    engine.Authorizer
	log      logging.Logger
}

// NewHandler returns a Handler.
func NewHandler(payments *service.Service, webhooks *webhook.Processor, authz engine.Authorizer, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{payments: payments, webhooks: webhooks, authz: authz, log: log}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/payments/webhook", h.confirm)
	mux.Handle("POST /api/payments/checkout", middleware.RequireAuth(http.HandlerFunc(h.checkout)))
	mux.Handle("GET /api/payments/{id}", middleware.RequireAuth(http.HandlerFunc(h.get)))
	mux.Handle("POST /api/payments/{id}/sync", middleware.RequireAuth(http.HandlerFunc(h.sync)))
	mux.Handle("POST /api/payments/{id}/refund", middleware.RequireAuth(http.HandlerFunc(h.refund)))
}

// TransactionResponse is the public view of a transaction.
type TransactionResponse struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	ExternalID    string     `json:"externalId,omitempty"`
	CourseID      string     `json:"courseId,omitempty"`
	EnrollmentID  string     `json:"enrollmentId,omitempty"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	Gateway       string     `json:"gateway"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	RefundReason  string     `json:"refundReason,omitempty"`
	RedirectURL   string     `json:"redirectUrl,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
}

func toResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		Reference:     t.Reference,
		ExternalID:    t.ExternalID,
		CourseID:      t.CourseID,
		EnrollmentID:  t.EnrollmentID,
		Amount:        domain.FormatMinor(t.AmountMinor),
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		Gateway:       t.Gateway,
		Status:        string(t.Status),
		ErrorMessage:  t.ErrorMessage,
		RefundReason:  t.RefundReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt,
		RefundedAt:    t.RefundedAt,
	}
}

type timeoutBody struct {
	Error       string              `json:"error"`
	Transaction TransactionResponse `json:"transaction"`
}

type checkoutRequest struct {
	CourseID    string `json:"courseId"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency"`
	Method      string `json:"paymentMethod"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	if err := h.authorize(r.Context(), engine.ActionPaymentCheckout, ""); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	var amount int64
	if req.Amount != "" {
		v, err := domain.ParseMinor(req.Amount)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		amount = v
	}
	res, err := h.payments.Checkout(r.Context(), service.CreateInput{
		UserID:      p.UserID,
		CourseID:    req.CourseID,
		AmountMinor: amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Description: req.Description,
	})
	switch {
	case (errors.Is(err, gateway.ErrGatewayTimeout) || errors.Is(err, gateway.ErrGatewayUnavailable)) && res != nil:
		// The transaction stays PENDING; the client can sync it once the gateway recovers.
		status, msg := httpx.StatusFor(err)
		w.Header().Set("Retry-After", "5")
		httpx.WriteJSON(w, status, timeoutBody{Error: msg, Transaction: toResponse(res.Transaction)})
		return
	case err != nil:
		httpx.WriteError(w, r, h.log, err)
		return
	}
	out := toResponse(res.Transaction)
	out.RedirectURL = res.RedirectURL
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, engine.ActionPaymentRead)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, engine.ActionPaymentSync)
	if !ok {
		return
	}
	ch, err := h.payments.Sync(r.Context(), t.ID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(ch.Transaction))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, engine.ActionPaymentRefund)
	if !ok {
		return
	}
	var req refundRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
	}
	ch, err := h.payments.Refund(r.Context(), t.ID, req.Reason)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(ch.Transaction))
}

// confirm receives gateway confirmations. 2xx tells the gateway to stop redelivering, so only
// failures we want retried return an error status.
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	c, err := parseConfirmation(r)
	if err != nil {
		httpx.WriteError(w, r, h.log, errors.Join(httpx.ErrBadRequest, err))
		return
	}
	res, err := h.webhooks.Process(r.Context(), c)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	body := map[string]string{"outcome": string(res.Outcome)}
	if res.Transaction != nil {
		body["reference"] = res.Transaction.Reference
		body["status"] = string(res.Transaction.Status)
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

// parseConfirmation accepts form-encoded or flat JSON bodies; query parameters fill any gaps.
func parseConfirmation(r *http.Request) (webhook.Confirmation, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return webhook.Confirmation{}, err
		}
		var kv map[string]any
		if err := json.Unmarshal(raw, &kv); err != nil {
			return webhook.Confirmation{}, err
		}
		q := r.URL.Query()
		return webhook.FromMap(func(k string) string {
			if v, ok := kv[k]; ok && v != nil {
				if s, ok := v.(string); ok {
					return s
				}
				return fmt.Sprint(v)
			}
			return q.Get(k)
		}), nil
	}
	if err := r.ParseForm(); err != nil {
		return webhook.Confirmation{}, err
	}
	return webhook.FromValues(r.Form), nil
}

// load fetches the {id} transaction and checks action against its owner. On failure it has
// already written the response.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, action string) (*domain.Transaction, bool) {
	t, err := h.payments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return nil, false
	}
	if err := h.authorize(r.Context(), action, t.UserID); err != nil {
		// Do not reveal that another user's transaction exists.
		if errors.Is(err, httpx.ErrForbidden) && action != engine.ActionPaymentRefund {
			err = service.ErrNotFound
		}
		httpx.WriteError(w, r, h.log, err)
		return nil, false
	}
	return t, true
}

func (h *Handler) authorize(ctx context.Context, action, ownerID string) error {
	p, _ := middleware.PrincipalFrom(ctx)
	in := engine.Input{Action: action, OwnerID: ownerID}
	if p != nil {
		in.SubjectID, in.Role = p.UserID, string(p.Role)
	}
	ok, err := h.authz.Allow(ctx, in)
	if err != nil {
		h.log.Error(ctx, "payment: policy evaluation failed", "action", action, "error", err)
		return httpx.ErrForbidden
	}
	if !ok {
		return httpx.ErrForbidden
	}
	return nil
}
