// Package handler exposes enrollment creation, progress and cancellation over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"elearning-marketplace/backend/internal/enrollment/domain"
	"elearning-marketplace/backend/internal/enrollment/service"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/policy/engine"
	"elearning-marketplace/backend/internal/server/httpx"
	"elearning-marketplace/backend/internal/server/middleware"
)

// Handler serves /api/enrollments.
type Handler struct {
	enrollments *service.Service
	authz       engine.Authorizer
	log         logging.Logger
}

func NewHandler(enrollments *service.Service, authz engine.Authorizer, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{enrollments: enrollments, authz: authz, log: log}
}

// Register mounts the routes on mux. Every route requires a principal.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/enrollments", middleware.RequireAuth(http.HandlerFunc(h.create)))
	mux.Handle("GET /api/enrollments/{id}", middleware.RequireAuth(http.HandlerFunc(h.get)))
	mux.Handle("PATCH /api/enrollments/{id}/progress", middleware.RequireAuth(http.HandlerFunc(h.progress)))
	mux.Handle("POST /api/enrollments/{id}/cancel", middleware.RequireAuth(http.HandlerFunc(h.cancel)))
}

type enrollmentResponse struct {
	ID                 string     `json:"id"`
	StudentID          string     `json:"studentId"`
	CourseID           string     `json:"courseId"`
	Status             string     `json:"status"`
	ProgressPercentage int        `json:"progressPercentage"`
	AmountPaid         int64      `json:"amountPaidMinor"`
	CertificateIssued  bool       `json:"certificateIssued"`
	CertificateURL     string     `json:"certificateUrl,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	EnrolledAt         *time.Time `json:"enrolledAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toResponse(e *domain.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:                 e.ID,
		StudentID:          e.StudentID,
		CourseID:           e.CourseID,
		Status:             string(e.Status.Normalize()),
		ProgressPercentage: e.ProgressPercentage,
		AmountPaid:         e.AmountPaidMinor,
		CertificateIssued:  e.CertificateIssued,
		CertificateURL:     e.CertificateURL,
		Notes:              e.Notes,
		EnrolledAt:         e.EnrolledAt,
		CompletedAt:        e.CompletedAt,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

type createRequest struct {
	CourseID string `json:"courseId"`
	Notes    string `json:"notes,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	if err := h.authorize(r.Context(), engine.ActionEnrollmentCreate, ""); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	e, err := h.enrollments.Create(r.Context(), p.UserID, req.CourseID, req.Notes)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(e))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	// Reading uses the same ownership rule as progress updates.
	e, ok := h.load(w, r, engine.ActionEnrollmentProgress)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(e))
}

type progressRequest struct {
	Percentage *int `json:"percentage"`
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r, engine.ActionEnrollmentProgress)
	if !ok {
		return
	}
	var req progressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if req.Percentage == nil {
		httpx.WriteError(w, r, h.log, errors.Join(httpx.ErrBadRequest, errors.New("percentage is required")))
		return
	}
	e, err := h.enrollments.UpdateProgress(r.Context(), e.ID, *req.Percentage)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(e))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r, engine.ActionEnrollmentCancel)
	if !ok {
		return
	}
	e, err := h.enrollments.Cancel(r.Context(), e.ID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(e))
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, action string) (*domain.Enrollment, bool) {
	e, err := h.enrollments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return nil, false
	}
	if err := h.authorize(r.Context(), action, e.StudentID); err != nil {
		// Another student's enrollment is reported as missing.
		httpx.WriteError(w, r, h.log, service.ErrNotFound)
		return nil, false
	}
	return e, true
}

func (h *Handler) authorize(ctx context.Context, action, ownerID string) error {
	p, _ := middleware.PrincipalFrom(ctx)
	in := engine.Input{Action: action, OwnerID: ownerID}
	if p != nil {
		in.SubjectID, in.Role = p.UserID, string(p.Role)
	}
	ok, err := h.authz.Allow(ctx, in)
	if err != nil {
		h.log.Error(ctx, "enrollment: policy evaluation failed", "action", action, "error", err)
		return httpx.ErrForbidden
	}
	if !ok {
		return httpx.ErrForbidden
	}
	return nil
}
