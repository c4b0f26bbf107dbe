// Package handler exposes the session lifecycle over HTTP: login, refresh, logout and me.
package handler

import (
	"net/http"
	"time"

	"elearning-marketplace/backend/internal/identity/service"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/server/httpx"
	"elearning-marketplace/backend/internal/server/middleware"
)

// Cookie and header names of the double-submit scheme.
const (
	RefreshCookie = "rt"
	CSRFCookie    = "csrf"
	CSRFHeader    = "X-CSRF-Token"
	refreshPath   = "/api/auth"
)

// CookieConfig controls the session cookies. MaxAge defaults to the session TTL.
type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
	MaxAge   time.Duration
}

// Handler serves /api/auth.
type Handler struct {
	sessions *service.SessionManager
	cookies  CookieConfig
	log      logging.Logger
}

// NewHandler returns a Handler.
func NewHandler(sessions *service.SessionManager, cookies CookieConfig, log logging.Logger) *Handler {
	if cookies.MaxAge <= 0 {
		cookies.MaxAge = sessions.SessionTTL()
	}
	if cookies.SameSite == 0 {
		cookies.SameSite = http.SameSiteLaxMode
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{sessions: sessions, cookies: cookies, log: log}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.HandleFunc("POST /api/auth/refresh", h.refresh)
	mux.HandleFunc("POST /api/auth/logout", h.logout)
	mux.Handle("GET /api/auth/me", middleware.RequireAuth(http.HandlerFunc(h.me)))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role,omitempty"`
	CSRFToken   string    `json:"csrfToken,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.sessions.Login(r.Context(), req.Identifier, req.Password, service.Client{
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIPFrom(r.Context()),
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.setSessionCookies(w, res.RefreshSecret, res.CSRFToken)
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   res.AccessExpiresAt,
		UserID:      res.UserID,
		Role:        string(res.Role),
		CSRFToken:   res.CSRFToken,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	csrfCookie := cookieValue(r, CSRFCookie)
	res, err := h.sessions.Refresh(r.Context(), cookieValue(r, RefreshCookie), csrfCookie, r.Header.Get(CSRFHeader))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.setSessionCookies(w, res.RefreshSecret, csrfCookie)
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   res.AccessExpiresAt,
		UserID:      res.UserID,
	})
}

// logout always succeeds for the caller and clears both cookies.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), cookieValue(r, RefreshCookie)); err != nil {
		h.log.Error(r.Context(), "identity: logout failed", "error", err)
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"userId":    p.UserID,
		"sessionId": p.SessionID,
		"role":      string(p.Role),
	})
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, refreshSecret, csrf string) {
	maxAge := int(h.cookies.MaxAge / time.Second)
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refreshSecret,
		Path:     refreshPath,
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: h.cookies.SameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrf,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookies.Secure,
		SameSite: h.cookies.SameSite,
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{{RefreshCookie, refreshPath}, {CSRFCookie, "/"}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   h.cookies.Domain,
			MaxAge:   -1,
			HttpOnly: c.name == RefreshCookie,
			Secure:   h.cookies.Secure,
			SameSite: h.cookies.SameSite,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
