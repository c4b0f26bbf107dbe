// Package server assembles the HTTP API and the gRPC health endpoint.
package server

import (
	"net/http"
	"time"

	"elearning-marketplace/backend/internal/audit"
	enrollmenthandler "elearning-marketplace/backend/internal/enrollment/handler"
	enrollmentservice "elearning-marketplace/backend/internal/enrollment/service"
	healthhandler "elearning-marketplace/backend/internal/health/handler"
	identityhandler "elearning-marketplace/backend/internal/identity/handler"
	identityservice "elearning-marketplace/backend/internal/identity/service"
	"elearning-marketplace/backend/internal/logging"
	paymenthandler "elearning-marketplace/backend/internal/payment/handler"
	paymentservice "elearning-marketplace/backend/internal/payment/service"
	"elearning-marketplace/backend/internal/payment/webhook"
	"elearning-marketplace/backend/internal/policy/engine"
	"elearning-marketplace/backend/internal/server/middleware"
	"elearning-marketplace/backend/internal/telemetry"
)

const healthPattern = "GET /healthz"

// Deps holds the services behind the HTTP routes.
type Deps struct {
	Sessions    *identityservice.SessionManager
	Payments    *paymentservice.Service
	Webhooks    *webhook.Processor
	Enrollments *enrollmentservice.Service
	Authorizer  engine.Authorizer
	// Health serves /healthz. If nil, the route always reports SERVING.
	Health  *healthhandler.Checker
	Cookies identityhandler.CookieConfig
	// Audit records authenticated requests. If nil, requests are not audited.
	Audit  audit.LogSink
	Events telemetry.EventEmitter
	Log    logging.Logger
}

// NewHTTPHandler registers every route and wraps the mux in authentication, audit and request
// telemetry. Audit and Telemetry sit directly on the mux so they see the matched pattern.
func NewHTTPHandler(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Health == nil {
		d.Health = healthhandler.NewChecker(nil, nil, d.Log)
	}
	mux := http.NewServeMux()
	mux.Handle(healthPattern, d.Health)
	identityhandler.NewHandler(d.Sessions, d.Cookies, d.Log).Register(mux)
	paymenthandler.NewHandler(d.Payments, d.Webhooks, d.Authorizer, d.Log).Register(mux)
	enrollmenthandler.NewHandler(d.Enrollments, d.Authorizer, d.Log).Register(mux)

	skip := map[string]bool{healthPattern: true}
	mw := []func(http.Handler) http.Handler{middleware.Authenticate(d.Sessions)}
	if d.Audit != nil {
		mw = append(mw, middleware.Audit(d.Audit, skip))
	}
	mw = append(mw, middleware.Telemetry(d.Events, d.Log, skip))
	return middleware.Chain(mux, mw...)
}

// NewHTTPServer returns an http.Server with conservative timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
