// Package handler reports readiness over HTTP (/healthz) and the standard gRPC health protocol.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/server/httpx"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "elearn.api"

const checkTimeout = 2 * time.Second

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine (e.g. *engine.OPAAuthorizer).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates the readiness dependencies. Nil dependencies are skipped.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
	log    logging.Logger
}

// NewChecker returns a Checker. pinger is nil when running on the in-memory store.
func NewChecker(pinger Pinger, policy PolicyChecker, log logging.Logger) *Checker {
	if log == nil {
		log = logging.Nop()
	}
	return &Checker{pinger: pinger, policy: policy, log: log}
}

// Check returns nil when every configured dependency answers within the check timeout.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var errs []error
	if c.pinger != nil {
		if err := c.pinger.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	return errors.Join(errs...)
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP answers GET /healthz with 200 or 503.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := c.Check(r.Context()); err != nil {
		c.log.Warn(r.Context(), "health: not ready", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "NOT_SERVING", Error: err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, healthResponse{Status: "SERVING"})
}

// NewGRPCServer returns a grpc health server seeded from one readiness check.
func (c *Checker) NewGRPCServer(ctx context.Context) *health.Server {
	srv := health.NewServer()
	c.Update(ctx, srv)
	return srv
}

// Update runs one check and publishes the result for the overall and the named service.
func (c *Checker) Update(ctx context.Context, srv *health.Server) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		c.log.Warn(ctx, "health: not ready", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", st)
	srv.SetServingStatus(ServiceName, st)
}

// Watch refreshes srv every interval until ctx is done, then marks everything NOT_SERVING.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-t.C:
			c.Update(ctx, srv)
		}
	}
}
