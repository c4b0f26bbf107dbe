package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"elearning-marketplace/backend/internal/logging"
)

const (
	// expiryMargin is subtracted from every credential lifetime.
	expiryMargin = 60 * time.Second
	loginTimeout = 10 * time.Second
)

// Credential is a cached bearer token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Authenticator performs the upstream service login.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
}

// LoginRecorder observes login outcomes; *otel.Metrics satisfies it.
type LoginRecorder interface {
	GatewayLogin(ctx context.Context, ok bool)
}

// TokenCache holds the process-wide gateway credential. Reads are a lock-free snapshot; a miss
// is refilled by exactly one login no matter how many callers arrive at once.
type TokenCache struct {
	auth        Authenticator
	fallbackTTL time.Duration
	now         func() time.Time
	log         logging.Logger
	metrics     LoginRecorder

	cur   atomic.Pointer[Credential]
	group singleflight.Group
}

// NewTokenCache returns a cache that logs in through auth. fallbackTTL applies when the token
// carries no exp claim.
func NewTokenCache(auth Authenticator, fallbackTTL time.Duration, log logging.Logger, metrics LoginRecorder) *TokenCache {
	if fallbackTTL <= 0 {
		fallbackTTL = 25 * time.Minute
	}
	if log == nil {
		log = logging.Nop()
	}
	return &TokenCache{auth: auth, fallbackTTL: fallbackTTL, now: time.Now, log: log, metrics: metrics}
}

// Token returns a valid bearer token, logging in if the cache is empty or expired.
// Failures surface as ErrGatewayAuthFailure and leave the cache empty.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if cred := c.valid(); cred != nil {
		return cred.Token, nil
	}
	ch := c.group.DoChan("token", func() (any, error) {
		// A caller that lost the race to the previous flight may find it already refilled.
		if cred := c.valid(); cred != nil {
			return cred, nil
		}
		return c.refill(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Credential).Token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Snapshot returns the cached credential without refreshing; nil if empty.
func (c *TokenCache) Snapshot() *Credential {
	return c.cur.Load()
}

// Invalidate drops token if it is still the cached one. A newer credential is left alone.
func (c *TokenCache) Invalidate(token string) {
	cred := c.cur.Load()
	if cred != nil && cred.Token == token {
		c.cur.CompareAndSwap(cred, nil)
	}
}

func (c *TokenCache) valid() *Credential {
	cred := c.cur.Load()
	if cred == nil || !c.now().Before(cred.ExpiresAt) {
		return nil
	}
	return cred
}

func (c *TokenCache) refill(ctx context.Context) (*Credential, error) {
	// The flight outlives any single caller's cancellation.
	loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loginTimeout)
	defer cancel()

	token, err := c.auth.Login(loginCtx)
	if err == nil && token == "" {
		err = fmt.Errorf("empty token")
	}
	if c.metrics != nil {
		c.metrics.GatewayLogin(ctx, err == nil)
	}
	if err != nil {
		c.cur.Store(nil)
		c.log.Warn(ctx, "gateway: login failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayAuthFailure, err)
	}

	cred := &Credential{Token: token, ExpiresAt: c.expiry(token)}
	if c.now().Before(cred.ExpiresAt) {
		c.cur.Store(cred)
	} else {
		c.log.Warn(ctx, "gateway: token expires within safety margin; not caching")
	}
	return cred, nil
}

// expiry reads the exp claim without verifying the signature; the token is opaque to us and only
// its lifetime matters.
func (c *TokenCache) expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-expiryMargin)
		}
	}
	return c.now().Add(c.fallbackTTL - expiryMargin)
}
