package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. Callers treat all of them as "anonymous".
var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrTokenExpired     = errors.New("token: expired")
	ErrMalformedToken   = errors.New("token: malformed")
)

// AccessClaims is the access token payload: sub, sid, iat, exp plus issuer, audience and role.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
}

// TokenProvider mints and verifies short-lived access tokens bound to a session id.
// It holds no state beyond its key.
type TokenProvider struct {
	key       SigningKey
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenProvider returns a provider signing with key. A non-positive accessTTL falls back to 15m.
func NewTokenProvider(key SigningKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &TokenProvider{
		key:       key,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// AccessTTL is the lifetime of tokens minted by IssueAccess.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess mints a token for userID bound to sessionID.
func (p *TokenProvider) IssueAccess(userID, sessionID, role string) (string, time.Time, error) {
	now := p.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		Role:      role,
	}
	token, err := jwt.NewWithClaims(p.key.Method, claims).SignedString(p.key.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccess verifies signature, expiry, issuer and audience.
// Returns ErrInvalidSignature, ErrTokenExpired or ErrMalformedToken on failure.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.key.verify, nil },
		jwt.WithValidMethods([]string{p.key.Method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	default:
		return nil, ErrMalformedToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
