package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"elearning-marketplace/backend/internal/audit"
	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/security"
	sessiondomain "elearning-marketplace/backend/internal/session/domain"
	sessionrepo "elearning-marketplace/backend/internal/session/repository"
	"elearning-marketplace/backend/internal/telemetry"
	userdomain "elearning-marketplace/backend/internal/user/domain"
	userrepo "elearning-marketplace/backend/internal/user/repository"
)

// Sentinel errors for the session manager; the HTTP layer maps all of them to a uniform 401.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCSRFMismatch       = errors.New("csrf token mismatch")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

const module = "session"

var tracer = otel.Tracer("elearning-marketplace/identity")

// Client is advisory request metadata stored on new sessions.
type Client struct {
	UserAgent string
	IP        string
}

// LoginResult carries the three credentials handed to the client. RefreshSecret and CSRFToken
// travel as cookies; AccessToken in the response body.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	CSRFToken        string
	SessionID        string
	SessionExpiresAt time.Time
	UserID           string
	Role             userdomain.Role
}

// RefreshResult is the outcome of a successful rotation.
type RefreshResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	SessionID        string
	SessionExpiresAt time.Time
	UserID           string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	SessionID string
	Role      userdomain.Role
}

// RotationRecorder counts refresh outcomes; *otel.Metrics satisfies it.
type RotationRecorder interface {
	RefreshRotation(ctx context.Context, outcome string)
}

// Deps are the collaborators of SessionManager. Audit, Events, Log and Metrics may be nil.
type Deps struct {
	Users         userrepo.Repository
	Sessions      sessionrepo.Repository
	Hasher        *security.Hasher
	Tokens        *security.TokenProvider
	RefreshHasher *security.RefreshHasher
	SessionTTL    time.Duration
	Audit         audit.LogSink
	Events        telemetry.EventEmitter
	Log           logging.Logger
	Metrics       RotationRecorder
}

// SessionManager implements login, refresh rotation, logout and request authentication.
type SessionManager struct {
	users      userrepo.Repository
	sessions   sessionrepo.Repository
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	refresh    *security.RefreshHasher
	sessionTTL time.Duration
	audit      audit.LogSink
	events     telemetry.EventEmitter
	log        logging.Logger
	metrics    RotationRecorder
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewSessionManager returns a SessionManager. A non-positive SessionTTL falls back to 60 days.
func NewSessionManager(d Deps) *SessionManager {
	if d.SessionTTL <= 0 {
		d.SessionTTL = 60 * 24 * time.Hour
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &SessionManager{
		users:      d.Users,
		sessions:   d.Sessions,
		hasher:     d.Hasher,
		tokens:     d.Tokens,
		refresh:    d.RefreshHasher,
		sessionTTL: d.SessionTTL,
		audit:      d.Audit,
		events:     d.Events,
		log:        d.Log.With("component", module),
		metrics:    d.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SessionTTL is the session lifetime, also used as cookie max-age.
func (m *SessionManager) SessionTTL() time.Duration { return m.sessionTTL }

// Login verifies identifier and password and opens a session. Every failure returns
// ErrInvalidCredentials, and unknown users still pay for one hash comparison.
func (m *SessionManager) Login(ctx context.Context, identifier, password string, client Client) (*LoginResult, error) {
	const op = "identity.Login"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	identifier = userdomain.NormalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := m.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil || !user.Active() {
		_ = m.hasher.Compare(m.dummy(), []byte(password))
		m.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "login_failed", "login failed for unknown or inactive user", "")
		return nil, ErrInvalidCredentials
	}
	if err := m.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		m.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "login_failed", "password mismatch", user.ID)
		return nil, ErrInvalidCredentials
	}
	m.upgradeHash(ctx, user, password)

	secret, err := security.GenerateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	csrf, err := security.GenerateCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess := sessiondomain.New(user.ID, m.refresh.Hash(secret), m.now(), m.sessionTTL, client.UserAgent, client.IP)
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	access, accessExp, err := m.tokens.IssueAccess(user.ID, sess.ID, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))

	m.audit.LogEvent(ctx, auditdomain.LevelInfo, module, "login", "session "+sess.ID+" opened", user.ID)
	telemetry.EmitAsync(ctx, m.events, m.log, telemetry.NewEvent(telemetry.TypeSessionLogin, module).
		WithUser(user.ID).WithSession(sess.ID).With("ip", client.IP))

	return &LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshSecret:    secret,
		CSRFToken:        csrf,
		SessionID:        sess.ID,
		SessionExpiresAt: sess.ExpiresAt,
		UserID:           user.ID,
		Role:             user.Role,
	}, nil
}

// Refresh rotates the refresh secret and mints a new access token for the same session.
// A secret that was already rotated away revokes its session.
func (m *SessionManager) Refresh(ctx context.Context, refreshSecret, csrfCookie, csrfHeader string) (*RefreshResult, error) {
	const op = "identity.Refresh"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	if !security.CSRFTokensMatch(csrfCookie, csrfHeader) {
		m.rotation(ctx, "csrf_mismatch")
		return nil, ErrCSRFMismatch
	}
	if refreshSecret == "" {
		m.rotation(ctx, "invalid")
		return nil, ErrInvalidSession
	}
	hash := m.refresh.Hash(refreshSecret)
	sess, err := m.sessions.GetByRefreshHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		m.detectReuse(ctx, hash)
		return nil, ErrInvalidSession
	}
	now := m.now()
	if !sess.ActiveAt(now) {
		m.rotation(ctx, "invalid")
		return nil, ErrInvalidSession
	}

	newSecret, err := security.GenerateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ok, err := m.sessions.Rotate(ctx, sess.ID, sess.Version, m.refresh.Hash(newSecret), now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		// Lost the race to a concurrent refresh or a revocation.
		m.rotation(ctx, "conflict")
		return nil, ErrInvalidSession
	}
	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var role string
	if user != nil {
		role = string(user.Role)
	}
	access, accessExp, err := m.tokens.IssueAccess(sess.UserID, sess.ID, role)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))
	m.rotation(ctx, "rotated")
	telemetry.EmitAsync(ctx, m.events, m.log, telemetry.NewEvent(telemetry.TypeSessionRefreshed, module).
		WithUser(sess.UserID).WithSession(sess.ID))

	return &RefreshResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshSecret:    newSecret,
		SessionID:        sess.ID,
		SessionExpiresAt: sess.ExpiresAt,
		UserID:           sess.UserID,
	}, nil
}

// detectReuse revokes every session of the user whose session's previous secret hashes to hash.
// A replayed secret means it leaked, so sibling sessions are no longer trusted either.
func (m *SessionManager) detectReuse(ctx context.Context, hash string) {
	prev, err := m.sessions.GetByPreviousRefreshHash(ctx, hash)
	if err != nil {
		m.log.Warn(ctx, "identity: reuse lookup failed", "error", err)
		m.rotation(ctx, "invalid")
		return
	}
	if prev == nil {
		m.rotation(ctx, "invalid")
		return
	}
	if err := m.sessions.RevokeAllByUser(ctx, prev.UserID, m.now()); err != nil {
		m.log.Error(ctx, "identity: revoke after reuse failed", "session_id", prev.ID, "user_id", prev.UserID, "error", err)
	}
	m.rotation(ctx, "reuse_detected")
	m.log.Warn(ctx, "identity: rotated refresh secret replayed; user sessions revoked", "session_id", prev.ID, "user_id", prev.UserID)
	m.audit.LogEvent(ctx, auditdomain.LevelWarn, module, "reuse_detected",
		"rotated refresh secret replayed on session "+prev.ID+"; all sessions of the user revoked", prev.UserID)
	telemetry.EmitAsync(ctx, m.events, m.log, telemetry.NewEvent(telemetry.TypeSessionReuseDetected, module).
		WithUser(prev.UserID).WithSession(prev.ID))
}

// Logout revokes the session holding refreshSecret. Unknown or empty secrets are a no-op.
func (m *SessionManager) Logout(ctx context.Context, refreshSecret string) error {
	if refreshSecret == "" {
		return nil
	}
	sess, err := m.sessions.GetByRefreshHash(ctx, m.refresh.Hash(refreshSecret))
	if err != nil {
		return fmt.Errorf("identity.Logout: %w", err)
	}
	if sess == nil || sess.Revoked {
		return nil
	}
	if err := m.sessions.Revoke(ctx, sess.ID, m.now()); err != nil {
		return fmt.Errorf("identity.Logout: %w", err)
	}
	m.audit.LogEvent(ctx, auditdomain.LevelInfo, module, "logout", "session "+sess.ID+" closed", sess.UserID)
	telemetry.EmitAsync(ctx, m.events, m.log, telemetry.NewEvent(telemetry.TypeSessionLogout, module).
		WithUser(sess.UserID).WithSession(sess.ID))
	return nil
}

// Authenticate verifies an access token and checks that its session still exists, belongs to
// the token's subject and is neither revoked nor expired.
func (m *SessionManager) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := m.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	sess, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("identity.Authenticate: %w", err)
	}
	now := m.now()
	if sess == nil || sess.UserID != claims.Subject || !sess.ActiveAt(now) {
		return nil, ErrInvalidSession
	}
	if err := m.sessions.TouchLastUsed(ctx, sess.ID, now); err != nil {
		m.log.Warn(ctx, "identity: touch last used failed", "session_id", sess.ID, "error", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user_id", claims.Subject))
	return &Principal{UserID: claims.Subject, SessionID: sess.ID, Role: userdomain.Role(claims.Role)}, nil
}

func (m *SessionManager) upgradeHash(ctx context.Context, u *userdomain.User, password string) {
	if !m.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	h, err := m.hasher.Hash([]byte(password))
	if err != nil {
		m.log.Warn(ctx, "identity: rehash failed", "user_id", u.ID, "error", err)
		return
	}
	if err := m.users.UpdatePasswordHash(ctx, u.ID, h); err != nil {
		m.log.Warn(ctx, "identity: storing upgraded hash failed", "user_id", u.ID, "error", err)
	}
}

func (m *SessionManager) dummy() string {
	m.dummyOnce.Do(func() {
		m.dummyHash, _ = m.hasher.Hash([]byte("not-a-real-password"))
	})
	return m.dummyHash
}

func (m *SessionManager) rotation(ctx context.Context, outcome string) {
	if m.metrics != nil {
		m.metrics.RefreshRotation(ctx, outcome)
	}
}
