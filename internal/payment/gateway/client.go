package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"elearning-marketplace/backend/internal/logging"
	paymentdomain "elearning-marketplace/backend/internal/payment/domain"
)

const maxRetries = 3

// Config is the static service configuration of the gateway.
type Config struct {
	BaseURL    string
	PublicKey  string
	PrivateKey string
	// Timeout bounds each outbound call attempt.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// PaymentRequest starts a payment. UserID and CourseID travel back in the confirmation extras.
type PaymentRequest struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Method      string
	Description string
	UserID      string
	CourseID    string
}

// PaymentResult is the gateway's answer to CreatePayment.
type PaymentResult struct {
	ExternalID  string
	Status      string
	RedirectURL string
}

// PaymentStatus is the gateway's view of one payment.
type PaymentStatus struct {
	ExternalID string
	Reference  string
	Status     string
	Amount     string
	Currency   string
	Reason     string
}

// Client is the HTTP gateway client. Only idempotent calls (login, status GET) are retried.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *TokenCache
}

// New returns a client whose bearer calls use a TokenCache logging in through the client itself.
func New(cfg Config, fallbackTTL time.Duration, log logging.Logger, metrics LoginRecorder) *Client {
	c := NewClient(cfg)
	c.SetTokenCache(NewTokenCache(c, fallbackTTL, log, metrics))
	return c
}

// NewClient returns a client without a credential cache. Call SetTokenCache before CreatePayment/GetPayment.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc}
}

// SetTokenCache wires the credential cache used for bearer calls.
func (c *Client) SetTokenCache(tc *TokenCache) { c.tokens = tc }

// Tokens returns the credential cache.
func (c *Client) Tokens() *TokenCache { return c.tokens }

type loginResponse struct {
	Token string `json:"token"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paymentData struct {
	RefPayco    string `json:"refPayco"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
	RedirectURL string `json:"redirectUrl"`
}

// Login authenticates with the service credentials. Transient failures are retried.
func (c *Client) Login(ctx context.Context) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		req, err := c.newRequest(ctx, http.MethodPost, "/login", nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.PublicKey, c.cfg.PrivateKey)
		body, status, err := c.do(req)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			return "", classifyStatus(status, body)
		}
		var lr loginResponse
		if err := json.Unmarshal(body, &lr); err != nil || lr.Token == "" {
			return "", backoff.Permanent(fmt.Errorf("gateway: malformed login response"))
		}
		return lr.Token, nil
	}, retryOptions()...)
}

// CreatePayment starts a payment. It is never retried: a repeated POST could charge twice.
// A timeout returns ErrGatewayTimeout and any other unclear answer ErrGatewayUnavailable, because
// the payment may or may not exist upstream. Only ErrGatewayRejected and ErrGatewayAuthFailure are
// definite.
func (c *Client) CreatePayment(ctx context.Context, in PaymentRequest) (*PaymentResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, unwrapPermanent(err)
	}
	payload, err := json.Marshal(map[string]string{
		"reference":   in.Reference,
		"amount":      paymentdomain.FormatMinor(in.AmountMinor),
		"currency":    in.Currency,
		"method":      in.Method,
		"description": in.Description,
		"extra1":      in.UserID,
		"extra2":      in.CourseID,
	})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/payment/process", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	body, status, err := c.do(req)
	if err != nil {
		return nil, outcomeUnknown(err)
	}
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		return nil, ErrGatewayAuthFailure
	}
	data, err := decodeEnvelope(status, body)
	if err != nil {
		return nil, outcomeUnknown(unwrapPermanent(err))
	}
	return &PaymentResult{ExternalID: data.RefPayco, Status: data.Status, RedirectURL: data.RedirectURL}, nil
}

// GetPayment looks up a payment by the gateway's reference. Safe to retry; a rejected credential
// is dropped and the next attempt logs in again.
func (c *Client) GetPayment(ctx context.Context, externalID string) (*PaymentStatus, error) {
	if externalID == "" {
		return nil, ErrPaymentNotFound
	}
	st, err := backoff.Retry(ctx, func() (*PaymentStatus, error) {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		req, err := c.newRequest(ctx, http.MethodGet, "/payment/transaction/"+url.PathEscape(externalID), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		body, status, err := c.do(req)
		if err != nil {
			return nil, err
		}
		switch status {
		case http.StatusUnauthorized:
			c.tokens.Invalidate(token)
			return nil, ErrGatewayAuthFailure
		case http.StatusNotFound:
			return nil, backoff.Permanent(ErrPaymentNotFound)
		}
		data, err := decodeEnvelope(status, body)
		if err != nil {
			return nil, err
		}
		return &PaymentStatus{
			ExternalID: data.RefPayco, Reference: data.Reference, Status: data.Status,
			Amount: data.Amount, Currency: data.Currency, Reason: data.Reason,
		}, nil
	}, retryOptions()...)
	if err != nil {
		return nil, unwrapPermanent(err)
	}
	return st, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", backoff.Permanent(fmt.Errorf("%w: no token cache configured", ErrGatewayAuthFailure))
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	return tok, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req with the per-attempt timeout and reads the body. Timeouts map to ErrGatewayTimeout.
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.cfg.Timeout)
	defer cancel()
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if isTimeout(err) {
			return nil, 0, ErrGatewayTimeout
		}
		if req.Context().Err() != nil {
			return nil, 0, backoff.Permanent(req.Context().Err())
		}
		return nil, 0, fmt.Errorf("gateway: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return nil, 0, ErrGatewayTimeout
		}
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func decodeEnvelope(status int, body []byte) (*paymentData, error) {
	if status < 200 || status >= 300 {
		return nil, classifyStatus(status, body)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("gateway: malformed response: %w", err))
	}
	if !env.Success {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrGatewayRejected, env.Message))
	}
	var data paymentData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("gateway: malformed response data: %w", err))
	}
	return &data, nil
}

// classifyStatus makes 5xx and 429 retryable and every other non-2xx permanent.
func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: upstream status %d: %s", ErrGatewayUnavailable, status, msg)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return backoff.Permanent(ErrGatewayAuthFailure)
	}
	return backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, status, msg))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrGatewayTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(maxRetries)}
}

// outcomeUnknown wraps err in ErrGatewayUnavailable unless it already says what happened upstream.
func outcomeUnknown(err error) error {
	switch {
	case errors.Is(err, ErrGatewayTimeout), errors.Is(err, ErrGatewayUnavailable),
		errors.Is(err, ErrGatewayRejected), errors.Is(err, ErrGatewayAuthFailure):
		return err
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// unwrapPermanent strips the retry wrapper so callers can errors.Is the sentinel directly.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
