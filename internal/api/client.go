package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/courierlink/internal/session"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 4 << 20

var ErrInvalidCredentials = errors.New("invalid credentials")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is reports a surfaced 401 as an expired session; the transport has already
// tried to refresh by the time the client sees one.
func (e *HTTPError) Is(target error) bool {
	return target == session.ErrSessionExpired && e.StatusCode == http.StatusUnauthorized
}

type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	VehicleType string `json:"vehicleType,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	Profile      *Profile `json:"profile,omitempty"`
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Client talks to the courier backend. Its http.Client is expected to carry a
// session.Transport so requests are authenticated and refreshed transparently.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials *session.CredentialStore
	logger      logrus.FieldLogger
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, credentials *session.CredentialStore, logger logrus.FieldLogger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		credentials: credentials,
		logger:      logger,
		maxRetries:  3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for a token pair and stores it. A rejected
// login never triggers a refresh attempt.
func (c *Client) Login(ctx context.Context, email, password string) (*Profile, error) {
	var resp loginResponse
	err := c.doJSON(session.WithoutRefresh(ctx), http.MethodPost, "/auth/login", loginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}, &resp)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, httpErr.Message)
		}
		return nil, err
	}
	tokens := session.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := c.credentials.Set(ctx, tokens); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return resp.Profile, nil
}

// Logout revokes the session server-side when possible and always clears the
// local credentials.
func (c *Client) Logout(ctx context.Context) error {
	if c.credentials.HasSession(ctx) {
		if err := c.doJSON(session.WithoutRefresh(ctx), http.MethodPost, "/auth/logout", nil, nil); err != nil {
			c.logger.WithError(err).Warn("server-side logout failed")
		}
	}
	return c.credentials.Clear(ctx)
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("push token is required")
	}
	return c.doJSON(ctx, http.MethodPost, "/devices", pushTokenRequest{Token: token, Platform: platform}, nil)
}

// doJSON sends one logical request. Transport failures, 429 and 5xx answers
// are retried up to maxRetries times; every attempt shares a correlation id.
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		if encoded, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, requestPath, err)
		}
	}
	correlationID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{"method": method, "path": requestPath, "correlation_id": correlationID})

	for attempt := 1; ; attempt++ {
		reply, err := c.send(ctx, method, requestPath, encoded, correlationID)
		retryAfter := ""
		switch {
		case err != nil:
			if ctx.Err() != nil || attempt > c.maxRetries {
				return err
			}
		case reply.status >= 200 && reply.status < 300:
			if out == nil || len(reply.body) == 0 {
				return nil
			}
			return json.Unmarshal(reply.body, out)
		case !retryableStatus(reply.status) || attempt > c.maxRetries:
			return reply.httpError()
		default:
			retryAfter = reply.header.Get("Retry-After")
		}
		delay := c.retryDelay(attempt, retryAfter)
		log.WithField("attempt", attempt).WithField("retry_in", delay.String()).Debug("retrying backend request")
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

type reply struct {
	status int
	header http.Header
	body   []byte
}

func (r reply) httpError() *HTTPError {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(r.body, &envelope)
	return &HTTPError{StatusCode: r.status, Code: envelope.Code, Message: envelope.Message}
}

func (c *Client) send(ctx context.Context, method, requestPath string, encoded []byte, correlationID string) (reply, error) {
	var payload io.Reader
	if encoded != nil {
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, payload)
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return reply{}, err
	}
	return reply{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// retryDelay honours Retry-After when present, otherwise doubles baseDelay per
// attempt. Both are capped at maxDelay.
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	limit := c.maxDelay
	if limit <= 0 {
		limit = 2 * time.Second
	}
	if hinted := parseRetryAfter(retryAfterHeader); hinted > 0 {
		return min(hinted, limit)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 0; i < attempt-1; i++ {
		if delay *= 2; delay >= limit {
			return limit
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
