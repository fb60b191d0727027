package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 30 * time.Second

type contextKey int

const (
	retriedKey contextKey = iota
	skipRefreshKey
)

// WithoutRefresh marks requests made with ctx so a 401 is returned as is.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey, true)
}

func isRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey).(bool)
	return retried
}

func refreshDisabled(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRefreshKey).(bool)
	return skip
}

// Transport attaches the stored access token to outgoing requests and, on a
// 401, refreshes the pair and replays the request exactly once. Concurrent
// 401s presenting the same refresh token share one refresh call.
type Transport struct {
	Base             http.RoundTripper
	Credentials      *CredentialStore
	Refresher        Refresher
	Logger           logrus.FieldLogger
	OnSessionExpired func(ctx context.Context)
	// RefreshTimeout bounds one shared refresh call; zero means 30s.
	RefreshTimeout time.Duration

	group  singleflight.Group
	tracer trace.Tracer
}

func NewTransport(base http.RoundTripper, credentials *CredentialStore, refresher Refresher, logger logrus.FieldLogger) *Transport {
	return &Transport{
		Base:        base,
		Credentials: credentials,
		Refresher:   refresher,
		Logger:      logger,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	sent := ""
	outbound := req
	tokens, err := t.Credentials.Get(ctx)
	switch {
	case err == nil:
		sent = tokens.AccessToken
		outbound = withBearer(ctx, req, tokens.AccessToken)
	case !errors.Is(err, ErrNoSession):
		t.logger().WithError(err).Warn("read credentials failed; sending request unauthenticated")
	}

	resp, err := t.base().RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isRetried(ctx) || refreshDisabled(ctx) {
		return resp, nil
	}
	return t.recoverUnauthorized(req, resp, sent)
}

func (t *Transport) recoverUnauthorized(req *http.Request, original *http.Response, sent string) (*http.Response, error) {
	ctx := context.WithValue(req.Context(), retriedKey, true)
	log := t.logger().WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()})

	tokens, err := t.Credentials.Get(ctx)
	if err != nil {
		if clearErr := t.Credentials.Clear(ctx); clearErr != nil {
			log.WithError(clearErr).Warn("clear credentials failed")
		}
		return original, nil
	}

	access := tokens.AccessToken
	if access == sent {
		fresh, refreshErr := t.refresh(ctx, tokens)
		if refreshErr != nil {
			log.WithError(refreshErr).Info("session refresh failed")
			return original, nil
		}
		access = fresh.AccessToken
	} else {
		log.Debug("credentials rotated by a concurrent refresh")
	}

	retry, ok := replayRequest(ctx, req, access)
	if !ok {
		log.Warn("request body cannot be replayed; returning original response")
		return original, nil
	}
	drainAndClose(original.Body)
	return t.base().RoundTrip(retry)
}

func (t *Transport) refresh(ctx context.Context, tokens Tokens) (Tokens, error) {
	result, err, _ := t.group.Do(tokens.RefreshToken, func() (any, error) {
		// Callers share this refresh, so it must outlive whichever one started it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.refreshTimeout())
		defer cancel()
		ctx, span := t.startSpan(ctx)
		defer span.End()

		if t.Refresher == nil {
			err := errors.New("no refresher configured")
			t.expire(ctx)
			return Tokens{}, err
		}
		fresh, err := t.Refresher.Refresh(ctx, tokens)
		if err == nil && !fresh.Complete() {
			err = ErrIncompleteTokens
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
			t.expire(ctx)
			return Tokens{}, err
		}
		if err := t.Credentials.Set(ctx, fresh); err != nil {
			t.logger().WithError(err).Error("persist refreshed credentials failed")
		}
		return fresh, nil
	})
	if err != nil {
		return Tokens{}, err
	}
	return result.(Tokens), nil
}

func (t *Transport) refreshTimeout() time.Duration {
	if t.RefreshTimeout > 0 {
		return t.RefreshTimeout
	}
	return defaultRefreshTimeout
}

func (t *Transport) expire(ctx context.Context) {
	if err := t.Credentials.Clear(ctx); err != nil {
		t.logger().WithError(err).Warn("clear credentials failed")
	}
	if t.OnSessionExpired != nil {
		t.OnSessionExpired(ctx)
	}
}

func (t *Transport) startSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := t.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/agentworkforce/courierlink/internal/session")
	}
	return tracer.Start(ctx, "session.refresh")
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() logrus.FieldLogger {
	if t.Logger != nil {
		return t.Logger
	}
	return logrus.StandardLogger()
}

func withBearer(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

func replayRequest(ctx context.Context, req *http.Request, token string) (*http.Request, bool) {
	retry := withBearer(ctx, req, token)
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
