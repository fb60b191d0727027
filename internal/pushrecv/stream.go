package pushrecv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	initialBackoff  = 500 * time.Millisecond
	defaultMaxDelay = 30 * time.Second
	maxFrameBytes   = 64 << 10
)

// StreamReceiver consumes push notifications from a websocket and reconnects
// with capped exponential backoff until its context ends.
type StreamReceiver struct {
	URL        string
	Handler    Handler
	Limiter    *rate.Limiter
	Logger     logrus.FieldLogger
	MaxBackoff time.Duration
	// BearerToken, when set, supplies the Authorization header for each dial.
	BearerToken func(ctx context.Context) (string, error)

	minBackoff time.Duration
}

func (r *StreamReceiver) Run(ctx context.Context) error {
	if strings.TrimSpace(r.URL) == "" || r.Handler == nil {
		return errors.New("push stream: url and handler are required")
	}
	log := r.logger().WithField("url", r.URL)
	backoff := r.initialBackoff()
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = r.initialBackoff()
		}
		log.WithError(err).WithField("retry_in", backoff.String()).Warn("push stream disconnected")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if limit := r.maxBackoff(); backoff > limit {
			backoff = limit
		}
	}
}

func (r *StreamReceiver) session(ctx context.Context) (bool, error) {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if r.BearerToken != nil {
		token, err := r.BearerToken(ctx)
		if err == nil && token != "" {
			opts.HTTPHeader.Set("Authorization", "Bearer "+token)
		}
	}
	conn, _, err := websocket.Dial(ctx, r.URL, opts)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameBytes)
	r.logger().WithField("url", r.URL).Info("push stream connected")
	return true, r.consume(ctx, conn)
}

func (r *StreamReceiver) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger().WithError(err).Warn("skipping malformed push frame")
			continue
		}
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		result, err := Deliver(ctx, r.Handler, msg)
		if err != nil {
			r.logger().WithError(err).Warn("skipping push frame")
			continue
		}
		r.logger().WithFields(logrus.Fields{
			"event":     string(msg.Event),
			"outcome":   string(result.Outcome),
			"target_id": result.TargetID,
		}).Debug("push frame delivered")
	}
}

func (r *StreamReceiver) initialBackoff() time.Duration {
	if r.minBackoff > 0 {
		return r.minBackoff
	}
	return initialBackoff
}

func (r *StreamReceiver) maxBackoff() time.Duration {
	if r.MaxBackoff > 0 {
		return r.MaxBackoff
	}
	return defaultMaxDelay
}

func (r *StreamReceiver) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}
