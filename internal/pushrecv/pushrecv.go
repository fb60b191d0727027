package pushrecv

import (
	"context"
	"fmt"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/navigation"
	"golang.org/x/time/rate"
)

type Event string

const (
	EventBackground Event = "background"
	EventClick      Event = "click"
)

type Message struct {
	Event   Event          `json:"event"`
	Payload intent.Payload `json:"payload"`
}

// Handler receives decoded push notifications. *navigation.Dispatcher
// implements it.
type Handler interface {
	BackgroundWake(ctx context.Context, payload intent.Payload) navigation.Result
	ForegroundClick(ctx context.Context, payload intent.Payload) navigation.Result
}

func Deliver(ctx context.Context, handler Handler, msg Message) (navigation.Result, error) {
	switch msg.Event {
	case EventBackground, "":
		return handler.BackgroundWake(ctx, msg.Payload), nil
	case EventClick:
		return handler.ForegroundClick(ctx, msg.Payload), nil
	default:
		return navigation.Result{}, fmt.Errorf("unknown push event %q", msg.Event)
	}
}

// NewLimiter returns an ingress limiter; a non-positive perSecond disables
// limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
