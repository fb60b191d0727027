package navigation

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTargetScreen  = "order-details"
	DefaultLandingScreen = "home"
)

type Params struct {
	TargetID string `json:"targetId,omitempty"`
}

type Route struct {
	ScreenPath string `json:"screenPath"`
	Params     Params `json:"params"`
}

// Router is the UI navigation surface.
type Router interface {
	Push(route Route) error
	Replace(route Route) error
	CanGoBack() bool
}

// ScreenReporter is implemented by routers that know which screen is on top.
// When the target screen is already showing, the dispatcher replaces it
// instead of stacking a duplicate.
type ScreenReporter interface {
	CurrentScreen() string
}

// StackRouter is a headless Router that keeps the navigation stack in memory
// and logs every change.
type StackRouter struct {
	mu     sync.Mutex
	stack  []Route
	logger logrus.FieldLogger
}

func NewStackRouter(logger logrus.FieldLogger, initial ...Route) *StackRouter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StackRouter{stack: append([]Route(nil), initial...), logger: logger}
}

func (r *StackRouter) Push(route Route) error {
	r.mu.Lock()
	r.stack = append(r.stack, route)
	depth := len(r.stack)
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"screen": route.ScreenPath, "target_id": route.Params.TargetID, "depth": depth}).Info("navigate push")
	return nil
}

func (r *StackRouter) Replace(route Route) error {
	r.mu.Lock()
	if len(r.stack) == 0 {
		r.stack = append(r.stack, route)
	} else {
		r.stack[len(r.stack)-1] = route
	}
	depth := len(r.stack)
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"screen": route.ScreenPath, "target_id": route.Params.TargetID, "depth": depth}).Info("navigate replace")
	return nil
}

func (r *StackRouter) CanGoBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack) > 1
}

func (r *StackRouter) Back() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) <= 1 {
		return false
	}
	r.stack = r.stack[:len(r.stack)-1]
	return true
}

func (r *StackRouter) CurrentScreen() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return ""
	}
	return r.stack[len(r.stack)-1].ScreenPath
}

func (r *StackRouter) Stack() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Route(nil), r.stack...)
}
