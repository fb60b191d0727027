package navigation

import (
	"errors"
	"sync"
	"time"
)

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

type routerCall struct {
	kind  string
	route Route
}

type fakeRouter struct {
	mu        sync.Mutex
	calls     []routerCall
	canGoBack bool
	pushErr   error
	pushPanic bool
}

func (r *fakeRouter) Push(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if route.ScreenPath == DefaultTargetScreen {
		if r.pushPanic {
			panic("screen exploded")
		}
		if r.pushErr != nil {
			return r.pushErr
		}
	}
	r.calls = append(r.calls, routerCall{kind: "push", route: route})
	return nil
}

func (r *fakeRouter) Replace(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, routerCall{kind: "replace", route: route})
	return nil
}

func (r *fakeRouter) CanGoBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canGoBack
}

func (r *fakeRouter) Calls() []routerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routerCall(nil), r.calls...)
}

type reportingRouter struct {
	fakeRouter
	current string
}

func (r *reportingRouter) CurrentScreen() string {
	return r.current
}

var errScreenUnavailable = errors.New("screen unavailable")
