package readiness

import (
	"sort"
	"sync"
)

// State is the pair of conditions that must both hold before navigation.
type State struct {
	NavigationSurfaceReady bool `json:"navigationSurfaceReady"`
	SessionAuthorized      bool `json:"sessionAuthorized"`
}

func (s State) Ready() bool {
	return s.NavigationSurfaceReady && s.SessionAuthorized
}

type Transition struct {
	Previous State
	Current  State
}

func (t Transition) Changed() bool {
	return t.Previous != t.Current
}

func (t Transition) BecameReady() bool {
	return !t.Previous.Ready() && t.Current.Ready()
}

// AuthorizationFlipped reports whether this transition is the one where the
// session became authorized.
func (t Transition) AuthorizationFlipped() bool {
	return !t.Previous.SessionAuthorized && t.Current.SessionAuthorized
}

type Gate struct {
	mu       sync.Mutex
	state    State
	nextID   int
	watchers map[int]func(Transition)
}

func NewGate() *Gate {
	return &Gate{watchers: map[int]func(Transition){}}
}

// SetState overwrites both flags. Watchers run after the lock is released,
// only when the state actually changed.
func (g *Gate) SetState(surfaceReady, authorized bool) Transition {
	return g.update(func(State) State {
		return State{NavigationSurfaceReady: surfaceReady, SessionAuthorized: authorized}
	})
}

func (g *Gate) SetSurfaceReady(ready bool) Transition {
	return g.update(func(s State) State {
		s.NavigationSurfaceReady = ready
		return s
	})
}

func (g *Gate) SetAuthorized(authorized bool) Transition {
	return g.update(func(s State) State {
		s.SessionAuthorized = authorized
		return s
	})
}

func (g *Gate) update(next func(State) State) Transition {
	g.mu.Lock()
	transition := Transition{Previous: g.state, Current: next(g.state)}
	g.state = transition.Current
	var watchers []func(Transition)
	if transition.Changed() {
		watchers = g.snapshotWatchersLocked()
	}
	g.mu.Unlock()

	for _, watcher := range watchers {
		watcher(transition)
	}
	return transition
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) IsReady() bool {
	return g.State().Ready()
}

func (g *Gate) Watch(fn func(Transition)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watchers == nil {
		g.watchers = map[int]func(Transition){}
	}
	id := g.nextID
	g.nextID++
	g.watchers[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.watchers, id)
	}
}

func (g *Gate) snapshotWatchersLocked() []func(Transition) {
	ids := make([]int, 0, len(g.watchers))
	for id := range g.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Transition), 0, len(ids))
	for _, id := range ids {
		out = append(out, g.watchers[id])
	}
	return out
}
