package trace

import (
	"sync"
)

// Scope holds the active correlation for one task (one goroutine's worth
// of work). Guards install a peer-tagged correlation and restore the
// previous one when released; nested guards restore in LIFO order.
//
// Scopes are explicit values threaded through call paths, not ambient
// globals: two tasks with separate scopes never see each other's context.
type Scope struct {
	mu    sync.Mutex
	stack []scopeFrame
}

type scopeFrame struct {
	correlation Correlation
	peerShortID string
}

// NewScope creates a scope with a root correlation active.
func NewScope() *Scope {
	s := &Scope{}
	s.stack = append(s.stack, scopeFrame{correlation: NewRoot()})
	return s
}

// Current returns the active correlation.
func (s *Scope) Current() Correlation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack[len(s.stack)-1].correlation
}

// CurrentPeer returns the short ID of the peer the active frame is scoped
// to, or empty at the root.
func (s *Scope) CurrentPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack[len(s.stack)-1].peerShortID
}

// PeerGuard installs a child correlation tagged with a peer's short ID.
// Release restores the prior frame; releases must nest LIFO.
func (s *Scope) PeerGuard(peerShortID string) *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()

	child := s.stack[len(s.stack)-1].correlation.Child()
	s.stack = append(s.stack, scopeFrame{correlation: child, peerShortID: peerShortID})
	return &Guard{scope: s, depth: len(s.stack)}
}

// Guard restores a scope frame on release.
type Guard struct {
	scope    *Scope
	depth    int
	released bool
}

// Release pops the guard's frame. Releasing out of LIFO order panics:
// that is a programming error, not an input error.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true

	g.scope.mu.Lock()
	defer g.scope.mu.Unlock()
	if len(g.scope.stack) != g.depth {
		panic("scope guards released out of order")
	}
	g.scope.stack = g.scope.stack[:g.depth-1]
}
