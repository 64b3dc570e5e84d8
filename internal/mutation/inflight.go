package mutation

import (
	"fmt"
	"sync"

	"github.com/starford/mailroom/internal/apperr"
)

// Guard rejects a second operation on an entity while the first is still
// in flight.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{busy: make(map[string]struct{})}
}

// Acquire marks key busy and returns the function that releases it.
func (g *Guard) Acquire(key string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBusy, key)
	}
	g.busy[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.busy, key)
		g.mu.Unlock()
	}, nil
}

// Busy reports whether key is currently held.
func (g *Guard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[key]
	return ok
}
