package adapter

import (
	"sync"
	"sync/atomic"
)

// UnloadGuard asks for confirmation before the user leaves the page. It is
// armed from startup until a redirect disarms it for good.
type UnloadGuard struct {
	armed atomic.Bool

	mu       sync.Mutex
	onChange []func(armed bool)
}

func NewUnloadGuard() *UnloadGuard {
	g := &UnloadGuard{}
	g.armed.Store(true)
	return g
}

func (g *UnloadGuard) Armed() bool {
	return g.armed.Load()
}

// BeforeUnload reports whether leaving needs the user's confirmation.
func (g *UnloadGuard) BeforeUnload() bool {
	return g.armed.Load()
}

// Disarm clears the guard. Idempotent; listeners hear about it once.
func (g *UnloadGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed.CompareAndSwap(true, false) {
		return
	}
	for _, fn := range g.onChange {
		fn(false)
	}
}

// OnChange registers fn and calls it once with the current state. Listeners
// run under the guard's lock, so each sees the current state, then at most
// one change, in that order. fn must not call back into the guard's
// OnChange or Disarm.
func (g *UnloadGuard) OnChange(fn func(armed bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = append(g.onChange, fn)
	fn(g.armed.Load())
}
