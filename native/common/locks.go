package common

import (
	"errors"
	"sync"
)

// ErrReentrantCall is returned when a guarded entry point is invoked while a
// sibling guarded call on the same component is still in flight.
var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard provides scoped mutual exclusion for entry points that
// perform external calls. Acquire the guard at the top of the entry point and
// release it with defer so the lock is dropped on every exit path.
type ReentrancyGuard struct {
	mu sync.Mutex
}

// Enter acquires the guard. It fails immediately instead of blocking when the
// guard is already held, since a held guard within a single serialized call
// can only mean re-entry through an external callback.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if !g.mu.TryLock() {
		return nil, ErrReentrantCall
	}
	return g.mu.Unlock, nil
}
