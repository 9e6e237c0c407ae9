//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// schedMu stands in for interrupt masking when running on a host
var schedMu sync.Mutex

// disableInterrupts serialises scheduler access on regular Go
func disableInterrupts() State {
	schedMu.Lock()
	return 0
}

// restoreInterrupts releases the scheduler lock
func restoreInterrupts(state State) {
	schedMu.Unlock()
}

// Guard protects state shared between timer callbacks and the control loop.
// On a host it is a mutex.
type Guard struct {
	mu sync.Mutex
}

// Lock enters the critical section
func (g *Guard) Lock() {
	g.mu.Lock()
}

// Unlock leaves the critical section
func (g *Guard) Unlock() {
	g.mu.Unlock()
}
