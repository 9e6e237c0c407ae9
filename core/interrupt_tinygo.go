//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}

// Guard protects state shared between timer callbacks and the control loop.
// On the MCU it masks interrupts for the duration of the section.
type Guard struct {
	state interrupt.State
}

// Lock enters the critical section
func (g *Guard) Lock() {
	g.state = interrupt.Disable()
}

// Unlock leaves the critical section
func (g *Guard) Unlock() {
	interrupt.Restore(g.state)
}
