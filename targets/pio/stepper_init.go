//go:build rp2040

package pio

import (
	"steparm/core"
)

var (
	// PIO allocation tracking
	// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// NewBackends returns one step generator per joint. PIO state machines are
// used while they last, then the SIO backend with the given direction settle.
func NewBackends(joints int, usePIO bool, dirSettleUS uint32) []core.StepperBackend {
	backends := make([]core.StepperBackend, joints)
	for i := range backends {
		if usePIO {
			if pioNum, smNum, ok := allocatePIO(); ok {
				backends[i] = NewPIOStepperBackend(pioNum, smNum, dirSettleUS)
				continue
			}
		}
		backends[i] = NewSIOStepperBackend(dirSettleUS)
	}
	return backends
}

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	// Round-robin allocation across PIO blocks and state machines
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		// Advance to next slot
		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		// Check if this slot is free
		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}

	// All PIO resources exhausted
	return 0, 0, false
}

// GetPIOAllocationStatus returns PIO allocation status for debugging
func GetPIOAllocationStatus() [2][4]bool {
	return pioAllocations
}
