package pio

// maxInstrDelay is the largest delay field of a PIO instruction without side-set
const maxInstrDelay = 31

// dirSetupDelay returns the delay cycles to put on the instruction that
// writes the direction pin so the step edge follows at least settleUS
// later. The state machine runs at 1MHz and the write itself takes a cycle.
func dirSetupDelay(settleUS uint32) uint8 {
	if settleUS <= 1 {
		return 0
	}
	if settleUS-1 > maxInstrDelay {
		return maxInstrDelay
	}
	return uint8(settleUS - 1)
}
