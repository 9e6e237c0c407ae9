package core

import "time"

// MaxBusyDelayUS bounds DelayMicroseconds so a bad setting cannot stall a tick
const MaxBusyDelayUS = 100

// DelayMicroseconds spins for us microseconds, capped at MaxBusyDelayUS
func DelayMicroseconds(us uint32) {
	if us == 0 {
		return
	}
	if us > MaxBusyDelayUS {
		us = MaxBusyDelayUS
	}
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}
