package core

import "sync/atomic"

// DefaultTimerFreq is the tick rate of the RP2040 microsecond timer
const DefaultTimerFreq = 1000000

var timerFreq uint32 = DefaultTimerFreq

// systemTicks is written by the target main loop and read from timer context
var systemTicks atomic.Uint32

// GetTimerFrequency returns the scheduler tick rate in Hz
func GetTimerFrequency() uint32 {
	return timerFreq
}

// SetTimerFrequency changes the scheduler tick rate (targets call this once at boot)
func SetTimerFrequency(hz uint32) {
	if hz == 0 {
		hz = DefaultTimerFreq
	}
	timerFreq = hz
}

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * uint64(timerFreq) / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / uint64(timerFreq))
}

// TimerFromHz returns the period in ticks of the given frequency, never less than one tick
func TimerFromHz(hz uint32) uint32 {
	if hz == 0 {
		return timerFreq
	}
	period := timerFreq / hz
	if period == 0 {
		period = 1
	}
	return period
}

// timerIsBefore compares two wake times across counter wrap
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	TimerDispatch(GetTime())
}
