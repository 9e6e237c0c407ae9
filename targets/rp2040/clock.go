//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"steparm/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

// timerRAWL wraps every 71 minutes; core timers compare wrap-safe
var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock sets the scheduler to the 1MHz hardware timer
func InitClock() {
	core.SetTimerFrequency(1000000)
	UpdateSystemTime()
}

// GetHardwareTime reads the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime updates the core timer with hardware time
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
