package core

import (
	"fmt"
	"strconv"
	"sync/atomic"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a motion event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Axis      uint8  // Axis index
	Clock     uint32 // System clock at event
	Value1    int32  // Context-dependent value
	Value2    int32  // Context-dependent value
}

// Event type codes
const (
	EvtMoveStart     = 1 // profile started (v1=target, v2=max velocity)
	EvtMoveDone      = 2 // profile reached its end (v1=position)
	EvtStopRequested = 3 // graceful stop converted the plan (v1=steps traveled, v2=new total)
	EvtEmergencyStop = 4 // profile reset by emergency stop (v1=position)
	EvtCalibPhase    = 5 // calibration phase entered (v1=phase)
	EvtLimitTrip     = 6 // limit switch pressed while moving (v1=position)
	EvtOverride      = 7 // speed override applied (v1=new target velocity)
	EvtTimerFault    = 8 // no step timer available (v1=axis)
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event ring written from tick context; a slot is claimed with one atomic add
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead atomic.Uint32

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
// Useful for benchmarks where debug output would affect timing
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16) // Buffer 16 messages
	go debugOutputWorker()
}

// debugOutputWorker runs in background, drains debug channel
func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// Debugf formats and writes a debug message. Formatting is skipped when
// debug output is disabled. Never call from tick context.
func Debugf(format string, args ...interface{}) {
	if !debugEnabled || debugPrintln == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if debugChan != nil {
		DebugAsync(msg)
		return
	}
	debugPrintln(msg)
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures a motion event in the ring buffer.
// Safe to call from tick context: no allocation, no locks.
func RecordEvent(eventType, axis uint8, value1, value2 int32) {
	idx := (timingRingHead.Add(1) - 1) % TimingRingSize
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Axis:      axis,
		Clock:     GetTime(),
		Value1:    value1,
		Value2:    value2,
	}
}

// TimingEvents returns the recorded events, oldest first
func TimingEvents() []TimingEvent {
	head := timingRingHead.Load()
	out := make([]TimingEvent, 0, TimingRingSize)
	for i := uint32(0); i < TimingRingSize; i++ {
		evt := timingRing[(head+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtMoveStart:
		return "MOVE_START"
	case EvtMoveDone:
		return "MOVE_DONE"
	case EvtStopRequested:
		return "STOP"
	case EvtEmergencyStop:
		return "ESTOP"
	case EvtCalibPhase:
		return "CALIB_PHASE"
	case EvtLimitTrip:
		return "LIMIT_TRIP!"
	case EvtOverride:
		return "OVERRIDE"
	case EvtTimerFault:
		return "NO_TIMER!"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the event ring buffer (call on shutdown/error)
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Event Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" axis=" + strconv.Itoa(int(evt.Axis)) +
			" clock=" + strconv.FormatUint(uint64(evt.Clock), 10) +
			" v1=" + strconv.Itoa(int(evt.Value1)) +
			" v2=" + strconv.Itoa(int(evt.Value2)))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the event buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead.Store(0)
}
