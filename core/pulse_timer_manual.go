package core

// ManualPulseTimer is a StepPulseTimer that only ticks when told to.
// Tests and simulators use it to drive profiles deterministically.
type ManualPulseTimer struct {
	onTick     func() bool
	onPulseEnd func()
	frequency  uint32
	pulseWidth uint32
	running    bool
	starts     int
	ticks      int
	pulses     int
}

// AttachCallbacks installs the tick and pulse-end handlers
func (m *ManualPulseTimer) AttachCallbacks(onTick func() bool, onPulseEnd func()) {
	m.onTick = onTick
	m.onPulseEnd = onPulseEnd
}

// SetPulseWidth records the pulse width
func (m *ManualPulseTimer) SetPulseWidth(us uint32) { m.pulseWidth = us }

// SetFrequency records the tick rate
func (m *ManualPulseTimer) SetFrequency(hz uint32) { m.frequency = hz }

// Start marks the timer running
func (m *ManualPulseTimer) Start() {
	m.running = true
	m.starts++
}

// Stop marks the timer stopped
func (m *ManualPulseTimer) Stop() { m.running = false }

// Frequency returns the last programmed frequency
func (m *ManualPulseTimer) Frequency() uint32 { return m.frequency }

// Running reports whether the timer is started
func (m *ManualPulseTimer) Running() bool { return m.running }

// Ticks returns how many ticks were delivered
func (m *ManualPulseTimer) Ticks() int { return m.ticks }

// Pulses returns how many ticks produced a pulse
func (m *ManualPulseTimer) Pulses() int { return m.pulses }

// Fire delivers one tick and, if requested, the matching pulse end.
// Returns false when the timer is not running.
func (m *ManualPulseTimer) Fire() bool {
	if !m.running || m.onTick == nil {
		return false
	}
	m.ticks++
	if m.onTick() {
		m.pulses++
		if m.onPulseEnd != nil {
			m.onPulseEnd()
		}
	}
	return true
}

// ManualTimerSource is a PulseTimerSource backed by ManualPulseTimers
type ManualTimerSource struct {
	timers []*ManualPulseTimer
	inUse  []bool
}

// NewManualTimerSource creates a source with n timers
func NewManualTimerSource(n int) *ManualTimerSource {
	s := &ManualTimerSource{
		timers: make([]*ManualPulseTimer, n),
		inUse:  make([]bool, n),
	}
	for i := range s.timers {
		s.timers[i] = &ManualPulseTimer{}
	}
	return s
}

// Acquire returns a free timer
func (s *ManualTimerSource) Acquire() (StepPulseTimer, bool) {
	for i, used := range s.inUse {
		if !used {
			s.inUse[i] = true
			return s.timers[i], true
		}
	}
	return nil, false
}

// Release stops the timer and frees it
func (s *ManualTimerSource) Release(t StepPulseTimer) {
	if t == nil {
		return
	}
	t.Stop()
	for i, mt := range s.timers {
		if StepPulseTimer(mt) == t {
			s.inUse[i] = false
		}
	}
}

// InUse returns the number of acquired timers
func (s *ManualTimerSource) InUse() int {
	n := 0
	for _, used := range s.inUse {
		if used {
			n++
		}
	}
	return n
}

// Timer returns timer i for inspection
func (s *ManualTimerSource) Timer(i int) *ManualPulseTimer {
	return s.timers[i]
}

// Advance fires every running acquired timer n times. Returns the number of
// ticks delivered.
func (s *ManualTimerSource) Advance(n int) int {
	fired := 0
	for ; n > 0; n-- {
		active := false
		for i, t := range s.timers {
			if s.inUse[i] && t.Fire() {
				fired++
				active = true
			}
		}
		if !active {
			break
		}
	}
	return fired
}

// RunUntilIdle fires ticks until no timer is running or limit ticks pass
func (s *ManualTimerSource) RunUntilIdle(limit int) int {
	return s.Advance(limit)
}
