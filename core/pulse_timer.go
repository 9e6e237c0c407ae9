package core

import "sync/atomic"

// StepPulseTimer is a periodic hardware-style timer that drives one axis.
// onTick runs at the programmed frequency; when it returns true a pulse was
// started and onPulseEnd runs one pulse width later.
type StepPulseTimer interface {
	AttachCallbacks(onTick func() bool, onPulseEnd func())
	SetPulseWidth(us uint32)
	SetFrequency(hz uint32)
	Start()
	Stop()
}

// PulseTimerSource hands out step timers. A profile acquires one when a
// move starts and releases it when the move ends.
type PulseTimerSource interface {
	Acquire() (StepPulseTimer, bool)
	Release(t StepPulseTimer)
}

// SchedPulseTimer implements StepPulseTimer on the software scheduler
type SchedPulseTimer struct {
	tick  Timer
	pulse Timer

	period     atomic.Uint32 // ticks between onTick calls
	pulseTicks atomic.Uint32
	running    atomic.Bool

	onTick     func() bool
	onPulseEnd func()
}

// NewSchedPulseTimer creates an idle timer with an 8us pulse width
func NewSchedPulseTimer() *SchedPulseTimer {
	t := &SchedPulseTimer{}
	t.tick.Handler = t.tickEvent
	t.pulse.Handler = t.pulseEvent
	t.period.Store(TimerFromHz(1))
	t.pulseTicks.Store(TimerFromUS(8))
	return t
}

// AttachCallbacks installs the tick and pulse-end handlers
func (t *SchedPulseTimer) AttachCallbacks(onTick func() bool, onPulseEnd func()) {
	t.onTick = onTick
	t.onPulseEnd = onPulseEnd
}

// SetPulseWidth sets the delay between a tick and its pulse end
func (t *SchedPulseTimer) SetPulseWidth(us uint32) {
	ticks := TimerFromUS(us)
	if ticks == 0 {
		ticks = 1
	}
	t.pulseTicks.Store(ticks)
}

// SetFrequency changes the tick rate. Takes effect from the next tick.
func (t *SchedPulseTimer) SetFrequency(hz uint32) {
	t.period.Store(TimerFromHz(hz))
}

// Period returns the current tick period in timer ticks
func (t *SchedPulseTimer) Period() uint32 {
	return t.period.Load()
}

// Start schedules the first tick one period from now
func (t *SchedPulseTimer) Start() {
	t.running.Store(true)
	t.tick.WakeTime = GetTime() + t.period.Load()
	ScheduleTimer(&t.tick)
}

// Stop cancels further ticks. A pending pulse end still fires so the
// step line is always returned low.
func (t *SchedPulseTimer) Stop() {
	t.running.Store(false)
	DeleteTimer(&t.tick)
}

// Running reports whether ticks are being generated
func (t *SchedPulseTimer) Running() bool {
	return t.running.Load()
}

func (t *SchedPulseTimer) tickEvent(tm *Timer) uint8 {
	if !t.running.Load() || t.onTick == nil {
		return SF_DONE
	}
	if t.onTick() {
		t.pulse.WakeTime = tm.WakeTime + t.pulseTicks.Load()
		ScheduleTimer(&t.pulse)
	}
	if !t.running.Load() {
		return SF_DONE
	}
	tm.WakeTime += t.period.Load()
	return SF_RESCHEDULE
}

func (t *SchedPulseTimer) pulseEvent(tm *Timer) uint8 {
	if t.onPulseEnd != nil {
		t.onPulseEnd()
	}
	return SF_DONE
}

// PulseTimerPool is a fixed set of scheduler timers, one per concurrently
// moving axis group.
type PulseTimerPool struct {
	guard  Guard
	timers []*SchedPulseTimer
	inUse  []bool
}

// NewPulseTimerPool allocates n timers up front
func NewPulseTimerPool(n int) *PulseTimerPool {
	p := &PulseTimerPool{
		timers: make([]*SchedPulseTimer, n),
		inUse:  make([]bool, n),
	}
	for i := range p.timers {
		p.timers[i] = NewSchedPulseTimer()
	}
	return p
}

// Acquire returns a free timer, or false when all are in use
func (p *PulseTimerPool) Acquire() (StepPulseTimer, bool) {
	p.guard.Lock()
	defer p.guard.Unlock()
	for i, used := range p.inUse {
		if !used {
			p.inUse[i] = true
			return p.timers[i], true
		}
	}
	return nil, false
}

// Release stops the timer and returns it to the pool
func (p *PulseTimerPool) Release(t StepPulseTimer) {
	if t == nil {
		return
	}
	t.Stop()
	p.guard.Lock()
	defer p.guard.Unlock()
	for i, pt := range p.timers {
		if StepPulseTimer(pt) == t {
			p.inUse[i] = false
			return
		}
	}
}

// Available returns the number of free timers
func (p *PulseTimerPool) Available() int {
	p.guard.Lock()
	defer p.guard.Unlock()
	n := 0
	for _, used := range p.inUse {
		if !used {
			n++
		}
	}
	return n
}
