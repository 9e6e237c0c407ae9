package stepgen

import "steparm/core"

// fakeBackend records what the profile asked of the hardware
type fakeBackend struct {
	name       string
	high       bool
	steps      int
	reverse    bool
	dirSet     bool
	dirChanges int
	stopped    int

	clock  *int  // shared leader step counter
	stepAt []int // clock value at each step
	lead   bool  // this backend advances clock
}

func (b *fakeBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error { return nil }

func (b *fakeBackend) SetDirection(reverse bool) {
	if b.dirSet && reverse != b.reverse {
		b.dirChanges++
	}
	b.dirSet = true
	b.reverse = reverse
}

func (b *fakeBackend) StepHigh() {
	b.high = true
	b.steps++
	if b.clock != nil {
		if b.lead {
			*b.clock++
		}
		b.stepAt = append(b.stepAt, *b.clock)
	}
}

func (b *fakeBackend) StepLow() { b.high = false }
func (b *fakeBackend) Stop()    { b.stopped++; b.high = false }

func (b *fakeBackend) GetName() string { return "fake" }

func newTestStepper(id uint8, timers core.PulseTimerSource) (*Stepper, *fakeBackend) {
	b := &fakeBackend{name: "J"}
	s := NewStepper(id, "J", b, timers, Options{KickVelocity: 200, MaxVelocity: 5000})
	return s, b
}

// runUntilIdle ticks the source until every timer stops, returning the tick count
func runUntilIdle(src *core.ManualTimerSource, limit int) int {
	return src.Advance(limit)
}
