// Package planner turns "move these joints in this many seconds" requests
// into velocity-profile parameters for the leading axis.
package planner

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidDuration is returned for a non-positive or non-finite duration
var ErrInvalidDuration = errors.New("duration must be positive")

// Plan is a duration-based trapezoid expressed in step delays, plus the
// equivalent profile velocities.
type Plan struct {
	MasterSteps    int32
	AccelSteps     int32
	DecelStartStep int32

	StartDelayUS  float64
	CruiseDelayUS float64

	StartVelocity  int32 // steps/s
	CruiseVelocity int32 // steps/s
	Acceleration   int32 // steps/s^2
}

// ClampFraction limits the acceleration fraction to [0, 1]
func ClampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// SelectMaster returns the index of the largest absolute delta, the
// lowest index on ties. Returns -1 when every delta is zero.
func SelectMaster(deltas []int32) int {
	master := -1
	var best int64
	for i, d := range deltas {
		a := int64(d)
		if a < 0 {
			a = -a
		}
		if a > best {
			best = a
			master = i
		}
	}
	return master
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewPlan computes the delay ramp for a move of masterSteps steps lasting
// durationSec seconds, accelFraction of which is spent ramping (half up,
// half down).
func NewPlan(masterSteps int32, durationSec, accelFraction float64, minDelayUS, maxDelayUS uint32) (Plan, error) {
	if !(durationSec > 0) || math.IsInf(durationSec, 1) {
		return Plan{}, errors.Wrapf(ErrInvalidDuration, "got %v", durationSec)
	}
	if masterSteps < 0 {
		masterSteps = -masterSteps
	}
	if masterSteps == 0 {
		return Plan{}, nil
	}
	frac := ClampFraction(accelFraction)

	p := Plan{MasterSteps: masterSteps}
	p.AccelSteps = int32(float64(masterSteps) * (frac / 2))
	p.DecelStartStep = masterSteps - p.AccelSteps

	avgDelay := durationSec * 1e6 / float64(masterSteps)
	initialDelay := avgDelay * (1 + frac)
	p.CruiseDelayUS = clamp(avgDelay, float64(minDelayUS), float64(maxDelayUS))
	p.StartDelayUS = clamp(initialDelay, p.CruiseDelayUS, float64(maxDelayUS))

	p.CruiseVelocity = int32(math.Round(1e6 / p.CruiseDelayUS))
	p.StartVelocity = int32(math.Round(1e6 / p.StartDelayUS))
	if p.StartVelocity > p.CruiseVelocity {
		p.StartVelocity = p.CruiseVelocity
	}

	cruise2 := float64(p.CruiseVelocity) * float64(p.CruiseVelocity)
	start2 := float64(p.StartVelocity) * float64(p.StartVelocity)
	if p.AccelSteps > 0 && cruise2 > start2 {
		p.Acceleration = int32(math.Ceil((cruise2 - start2) / (2 * float64(p.AccelSteps))))
	} else {
		// no ramp requested: reach cruise within one step
		p.Acceleration = int32(math.Min(cruise2, math.MaxInt32))
	}
	if p.Acceleration < 1 {
		p.Acceleration = 1
	}
	return p, nil
}

// DelayAt returns the step delay of the linear ramp at step index i
func (p Plan) DelayAt(i int32) float64 {
	span := p.StartDelayUS - p.CruiseDelayUS
	switch {
	case i < p.AccelSteps && p.AccelSteps > 0:
		return p.StartDelayUS - span*float64(i)/float64(p.AccelSteps)
	case i >= p.DecelStartStep && p.AccelSteps > 0:
		return p.CruiseDelayUS + span*float64(i-p.DecelStartStep)/float64(p.AccelSteps)
	default:
		return p.CruiseDelayUS
	}
}

// ExpectedDurationUS returns the total time of the delay ramp
func (p Plan) ExpectedDurationUS() float64 {
	ramps := float64(2*p.AccelSteps) * (p.StartDelayUS + p.CruiseDelayUS) / 2
	cruise := float64(p.MasterSteps-2*p.AccelSteps) * p.CruiseDelayUS
	return ramps + cruise
}
