// Package homing finds each joint's reference position with its limit
// switch: a fast seek, a backoff, a slow seek that captures zero, and a
// move to the joint centre.
package homing

import (
	"math"

	"github.com/pkg/errors"

	"steparm/core"
	"steparm/standalone/config"
)

// Failure reasons
var (
	ErrSwitchNotFound = errors.New("limit switch not reached")
	ErrSwitchStuck    = errors.New("limit switch still pressed after backoff")
	ErrAborted        = errors.New("calibration aborted")
	ErrMoveFailed     = errors.New("calibration move could not start")
)

// Phase is the state of a calibration sequence
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSeekFast
	PhaseBackoff
	PhaseSeekSlow
	PhaseMoveToCenter
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSeekFast:
		return "seek-fast"
	case PhaseBackoff:
		return "backoff"
	case PhaseSeekSlow:
		return "seek-slow"
	case PhaseMoveToCenter:
		return "move-to-center"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the externally reported calibration state
type Status uint8

const (
	NotCalibrated Status = 0
	InProgress    Status = 1
	Calibrated    Status = 2
)

// Axis is the part of a stepper the sequencer drives
type Axis interface {
	StartMoveTo(target, endVelocity, maxVelocity, acceleration int32) error
	EmergencyStop()
	IsMoving() bool
	Position() int32
	SetCurrentPosition(pos int32) error
}

// Sequencer calibrates one joint. Step never blocks; call it once per
// supervisory pass with the debounced switch state.
type Sequencer struct {
	id    uint8
	axis  Axis
	joint config.JointConfig

	backoffDeg   float64
	rebackoffDeg float64
	slowDivisor  float64

	phase      Phase
	active     bool
	calibrated bool
	zeroRef    int32
	failure    error
}

// NewSequencer creates a sequencer for joint id
func NewSequencer(id uint8, axis Axis, joint config.JointConfig, machine *config.MachineConfig) *Sequencer {
	return &Sequencer{
		id:           id,
		axis:         axis,
		joint:        joint,
		backoffDeg:   machine.BackoffDegrees,
		rebackoffDeg: machine.RebackoffDegrees,
		slowDivisor:  machine.SlowSeekDivisor,
	}
}

// Start begins a new calibration. Any motion of the axis is halted and the
// joint counts as uncalibrated until the sequence completes.
func (q *Sequencer) Start() {
	q.axis.EmergencyStop()
	q.calibrated = false
	q.failure = nil
	q.active = true
	q.setPhase(PhaseIdle)
}

// Abort fails an in-progress calibration and halts the axis
func (q *Sequencer) Abort(reason error) {
	if !q.active {
		return
	}
	if reason == nil {
		reason = ErrAborted
	}
	q.fail(reason)
}

// Phase returns the current phase
func (q *Sequencer) Phase() Phase { return q.phase }

// InProgress reports whether a calibration is running
func (q *Sequencer) InProgress() bool { return q.active }

// Calibrated reports whether the last calibration completed
func (q *Sequencer) Calibrated() bool { return q.calibrated }

// Failure returns why the last calibration failed, or nil
func (q *Sequencer) Failure() error { return q.failure }

// ZeroReference returns the raw step count at which the slow pass tripped
func (q *Sequencer) ZeroReference() int32 { return q.zeroRef }

// Status maps the phase onto the reported status
func (q *Sequencer) Status() Status {
	switch {
	case q.active:
		return InProgress
	case q.calibrated:
		return Calibrated
	default:
		return NotCalibrated
	}
}

// towardSwitch returns +1 or -1, the direction of travel that reaches the switch
func (q *Sequencer) towardSwitch() int32 {
	if q.joint.HomesNegative() {
		return -1
	}
	return 1
}

func (q *Sequencer) degreesToSteps(deg float64) int32 {
	return int32(math.Round(deg * q.joint.StepsPerDegree))
}

func (q *Sequencer) move(dir int32, deg, speedDeg float64) bool {
	target := q.axis.Position() + dir*q.degreesToSteps(deg)
	v := q.joint.VelocitySteps(speedDeg)
	a := q.joint.VelocitySteps(speedDeg / 2)
	if err := q.axis.StartMoveTo(target, 0, v, a); err != nil {
		q.fail(errors.Wrap(ErrMoveFailed, err.Error()))
		return false
	}
	return true
}

func (q *Sequencer) setPhase(p Phase) {
	q.phase = p
	core.RecordEvent(core.EvtCalibPhase, q.id, int32(p), q.axis.Position())
}

func (q *Sequencer) fail(reason error) {
	q.axis.EmergencyStop()
	q.failure = reason
	q.active = false
	q.setPhase(PhaseFailed)
	core.Debugf("%s calibration failed: %v", q.joint.Name, reason)
}

// Step advances the sequence by at most one transition
func (q *Sequencer) Step(switchPressed bool) {
	if !q.active {
		return
	}
	toward := q.towardSwitch()
	speed := q.joint.CalibrationSpeed

	switch q.phase {
	case PhaseIdle:
		if switchPressed {
			if q.move(-toward, q.backoffDeg, speed) {
				q.setPhase(PhaseBackoff)
			}
			return
		}
		travel := math.Abs(q.joint.MinAngle) + math.Abs(q.joint.MaxAngle)
		if q.move(toward, travel, speed) {
			q.setPhase(PhaseSeekFast)
		}

	case PhaseSeekFast:
		if switchPressed {
			q.axis.EmergencyStop()
			if q.move(-toward, q.rebackoffDeg, speed) {
				q.setPhase(PhaseBackoff)
			}
			return
		}
		if !q.axis.IsMoving() {
			q.fail(ErrSwitchNotFound)
		}

	case PhaseBackoff:
		if q.axis.IsMoving() {
			return
		}
		if switchPressed {
			q.fail(ErrSwitchStuck)
			return
		}
		if q.move(toward, q.backoffDeg+q.rebackoffDeg, speed/q.slowDivisor) {
			q.setPhase(PhaseSeekSlow)
		}

	case PhaseSeekSlow:
		if switchPressed {
			q.axis.EmergencyStop()
			q.zeroRef = q.axis.Position()
			if err := q.axis.SetCurrentPosition(q.switchPosition()); err != nil {
				q.fail(errors.Wrap(ErrMoveFailed, err.Error()))
				return
			}
			v := q.joint.VelocitySteps(q.joint.MaxVelocity)
			a := q.joint.VelocitySteps(q.joint.MaxVelocity / 2)
			if err := q.axis.StartMoveTo(0, 0, v, a); err != nil {
				q.fail(errors.Wrap(ErrMoveFailed, err.Error()))
				return
			}
			q.setPhase(PhaseMoveToCenter)
			return
		}
		if !q.axis.IsMoving() {
			q.fail(ErrSwitchNotFound)
		}

	case PhaseMoveToCenter:
		if !q.axis.IsMoving() {
			q.calibrated = true
			q.active = false
			q.setPhase(PhaseDone)
			core.Debugf("%s calibrated, zero reference %d", q.joint.Name, q.zeroRef)
		}

	case PhaseDone, PhaseFailed:
		q.active = false
	}
}

// switchPosition is the joint coordinate of the switch trip point
func (q *Sequencer) switchPosition() int32 {
	if q.joint.HomesNegative() {
		return q.degreesToSteps(q.joint.MinAngle - q.joint.HomeOffset)
	}
	return q.degreesToSteps(q.joint.MaxAngle + q.joint.HomeOffset)
}
