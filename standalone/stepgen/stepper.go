package stepgen

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"steparm/core"
)

// Errors returned when a move cannot start
var (
	ErrBusy          = errors.New("stepper is moving")
	ErrInvalidParams = errors.New("invalid motion parameters")
	ErrFollower      = errors.New("stepper is following a synchronized move")
	ErrNoTimer       = errors.New("no step timer available")
)

// MaxOverride is the largest accepted speed override factor
const MaxOverride = 2.0

// Options holds per-stepper tuning
type Options struct {
	KickVelocity int32  // Starting velocity of every move (steps/s)
	MaxVelocity  int32  // Cap for rotation and overrides (steps/s), 0 = none
	PulseWidthUS uint32 // Step pulse width
}

// Stepper is a single axis: its position, its step backend and the
// profile of the move it is currently executing.
//
// The tick and pulse-end callbacks run in timer context. Everything they
// touch is either atomic or guarded by the stepper's guard.
type Stepper struct {
	id      uint8
	name    string
	backend core.StepperBackend
	timers  core.PulseTimerSource
	opts    Options

	guard core.Guard
	prof  Profile
	timer core.StepPulseTimer
	group *SyncGroup // set while this stepper leads a synchronized move

	position atomic.Int32
	target   atomic.Int32
	velocity atomic.Int32 // signed steps/s
	moving   atomic.Bool
	leader   atomic.Pointer[Stepper]
}

// NewStepper creates an idle stepper at position 0
func NewStepper(id uint8, name string, backend core.StepperBackend, timers core.PulseTimerSource, opts Options) *Stepper {
	if opts.KickVelocity <= 0 {
		opts.KickVelocity = 200
	}
	if opts.PulseWidthUS == 0 {
		opts.PulseWidthUS = 8
	}
	return &Stepper{
		id:      id,
		name:    name,
		backend: backend,
		timers:  timers,
		opts:    opts,
	}
}

// ID returns the axis index
func (s *Stepper) ID() uint8 { return s.id }

// Name returns the axis name
func (s *Stepper) Name() string { return s.name }

// Backend returns the step backend
func (s *Stepper) Backend() core.StepperBackend { return s.backend }

// Position returns the current position in steps
func (s *Stepper) Position() int32 { return s.position.Load() }

// Target returns the commanded target in steps
func (s *Stepper) Target() int32 { return s.target.Load() }

// DistanceToGo returns target minus position
func (s *Stepper) DistanceToGo() int32 {
	return s.target.Load() - s.position.Load()
}

// Velocity returns the current signed step rate
func (s *Stepper) Velocity() int32 { return s.velocity.Load() }

// IsMoving reports whether the stepper runs its own profile or follows a leader
func (s *Stepper) IsMoving() bool {
	return s.moving.Load() || s.leader.Load() != nil
}

// Leader returns the stepper whose move this one follows, or nil
func (s *Stepper) Leader() *Stepper { return s.leader.Load() }

// Snapshot returns a copy of the active profile
func (s *Stepper) Snapshot() Profile {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.prof
}

// SetCurrentPosition redefines the current position without moving
func (s *Stepper) SetCurrentPosition(pos int32) error {
	if s.IsMoving() {
		return ErrBusy
	}
	s.position.Store(pos)
	s.target.Store(pos)
	return nil
}

// SetTarget records a target for an idle stepper. Followers use it before
// joining a synchronized move.
func (s *Stepper) SetTarget(target int32) error {
	if s.IsMoving() {
		return ErrBusy
	}
	s.target.Store(target)
	return nil
}

func (s *Stepper) startTimer(v2 int64) error {
	timer, ok := s.timers.Acquire()
	if !ok {
		core.RecordEvent(core.EvtTimerFault, s.id, 0, 0)
		return ErrNoTimer
	}
	timer.AttachCallbacks(s.tick, s.pulseEnd)
	timer.SetPulseWidth(s.opts.PulseWidthUS)
	s.timer = timer
	s.setRate(v2)
	s.moving.Store(true)
	timer.Start()
	return nil
}

func (s *Stepper) releaseTimer() {
	if s.timer != nil {
		s.timers.Release(s.timer)
		s.timer = nil
	}
}

// setRate programs the timer from a signed squared velocity.
// The only square root of the tick happens here.
func (s *Stepper) setRate(v2 int64) {
	if v2 < 0 {
		v2 = -v2
	}
	hz := int32(core.ISqrt64(uint64(v2)))
	if hz < s.prof.MinVelocity {
		hz = s.prof.MinVelocity
	}
	if hz < 1 {
		hz = 1
	}
	if s.timer != nil {
		s.timer.SetFrequency(uint32(hz))
	}
	if s.prof.DirMul < 0 {
		hz = -hz
	}
	s.velocity.Store(hz)
}

func (s *Stepper) doStep() {
	s.backend.StepHigh()
	s.prof.StepsTraveled++
	s.position.Add(s.prof.DirMul)
	if s.group != nil {
		s.group.stepFollowers()
	}
}

// tick advances the profile by one step period. Returns true when a step
// pulse was started.
func (s *Stepper) tick() bool {
	s.guard.Lock()
	defer s.guard.Unlock()

	if !s.moving.Load() {
		return false
	}
	if s.prof.Rotary {
		return s.rotateTick()
	}
	return s.positionTick()
}

func (s *Stepper) pulseEnd() {
	s.guard.Lock()
	defer s.guard.Unlock()

	s.backend.StepLow()
	if s.group != nil {
		s.group.stepLow()
	}
}

// finish ends the move: the timer goes back to its source and followers are
// released before the stepper reports idle.
func (s *Stepper) finish() {
	s.releaseTimer()
	if s.group != nil {
		s.group.release()
	}
	s.prof.VelocitySqr = 0
	s.velocity.Store(0)
	s.target.Store(s.position.Load())
	s.moving.Store(false)
	core.RecordEvent(core.EvtMoveDone, s.id, s.position.Load(), s.prof.StepsTraveled)
}

// EmergencyStop halts the stepper within one tick. A follower halts its
// whole group.
func (s *Stepper) EmergencyStop() {
	if l := s.leader.Load(); l != nil {
		l.EmergencyStop()
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	s.releaseTimer()
	if s.group != nil {
		s.group.release()
	}
	s.backend.Stop()
	s.prof = Profile{}
	s.velocity.Store(0)
	s.target.Store(s.position.Load())
	if s.moving.Swap(false) {
		core.RecordEvent(core.EvtEmergencyStop, s.id, s.position.Load(), 0)
	}
}
