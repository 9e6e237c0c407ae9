package stepgen

import "steparm/core"

// MoveMode selects how the tick callback advances the profile
type MoveMode uint8

const (
	ModeToPosition MoveMode = iota
	ModeContinuousRotation
	ModeStopping
)

func (m MoveMode) String() string {
	switch m {
	case ModeToPosition:
		return "to-position"
	case ModeContinuousRotation:
		return "rotate"
	case ModeStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Profile is the transient state of one move. Velocities are kept squared
// and signed (sign(v)*v^2) so each tick only adds or subtracts 2a.
type Profile struct {
	Mode   MoveMode
	Rotary bool // started by StartRotate

	TotalSteps     int32
	AccelEndStep   int32
	DecelStartStep int32
	StepsTraveled  int32

	VelocitySqr       int64
	TargetVelocitySqr int64
	FloorVelocitySqr  int64 // lowest speed a position move decelerates to
	TwoAccel          int64

	MinVelocity       int32 // timer is never programmed slower than this
	TargetVelocity    int32
	BaseVelocity      int32 // before speed override
	VelocityChangeDir int32
	DirMul            int32
}

func sign64(v int64) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func signedSqr(v int32) int64 {
	return int64(sign64(int64(v))) * int64(v) * int64(v)
}

// StartMoveTo starts a trapezoidal move to target. The move begins and ends
// at max(kick velocity, endVelocity).
func (s *Stepper) StartMoveTo(target, endVelocity, maxVelocity, acceleration int32) error {
	if maxVelocity <= 0 || acceleration <= 0 || endVelocity < 0 {
		return ErrInvalidParams
	}
	if s.leader.Load() != nil {
		return ErrFollower
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	if s.moving.Load() {
		return ErrBusy
	}

	pos := s.position.Load()
	delta := target - pos
	s.target.Store(target)
	if delta == 0 {
		if s.group != nil {
			s.group.release()
		}
		return nil
	}

	dir := int32(1)
	if delta < 0 {
		dir = -1
		delta = -delta
	}

	boundary := s.opts.KickVelocity
	if endVelocity > boundary {
		boundary = endVelocity
	}
	if boundary > maxVelocity {
		boundary = maxVelocity
	}
	b2 := int64(boundary) * int64(boundary)

	p := Profile{
		Mode:              ModeToPosition,
		TotalSteps:        delta,
		VelocitySqr:       b2,
		TargetVelocitySqr: int64(maxVelocity) * int64(maxVelocity),
		FloorVelocitySqr:  b2,
		TwoAccel:          2 * int64(acceleration),
		MinVelocity:       boundary,
		TargetVelocity:    maxVelocity,
		BaseVelocity:      maxVelocity,
		VelocityChangeDir: 1,
		DirMul:            dir,
	}

	accelDist := (p.TargetVelocitySqr-b2)/p.TwoAccel + 1
	half := int64(delta / 2)
	if accelDist >= half {
		p.AccelEndStep = int32(half)
		p.DecelStartStep = int32(half)
	} else {
		p.AccelEndStep = int32(accelDist)
		p.DecelStartStep = delta - int32(accelDist)
	}

	s.backend.SetDirection(dir < 0)
	s.prof = p
	if err := s.startTimer(b2); err != nil {
		s.target.Store(pos)
		if s.group != nil {
			s.group.release()
		}
		return err
	}
	core.RecordEvent(core.EvtMoveStart, s.id, target, maxVelocity)
	return nil
}

func (s *Stepper) positionTick() bool {
	p := &s.prof

	switch {
	case p.StepsTraveled < p.AccelEndStep:
		p.VelocitySqr += p.TwoAccel
		if p.VelocitySqr > p.TargetVelocitySqr {
			p.VelocitySqr = p.TargetVelocitySqr
		}
	case p.StepsTraveled < p.DecelStartStep:
		if p.VelocitySqr > p.TargetVelocitySqr {
			p.VelocitySqr = p.TargetVelocitySqr
		}
	case p.StepsTraveled < p.TotalSteps:
		p.VelocitySqr -= p.TwoAccel
		if p.VelocitySqr < p.FloorVelocitySqr {
			p.VelocitySqr = p.FloorVelocitySqr
		}
	default:
		s.finish()
		return false
	}

	s.setRate(p.VelocitySqr)
	s.doStep()
	return true
}

// StartRotate runs the stepper at a signed velocity until stopped. Calling
// it during a rotation retargets the velocity.
func (s *Stepper) StartRotate(velocity, acceleration int32) error {
	if acceleration <= 0 {
		return ErrInvalidParams
	}
	if s.leader.Load() != nil {
		return ErrFollower
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	moving := s.moving.Load()
	if moving && !s.prof.Rotary {
		return ErrBusy
	}
	if !moving && velocity == 0 {
		return nil
	}

	velocity = s.clampVelocity(velocity)
	p := &s.prof
	if !moving {
		kick2 := int64(s.opts.KickVelocity) * int64(s.opts.KickVelocity)
		target2 := signedSqr(velocity)
		if abs64(target2) < kick2 {
			kick2 = abs64(target2)
		}
		*p = Profile{
			Rotary:      true,
			VelocitySqr: int64(sign64(target2)) * kick2,
			DirMul:      sign64(target2),
		}
		s.backend.SetDirection(p.DirMul < 0)
	}
	p.Mode = ModeContinuousRotation
	p.TwoAccel = 2 * int64(acceleration)
	p.BaseVelocity = velocity
	s.retarget(velocity)

	if !moving {
		if err := s.startTimer(p.VelocitySqr); err != nil {
			s.prof = Profile{}
			return err
		}
		core.RecordEvent(core.EvtMoveStart, s.id, 0, velocity)
	}
	return nil
}

func (s *Stepper) retarget(velocity int32) {
	p := &s.prof
	if velocity != 0 {
		p.MinVelocity = s.opts.KickVelocity
		if a := abs32(velocity); a < p.MinVelocity {
			p.MinVelocity = a
		}
	}
	p.TargetVelocity = velocity
	p.TargetVelocitySqr = signedSqr(velocity)
	p.VelocityChangeDir = sign64(p.TargetVelocitySqr - p.VelocitySqr)
}

func (s *Stepper) clampVelocity(v int32) int32 {
	if limit := s.opts.MaxVelocity; limit > 0 {
		if v > limit {
			return limit
		}
		if v < -limit {
			return -limit
		}
	}
	return v
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Stepper) rotateTick() bool {
	p := &s.prof

	if abs64(p.VelocitySqr-p.TargetVelocitySqr) > p.TwoAccel {
		p.VelocitySqr += int64(p.VelocityChangeDir) * p.TwoAccel
	} else if p.TargetVelocity == 0 {
		s.finish()
		return false
	} else {
		p.VelocitySqr = p.TargetVelocitySqr
	}

	dir := sign64(p.VelocitySqr)
	if dir == 0 {
		// passing through standstill
		s.setRate(0)
		return false
	}
	if dir != p.DirMul {
		p.DirMul = dir
		s.backend.SetDirection(dir < 0)
	}
	s.setRate(p.VelocitySqr)
	s.doStep()
	return true
}

// StartStopping ends the current move with a controlled deceleration,
// effective from the next tick. A position move mirrors its own
// acceleration ramp; a rotation ramps to endVelocity at the given
// acceleration and stops there if it is zero.
func (s *Stepper) StartStopping(endVelocity, acceleration int32) error {
	if s.leader.Load() != nil {
		return ErrFollower
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	if !s.moving.Load() {
		return nil
	}
	p := &s.prof

	if p.Rotary {
		if acceleration > 0 {
			p.TwoAccel = 2 * int64(acceleration)
		}
		if endVelocity < 0 {
			endVelocity = -endVelocity
		}
		v := s.clampVelocity(p.DirMul * endVelocity)
		p.BaseVelocity = v
		s.retarget(v)
		p.Mode = ModeStopping
		core.RecordEvent(core.EvtStopRequested, s.id, p.StepsTraveled, v)
		return nil
	}

	if p.Mode == ModeStopping {
		return nil
	}
	switch {
	case p.StepsTraveled < p.AccelEndStep:
		p.AccelEndStep = 0
		p.DecelStartStep = 0
		p.TotalSteps = 2 * p.StepsTraveled
	case p.StepsTraveled < p.DecelStartStep:
		p.DecelStartStep = 0
		p.TotalSteps = p.StepsTraveled + p.AccelEndStep
	}
	p.Mode = ModeStopping
	s.target.Store(s.position.Load() + p.DirMul*(p.TotalSteps-p.StepsTraveled))
	core.RecordEvent(core.EvtStopRequested, s.id, p.StepsTraveled, p.TotalSteps)
	return nil
}

// OverrideSpeed scales the commanded rotation velocity. Only rotations
// accept overrides; it returns false otherwise.
func (s *Stepper) OverrideSpeed(factor float32) bool {
	s.guard.Lock()
	defer s.guard.Unlock()

	p := &s.prof
	if !s.moving.Load() || p.Mode != ModeContinuousRotation {
		return false
	}
	if !(factor >= 0) {
		factor = 0
	}
	if factor > MaxOverride {
		factor = MaxOverride
	}
	v := s.clampVelocity(int32(float32(p.BaseVelocity) * factor))
	s.retarget(v)
	core.RecordEvent(core.EvtOverride, s.id, v, int32(factor*100))
	return true
}
