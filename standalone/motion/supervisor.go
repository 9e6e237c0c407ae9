// Package motion owns every joint of the arm and turns external requests
// into profiles, synchronized groups and calibration runs.
package motion

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"steparm/core"
	"steparm/standalone/config"
	"steparm/standalone/homing"
	"steparm/standalone/planner"
	"steparm/standalone/stepgen"
)

// AllJoints selects every joint in RequestStop
const AllJoints = -1

// Joint bundles one axis with its configuration and calibration state
type Joint struct {
	Index   int
	Config  config.JointConfig
	Stepper *stepgen.Stepper
	Seq     *homing.Sequencer

	group        *stepgen.SyncGroup
	limitPressed bool
	jogging      bool
	fault        error
}

// Move describes a coordinated move that was started
type Move struct {
	Master  int // -1 when no joint had to move
	Targets []int32
	Plan    planner.Plan
}

// Supervisor is the single owner of all joints. Its methods are called
// from the control loop only; profiles run in timer context.
type Supervisor struct {
	machine *config.MachineConfig
	joints  []*Joint
	arena   []*stepgen.Stepper
	estop   bool
}

// NewSupervisor initialises one backend per configured joint and builds
// the steppers and sequencers around them.
func NewSupervisor(machine *config.MachineConfig, backends []core.StepperBackend, timers core.PulseTimerSource) (*Supervisor, error) {
	if len(backends) != len(machine.Joints) {
		return nil, errors.Errorf("have %d backends for %d joints", len(backends), len(machine.Joints))
	}

	s := &Supervisor{machine: machine}
	var err error
	for i, jc := range machine.Joints {
		b := backends[i]
		stepPin, serr := config.ParsePin(jc.StepPin)
		dirPin, derr := config.ParsePin(jc.DirPin)
		err = multierr.Append(err, multierr.Combine(serr, derr))
		if serr == nil && derr == nil {
			if ierr := b.Init(stepPin, dirPin, jc.InvertStep, jc.InvertDir); ierr != nil {
				err = multierr.Append(err, errors.Wrapf(ierr, "init %s", jc.Name))
			}
		}

		st := stepgen.NewStepper(uint8(i), jc.Name, b, timers, stepgen.Options{
			KickVelocity: machine.KickVelocity,
			MaxVelocity:  jc.VelocitySteps(jc.MaxVelocity),
			PulseWidthUS: machine.PulseWidthUS,
		})
		s.arena = append(s.arena, st)
		s.joints = append(s.joints, &Joint{
			Index:   i,
			Config:  jc,
			Stepper: st,
			Seq:     homing.NewSequencer(uint8(i), st, jc, machine),
		})
	}
	if err != nil {
		return nil, err
	}
	for _, j := range s.joints {
		j.group = stepgen.NewSyncGroup(s.arena)
	}
	return s, nil
}

// NumJoints returns the number of joints
func (s *Supervisor) NumJoints() int { return len(s.joints) }

// Joint returns joint i
func (s *Supervisor) Joint(i int) *Joint { return s.joints[i] }

// EstopActive reports whether the emergency stop is latched
func (s *Supervisor) EstopActive() bool { return s.estop }

func (s *Supervisor) joint(i int) (*Joint, error) {
	if i < 0 || i >= len(s.joints) {
		return nil, errors.Wrapf(ErrJointIndex, "joint %d", i+1)
	}
	return s.joints[i], nil
}

func (j *Joint) busy() bool {
	return j.Stepper.IsMoving() || j.Seq.InProgress()
}

// JointMoving reports whether joint i is in motion
func (s *Supervisor) JointMoving(i int) bool {
	return i >= 0 && i < len(s.joints) && s.joints[i].Stepper.IsMoving()
}

// AnyMoving reports whether any joint is in motion
func (s *Supervisor) AnyMoving() bool {
	for _, j := range s.joints {
		if j.Stepper.IsMoving() {
			return true
		}
	}
	return false
}

func validDuration(d float64) error {
	if !(d > 0) || math.IsInf(d, 1) {
		return errors.Wrapf(ErrInvalidDuration, "got %v", d)
	}
	return nil
}

// RequestCoordinatedMove moves every calibrated joint to its target angle
// so that all joints start and finish together. Uncalibrated joints hold
// their position. Either every joint is accepted or nothing moves; any
// calibrated joint still in motion rejects the request.
func (s *Supervisor) RequestCoordinatedMove(targetsDeg []float64, durationSec, accelFraction float64) (Move, error) {
	if s.estop {
		return Move{}, ErrEstopActive
	}
	if len(targetsDeg) != len(s.joints) {
		return Move{}, errors.Wrapf(ErrTargetCount, "got %d, want %d", len(targetsDeg), len(s.joints))
	}
	if err := validDuration(durationSec); err != nil {
		return Move{}, err
	}

	targets := make([]int32, len(s.joints))
	var err error
	for i, j := range s.joints {
		targets[i] = j.Stepper.Position()
		if !j.Seq.Calibrated() {
			continue
		}
		if j.busy() {
			err = multierr.Append(err, errors.Wrapf(ErrBusy, "%s", j.Config.Name))
		}
		deg := targetsDeg[i]
		if math.IsNaN(deg) || !j.Config.InRange(deg) {
			err = multierr.Append(err, errors.Wrapf(ErrSoftLimit, "%s target %.2f outside [%.2f, %.2f]",
				j.Config.Name, deg, j.Config.MinAngle, j.Config.MaxAngle))
			continue
		}
		targets[i] = j.Config.StepsFromDegrees(deg)
	}
	if err != nil {
		return Move{}, err
	}
	return s.startMove(targets, durationSec, accelFraction)
}

// RequestJointMove moves one calibrated joint to an absolute angle
func (s *Supervisor) RequestJointMove(joint int, deg, durationSec, accelFraction float64) (Move, error) {
	if s.estop {
		return Move{}, ErrEstopActive
	}
	j, err := s.joint(joint)
	if err != nil {
		return Move{}, err
	}
	if !j.Seq.Calibrated() {
		return Move{}, errors.Wrapf(ErrNotCalibrated, "%s", j.Config.Name)
	}
	if math.IsNaN(deg) || !j.Config.InRange(deg) {
		return Move{}, errors.Wrapf(ErrSoftLimit, "%s target %.2f outside [%.2f, %.2f]",
			j.Config.Name, deg, j.Config.MinAngle, j.Config.MaxAngle)
	}
	if err := validDuration(durationSec); err != nil {
		return Move{}, err
	}
	// a moving joint's position is not where it will stop
	if j.busy() {
		return Move{}, errors.Wrapf(ErrBusy, "%s", j.Config.Name)
	}

	targets := s.QueryPosition()
	targets[joint] = j.Config.StepsFromDegrees(deg)
	return s.startMove(targets, durationSec, accelFraction)
}

// RequestJointMoveBy moves one calibrated joint by a relative angle
func (s *Supervisor) RequestJointMoveBy(joint int, deltaDeg, durationSec, accelFraction float64) (Move, error) {
	j, err := s.joint(joint)
	if err != nil {
		return Move{}, err
	}
	current := j.Config.DegreesFromSteps(j.Stepper.Position())
	return s.RequestJointMove(joint, current+deltaDeg, durationSec, accelFraction)
}

// startMove plans the move by the joint with the largest distance and
// slaves every other moving joint to it.
func (s *Supervisor) startMove(targets []int32, durationSec, accelFraction float64) (Move, error) {
	deltas := make([]int32, len(targets))
	var err error
	for i, j := range s.joints {
		deltas[i] = targets[i] - j.Stepper.Position()
		if deltas[i] != 0 && j.busy() {
			err = multierr.Append(err, errors.Wrapf(ErrBusy, "%s", j.Config.Name))
		}
	}
	if err != nil {
		return Move{}, err
	}

	master := planner.SelectMaster(deltas)
	if master < 0 {
		return Move{Master: -1, Targets: targets}, nil
	}
	plan, err := planner.NewPlan(deltas[master], durationSec, accelFraction,
		s.machine.MinStepDelayUS, s.machine.MaxStepDelayUS)
	if err != nil {
		return Move{}, err
	}

	var followers []int
	for i, d := range deltas {
		if d != 0 && i != master {
			followers = append(followers, i)
		}
	}
	movers := append([]int{master}, followers...)
	for _, i := range movers {
		if err := s.joints[i].Stepper.SetTarget(targets[i]); err != nil {
			s.resetTargets(movers)
			return Move{}, errors.Wrapf(ErrBusy, "%s", s.joints[i].Config.Name)
		}
	}

	m := s.joints[master]
	if err := m.group.Synchronize(master, followers); err != nil {
		s.resetTargets(movers)
		return Move{}, err
	}
	if err := m.Stepper.StartMoveTo(targets[master], plan.StartVelocity, plan.CruiseVelocity, plan.Acceleration); err != nil {
		// unlinks the followers again
		m.Stepper.EmergencyStop()
		s.resetTargets(movers)
		return Move{}, err
	}

	core.Debugf("move: master %s %d steps, %d followers, cruise %d steps/s, %.0fms planned",
		m.Config.Name, plan.MasterSteps, len(followers), plan.CruiseVelocity,
		plan.ExpectedDurationUS()/1000)
	return Move{Master: master, Targets: targets, Plan: plan}, nil
}

func (s *Supervisor) resetTargets(idx []int) {
	for _, i := range idx {
		st := s.joints[i].Stepper
		_ = st.SetTarget(st.Position())
	}
}

// RequestStop decelerates one joint, or every joint with AllJoints.
// A joint that follows a coordinated move stops the whole move. Stopping
// a calibrating joint fails its calibration.
func (s *Supervisor) RequestStop(joint int) error {
	if joint == AllJoints {
		for _, j := range s.joints {
			s.stopJoint(j)
		}
		return nil
	}
	j, err := s.joint(joint)
	if err != nil {
		return err
	}
	s.stopJoint(j)
	return nil
}

func (s *Supervisor) stopJoint(j *Joint) {
	if j.Seq.InProgress() {
		j.Seq.Abort(homing.ErrAborted)
		return
	}
	st := j.Stepper
	idx := j.Index
	if l := st.Leader(); l != nil {
		st = l
		idx = int(l.ID())
	}
	accel := s.joints[idx].Config.VelocitySteps(s.joints[idx].Config.MaxAccel)
	_ = st.StartStopping(0, accel)
}

// RequestCalibrate starts calibration of the given joints. Every index is
// checked before any joint starts.
func (s *Supervisor) RequestCalibrate(joints []int) error {
	if s.estop {
		return ErrEstopActive
	}
	var err error
	for _, i := range joints {
		j, jerr := s.joint(i)
		if jerr != nil {
			err = multierr.Append(err, jerr)
			continue
		}
		if j.Stepper.IsMoving() && !j.Seq.InProgress() {
			err = multierr.Append(err, errors.Wrapf(ErrBusy, "%s", j.Config.Name))
		}
	}
	if err != nil {
		return err
	}
	for _, i := range joints {
		j := s.joints[i]
		j.jogging = false
		j.fault = nil
		j.Seq.Start()
		core.Debugf("calibration started for %s", j.Config.Name)
	}
	return nil
}

// RequestJog rotates a joint continuously at degPerSec. Zero stops the jog.
func (s *Supervisor) RequestJog(joint int, degPerSec float64) error {
	if s.estop {
		return ErrEstopActive
	}
	j, err := s.joint(joint)
	if err != nil {
		return err
	}
	if j.Seq.InProgress() || j.Stepper.Leader() != nil || (j.Stepper.IsMoving() && !j.jogging) {
		return errors.Wrapf(ErrBusy, "%s", j.Config.Name)
	}
	if math.IsNaN(degPerSec) {
		return errors.Wrapf(ErrSoftLimit, "%s jog velocity", j.Config.Name)
	}

	v := int32(0)
	if degPerSec != 0 {
		v = j.Config.VelocitySteps(degPerSec)
		if degPerSec < 0 {
			v = -v
		}
	}
	if v != 0 && j.Seq.Calibrated() && j.outward(v) {
		return errors.Wrapf(ErrSoftLimit, "%s already at its limit", j.Config.Name)
	}
	// the interlock only sees the switch closing, so never start into a held one
	if v != 0 && j.limitPressed && j.towardSwitch(v) {
		return errors.Wrapf(ErrLimitTripped, "%s limit switch is held", j.Config.Name)
	}

	accel := j.Config.VelocitySteps(j.Config.MaxAccel)
	if err := j.Stepper.StartRotate(v, accel); err != nil {
		return err
	}
	j.jogging = j.Stepper.IsMoving()
	return nil
}

// outward reports whether moving at velocity v leaves the soft limits
func (j *Joint) outward(v int32) bool {
	pos := j.Stepper.Position()
	return (v > 0 && pos >= j.Config.StepsFromDegrees(j.Config.MaxAngle)) ||
		(v < 0 && pos <= j.Config.StepsFromDegrees(j.Config.MinAngle))
}

// towardSwitch reports whether velocity v runs toward the limit switch
func (j *Joint) towardSwitch(v int32) bool {
	return (v < 0) == j.Config.HomesNegative()
}

// RequestSpeedOverride scales the velocity of a jogging joint
func (s *Supervisor) RequestSpeedOverride(joint int, factor float64) error {
	j, err := s.joint(joint)
	if err != nil {
		return err
	}
	if !j.Stepper.OverrideSpeed(float32(factor)) {
		return errors.Wrapf(ErrNotRotating, "%s", j.Config.Name)
	}
	return nil
}

// QueryPosition returns every joint position in steps
func (s *Supervisor) QueryPosition() []int32 {
	out := make([]int32, len(s.joints))
	for i, j := range s.joints {
		out[i] = j.Stepper.Position()
	}
	return out
}

// QueryPositionDegrees returns every joint position in degrees
func (s *Supervisor) QueryPositionDegrees() []float64 {
	out := make([]float64, len(s.joints))
	for i, j := range s.joints {
		out[i] = j.Config.DegreesFromSteps(j.Stepper.Position())
	}
	return out
}

// QueryCalibrationStatus returns every joint's calibration status
func (s *Supervisor) QueryCalibrationStatus() []homing.Status {
	out := make([]homing.Status, len(s.joints))
	for i, j := range s.joints {
		out[i] = j.Seq.Status()
	}
	return out
}

// LastFault returns the last safety fault recorded for a joint
func (s *Supervisor) LastFault(joint int) error {
	j, err := s.joint(joint)
	if err != nil {
		return err
	}
	return j.fault
}

// NotifyEstop latches or releases the emergency stop. Activation halts
// every profile within one tick and fails running calibrations. Release
// never resumes motion.
func (s *Supervisor) NotifyEstop(active bool) {
	if !active {
		if s.estop {
			core.Debugf("e-stop released")
		}
		s.estop = false
		return
	}
	if !s.estop {
		core.Debugf("e-stop activated")
	}
	s.estop = true
	s.haltAll()
}

func (s *Supervisor) haltAll() {
	for _, j := range s.joints {
		j.Stepper.EmergencyStop()
		j.jogging = false
		if j.Seq.InProgress() {
			j.Seq.Abort(ErrEstopActive)
		}
	}
}

// NotifyLimitSwitch records a debounced switch change. A switch closing
// while its joint moves outside calibration halts that joint's move.
func (s *Supervisor) NotifyLimitSwitch(joint int, pressed bool) {
	j, err := s.joint(joint)
	if err != nil {
		return
	}
	rising := pressed && !j.limitPressed
	j.limitPressed = pressed
	if !rising || j.Seq.InProgress() || !j.Stepper.IsMoving() {
		return
	}
	j.Stepper.EmergencyStop()
	j.jogging = false
	j.fault = errors.Wrapf(ErrLimitTripped, "%s at %d steps", j.Config.Name, j.Stepper.Position())
	core.RecordEvent(core.EvtLimitTrip, uint8(joint), j.Stepper.Position(), 0)
}

// LimitPressed returns the last reported switch state
func (s *Supervisor) LimitPressed(joint int) bool {
	return joint >= 0 && joint < len(s.joints) && s.joints[joint].limitPressed
}

// Update runs one supervisory pass: calibration steps and jog limits
func (s *Supervisor) Update() {
	if s.estop {
		s.haltAll()
		return
	}
	for _, j := range s.joints {
		if j.Seq.InProgress() {
			j.Seq.Step(j.limitPressed)
			continue
		}
		if !j.jogging {
			continue
		}
		if !j.Stepper.IsMoving() {
			j.jogging = false
			continue
		}
		if j.Seq.Calibrated() && j.outward(j.Stepper.Velocity()) {
			_ = j.Stepper.StartStopping(0, j.Config.VelocitySteps(j.Config.MaxAccel))
		}
	}
}
