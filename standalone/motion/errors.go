package motion

import (
	"github.com/pkg/errors"

	"steparm/standalone/planner"
	"steparm/standalone/stepgen"
)

// Rejection reasons. Every rejected request leaves the machine untouched.
var (
	ErrJointIndex      = errors.New("joint index out of range")
	ErrTargetCount     = errors.New("wrong number of joint targets")
	ErrNotCalibrated   = errors.New("joint not calibrated")
	ErrSoftLimit       = errors.New("target outside soft limits")
	ErrInvalidDuration = planner.ErrInvalidDuration
	ErrEstopActive     = errors.New("emergency stop active")
	ErrBusy            = errors.New("joint busy")
	ErrNoTimer         = stepgen.ErrNoTimer
	ErrNotRotating     = errors.New("joint is not jogging")
	ErrLimitTripped    = errors.New("limit switch tripped during motion")
)
