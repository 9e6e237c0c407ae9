package config

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LoadConfig parses a JSON configuration string and returns a MachineConfig
func LoadConfig(jsonData []byte) (*MachineConfig, error) {
	var config MachineConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, errors.Wrap(err, "parse machine config")
	}

	if err := config.Prepare(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Prepare fills in defaults and validates a programmatically built config
func (c *MachineConfig) Prepare() error {
	applyDefaults(c)
	return c.Validate()
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *MachineConfig) {
	if config.MinStepDelayUS == 0 {
		config.MinStepDelayUS = 50
	}
	if config.MaxStepDelayUS == 0 {
		config.MaxStepDelayUS = 10000
	}
	if config.PulseWidthUS == 0 {
		config.PulseWidthUS = 8
	}
	if config.DirSettleUS == 0 {
		config.DirSettleUS = 5
	}
	if config.KickVelocity == 0 {
		config.KickVelocity = 200
	}
	if config.DebounceMS == 0 {
		config.DebounceMS = 5
	}
	if config.BackoffDegrees == 0 {
		config.BackoffDegrees = 15
	}
	if config.RebackoffDegrees == 0 {
		config.RebackoffDegrees = 5
	}
	if config.SlowSeekDivisor == 0 {
		config.SlowSeekDivisor = 5
	}
	if config.EstopPull == "" {
		config.EstopPull = PullUp
	}

	// Apply defaults to each joint
	for i := range config.Joints {
		joint := &config.Joints[i]
		if joint.Name == "" {
			joint.Name = "J" + strconv.Itoa(i+1)
		}
		if joint.MaxVelocity == 0 {
			joint.MaxVelocity = 30.0
		}
		if joint.MaxAccel == 0 {
			joint.MaxAccel = joint.MaxVelocity
		}
		if joint.CalibrationSpeed == 0 {
			joint.CalibrationSpeed = joint.MaxVelocity / 3
		}
		if joint.HomingDirection == "" {
			joint.HomingDirection = HomingNegative
		}
		// normally closed to ground: pressing opens the switch and the
		// pull-up takes the input high
		if joint.LimitPull == "" {
			joint.LimitPull = PullUp
		}
	}
}

// Validate checks the configuration and reports every problem found
func (c *MachineConfig) Validate() error {
	var err error
	if len(c.Joints) == 0 || len(c.Joints) > MaxJoints {
		err = multierr.Append(err, errors.Errorf("need 1 to %d joints, got %d", MaxJoints, len(c.Joints)))
	}
	if c.MinStepDelayUS >= c.MaxStepDelayUS {
		err = multierr.Append(err, errors.Errorf("min step delay %dus must be below max %dus", c.MinStepDelayUS, c.MaxStepDelayUS))
	}
	if c.PulseWidthUS >= c.MinStepDelayUS {
		err = multierr.Append(err, errors.Errorf("pulse width %dus must be shorter than min step delay %dus", c.PulseWidthUS, c.MinStepDelayUS))
	}
	if c.KickVelocity < 0 {
		err = multierr.Append(err, errors.Errorf("kick velocity %d must not be negative", c.KickVelocity))
	}
	if c.SlowSeekDivisor < 1 {
		err = multierr.Append(err, errors.Errorf("slow seek divisor %.2f must be at least 1", c.SlowSeekDivisor))
	}
	if c.EstopPin != "" {
		if _, perr := ParsePin(c.EstopPin); perr != nil {
			err = multierr.Append(err, errors.Wrap(perr, "estop"))
		}
		err = multierr.Append(err, validPull("estop", c.EstopPull))
	}

	for i := range c.Joints {
		err = multierr.Append(err, c.Joints[i].validate())
	}
	return err
}

func (j *JointConfig) validate() error {
	var err error
	for _, pin := range []struct{ name, value string }{
		{"step", j.StepPin}, {"dir", j.DirPin}, {"limit", j.LimitPin},
	} {
		if _, perr := ParsePin(pin.value); perr != nil {
			err = multierr.Append(err, errors.Wrapf(perr, "%s %s pin", j.Name, pin.name))
		}
	}
	if j.StepsPerDegree <= 0 {
		err = multierr.Append(err, errors.Errorf("%s: steps per degree must be positive", j.Name))
	}
	if j.MinAngle >= j.MaxAngle {
		err = multierr.Append(err, errors.Errorf("%s: min angle %.2f must be below max %.2f", j.Name, j.MinAngle, j.MaxAngle))
	}
	if j.MaxVelocity <= 0 || j.MaxAccel <= 0 || j.CalibrationSpeed <= 0 {
		err = multierr.Append(err, errors.Errorf("%s: velocities and acceleration must be positive", j.Name))
	}
	if j.HomingDirection != HomingNegative && j.HomingDirection != HomingPositive {
		err = multierr.Append(err, errors.Errorf("%s: homing direction %q is not %q or %q", j.Name, j.HomingDirection, HomingNegative, HomingPositive))
	}
	return multierr.Append(err, validPull(j.Name+" limit", j.LimitPull))
}

func validPull(what, pull string) error {
	if pull != PullUp && pull != PullDown {
		return errors.Errorf("%s: pull %q is not %q or %q", what, pull, PullUp, PullDown)
	}
	return nil
}

// ParsePin converts a "gpioN" or "N" pin name to its number
func ParsePin(name string) (uint8, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "gpio")
	if s == "" {
		return 0, errors.Errorf("empty pin name %q", name)
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errors.Errorf("invalid pin name %q", name)
	}
	return uint8(n), nil
}

// DefaultArmConfig returns the configuration of the six-joint desktop arm
func DefaultArmConfig() *MachineConfig {
	config := &MachineConfig{
		Joints: []JointConfig{
			{
				Name: "J1", StepPin: "gpio28", DirPin: "gpio27", LimitPin: "gpio26",
				InvertDir: true, StepsPerDegree: 88.88,
				MinAngle: -170, MaxAngle: 115,
				MaxVelocity: 15, MaxAccel: 20, CalibrationSpeed: 5,
				HomingDirection: HomingPositive,
			},
			{
				Name: "J2", StepPin: "gpio21", DirPin: "gpio20", LimitPin: "gpio19",
				InvertDir: true, StepsPerDegree: 111.11,
				MinAngle: -20, MaxAngle: 108,
				MaxVelocity: 15, MaxAccel: 5, CalibrationSpeed: 4,
				HomingDirection: HomingNegative,
			},
			{
				Name: "J3", StepPin: "gpio18", DirPin: "gpio17", LimitPin: "gpio16",
				InvertDir: true, StepsPerDegree: 111.11,
				MinAngle: -102, MaxAngle: 38,
				MaxVelocity: 30, MaxAccel: 20, CalibrationSpeed: 4,
				HomingDirection: HomingPositive,
			},
			{
				Name: "J4", StepPin: "gpio15", DirPin: "gpio14", LimitPin: "gpio2",
				InvertDir: true, StepsPerDegree: 44.44,
				MinAngle: -209, MaxAngle: 145,
				MaxVelocity: 60, MaxAccel: 30, CalibrationSpeed: 20,
				HomingDirection: HomingNegative,
			},
			{
				Name: "J5", StepPin: "gpio13", DirPin: "gpio12", LimitPin: "gpio11",
				InvertDir: true, StepsPerDegree: 42.33,
				MinAngle: -100, MaxAngle: 106,
				MaxVelocity: 60, MaxAccel: 50, CalibrationSpeed: 10,
				HomingDirection: HomingNegative,
			},
			{
				Name: "J6", StepPin: "gpio10", DirPin: "gpio9", LimitPin: "gpio8",
				InvertDir: true, StepsPerDegree: 4.44,
				MinAngle: -173, MaxAngle: 157,
				MaxVelocity: 100, MaxAccel: 100, CalibrationSpeed: 10,
				HomingDirection: HomingNegative,
			},
		},
		EstopPin:       "gpio3",
		EstopActiveLow: true,
		EstopPull:      PullUp,
	}
	applyDefaults(config)
	return config
}
