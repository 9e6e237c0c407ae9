package config

import "math"

// MaxJoints is the largest arm the controller drives
const MaxJoints = 8

// Homing directions
const (
	HomingNegative = "negative"
	HomingPositive = "positive"
)

// Switch input bias
const (
	PullUp   = "up"
	PullDown = "down"
)

// JointConfig represents configuration for a single joint
type JointConfig struct {
	Name             string  // Display name, e.g. "J1"
	StepPin          string  // GPIO pin for step pulses
	DirPin           string  // GPIO pin for direction
	LimitPin         string  // GPIO pin for the homing limit switch
	InvertDir        bool    // Invert direction signal
	InvertStep       bool    // Invert step signal
	LimitActiveLow   bool    // Switch reads low when pressed
	LimitPull        string  // Internal bias on the limit input, PullUp or PullDown
	StepsPerDegree   float64 // Steps per degree of joint rotation
	MinAngle         float64 // Soft limit (degrees)
	MaxAngle         float64 // Soft limit (degrees)
	MaxVelocity      float64 // Maximum velocity (deg/s)
	MaxAccel         float64 // Maximum acceleration (deg/s^2)
	CalibrationSpeed float64 // Fast homing velocity (deg/s)
	HomingDirection  string  // Side of travel the limit switch sits on
	HomeOffset       float64 // Extra degrees from switch-side limit to zero
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Joints []JointConfig

	EstopPin       string // GPIO pin for the emergency stop input
	EstopActiveLow bool   // E-stop input reads low when pressed
	EstopPull      string // Internal bias on the e-stop input, PullUp or PullDown

	// Step timing
	MinStepDelayUS uint32 // Fastest step interval in duration-based moves
	MaxStepDelayUS uint32 // Slowest step interval in duration-based moves
	PulseWidthUS   uint32 // Step pulse high time
	DirSettleUS    uint32 // Delay between direction change and step
	KickVelocity   int32  // Starting velocity of every move (steps/s)

	// Switch handling
	DebounceMS uint32 // Limit switch and e-stop debounce interval

	// Homing
	BackoffDegrees   float64 // Backoff when homing starts on the switch
	RebackoffDegrees float64 // Backoff after the fast trip
	SlowSeekDivisor  float64 // Slow pass runs at CalibrationSpeed / divisor
}

// StepsFromDegrees converts a joint angle to the nearest whole step
func (j *JointConfig) StepsFromDegrees(deg float64) int32 {
	return int32(math.Round(deg * j.StepsPerDegree))
}

// DegreesFromSteps converts a step count back to degrees
func (j *JointConfig) DegreesFromSteps(steps int32) float64 {
	return float64(steps) / j.StepsPerDegree
}

// VelocitySteps converts a rate in degrees to a rate in steps, at least 1
func (j *JointConfig) VelocitySteps(degPerSec float64) int32 {
	v := int32(math.Round(math.Abs(degPerSec) * j.StepsPerDegree))
	if v < 1 {
		v = 1
	}
	return v
}

// HomesNegative reports whether the limit switch is at the negative end
func (j *JointConfig) HomesNegative() bool {
	return j.HomingDirection == HomingNegative
}

// LimitPullUp reports whether the limit input uses the internal pull-up
func (j *JointConfig) LimitPullUp() bool {
	return j.LimitPull == PullUp
}

// InRange reports whether deg lies within the soft limits
func (j *JointConfig) InRange(deg float64) bool {
	return deg >= j.MinAngle && deg <= j.MaxAngle
}
