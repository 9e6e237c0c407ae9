package core

// StepperBackend defines the hardware abstraction for stepper control
// Implementations can use GPIO, PIO, or other methods
type StepperBackend interface {
	// Init initializes the stepper hardware
	// stepPin: GPIO pin for step pulses
	// dirPin: GPIO pin for direction signal
	// invertStep: invert step pin polarity
	// invertDir: invert direction pin polarity
	Init(stepPin, dirPin uint8, invertStep, invertDir bool) error

	// SetDirection sets the direction output and waits out the
	// driver's direction setup time before returning.
	// reverse: true = negative travel
	SetDirection(reverse bool)

	// StepHigh starts a step pulse. Called from the tick callback.
	StepHigh()

	// StepLow ends a step pulse. Called from the pulse-end callback.
	StepLow()

	// Stop immediately halts stepping and leaves the step line idle
	Stop()

	// GetName returns backend implementation name
	GetName() string
}

// StepperBackendInfo provides information about available backends
type StepperBackendInfo struct {
	Name          string
	MaxStepRate   uint32 // Maximum steps/second per axis
	MinPulseNs    uint32 // Minimum step pulse width (ns)
	TypicalJitter uint32 // Typical timing jitter (ns)
	CPUOverhead   uint8  // CPU overhead percentage (0-100)
}

// DefaultDirSettleUS is the delay between a direction change and the next step
const DefaultDirSettleUS = 5
