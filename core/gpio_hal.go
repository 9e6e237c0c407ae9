package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the pin access the step backends and switch inputs need.
// Targets implement it over their hardware; tests use MockGPIODriver.
type GPIODriver interface {
	// ConfigureOutput makes pin a push-pull output
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp makes pin an input for an active-low switch
	ConfigureInputPullUp(pin GPIOPin) error

	// ConfigureInputPullDown makes pin an input for an active-high switch
	ConfigureInputPullDown(pin GPIOPin) error

	// SetPin drives an output high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the pin level
	GetPin(pin GPIOPin) (bool, error)

	// ReadPin is GetPin for callers that sample in a loop and cannot act on
	// an error; an unconfigured pin reads low.
	ReadPin(pin GPIOPin) bool
}
