package core

import "github.com/pkg/errors"

// GPIOStepperBackend drives step/dir lines through the registered GPIODriver
type GPIOStepperBackend struct {
	gpio       GPIODriver
	stepPin    GPIOPin
	dirPin     GPIOPin
	invertStep bool
	invertDir  bool
	settleUS   uint32
	reverse    bool
	dirKnown   bool
}

// NewGPIOStepperBackend creates a backend on the given driver
func NewGPIOStepperBackend(gpio GPIODriver) *GPIOStepperBackend {
	return &GPIOStepperBackend{gpio: gpio, settleUS: DefaultDirSettleUS}
}

// SetDirSettle changes the direction setup delay
func (b *GPIOStepperBackend) SetDirSettle(us uint32) {
	b.settleUS = us
}

// Init configures both pins as outputs at their idle level
func (b *GPIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	if b.gpio == nil {
		return errors.New("gpio stepper: no GPIO driver")
	}
	b.stepPin = GPIOPin(stepPin)
	b.dirPin = GPIOPin(dirPin)
	b.invertStep = invertStep
	b.invertDir = invertDir

	if err := b.gpio.ConfigureOutput(b.stepPin); err != nil {
		return errors.Wrapf(err, "step pin %d", stepPin)
	}
	if err := b.gpio.ConfigureOutput(b.dirPin); err != nil {
		return errors.Wrapf(err, "dir pin %d", dirPin)
	}
	_ = b.gpio.SetPin(b.stepPin, b.invertStep)
	_ = b.gpio.SetPin(b.dirPin, b.invertDir)
	b.dirKnown = false
	return nil
}

// SetDirection writes the dir line and busy-waits the settle time if it changed
func (b *GPIOStepperBackend) SetDirection(reverse bool) {
	if b.dirKnown && reverse == b.reverse {
		return
	}
	b.reverse = reverse
	b.dirKnown = true
	_ = b.gpio.SetPin(b.dirPin, reverse != b.invertDir)
	DelayMicroseconds(b.settleUS)
}

// StepHigh raises the step line
func (b *GPIOStepperBackend) StepHigh() {
	_ = b.gpio.SetPin(b.stepPin, !b.invertStep)
}

// StepLow returns the step line to idle
func (b *GPIOStepperBackend) StepLow() {
	_ = b.gpio.SetPin(b.stepPin, b.invertStep)
}

// Stop leaves the step line idle
func (b *GPIOStepperBackend) Stop() {
	b.StepLow()
}

// GetName returns the backend name
func (b *GPIOStepperBackend) GetName() string {
	return "GPIO"
}

// GetInfo describes the backend's limits
func (b *GPIOStepperBackend) GetInfo() StepperBackendInfo {
	return StepperBackendInfo{
		Name:          "GPIO",
		MaxStepRate:   20000,
		MinPulseNs:    8000,
		TypicalJitter: 2000,
		CPUOverhead:   10,
	}
}
