//go:build rp2040

package main

import (
	"machine"

	"github.com/pkg/errors"

	"steparm/core"
)

// numGPIO is the number of user GPIOs on the RP2040
const numGPIO = 30

// RPGPIODriver implements the GPIODriver interface for RP2040
type RPGPIODriver struct {
	// Track configured pins to prevent conflicts
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin >= numGPIO {
		return errors.Errorf("gpio%d does not exist", pin)
	}
	if _, exists := d.configuredPins[pin]; exists {
		return nil
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: mode})
	d.configuredPins[pin] = p
	return nil
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

// ConfigureInputPullUp configures a switch input with the internal pull-up
func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

// ConfigureInputPullDown configures a switch input with the internal pull-down
func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return errors.Errorf("gpio%d not configured", pin)
	}
	machinePin.Set(value)
	return nil
}

// GetPin reads the current pin state
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return false, errors.Errorf("gpio%d not configured", pin)
	}
	return machinePin.Get(), nil
}

// ReadPin is GetPin without the error
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	value, _ := d.GetPin(pin)
	return value
}
