//go:build rp2040

package pio

import (
	"device/arm"
	"device/rp"
	"machine"

	"steparm/core"
)

// SIOStepperBackend drives step and direction through the single-cycle IO
// block. The pulse is raised on the tick and dropped by the pulse timer.
type SIOStepperBackend struct {
	stepPin   machine.Pin
	dirPin    machine.Pin
	invertDir bool

	// Cached register masks
	stepSetMask   uint32
	stepClearMask uint32
	dirMask       uint32

	reverse  bool
	dirSet   bool
	settleUS uint32
}

// NewSIOStepperBackend creates a new SIO-based stepper backend
func NewSIOStepperBackend(dirSettleUS uint32) *SIOStepperBackend {
	return &SIOStepperBackend{settleUS: dirSettleUS}
}

// Init initializes the GPIO stepper backend
func (b *SIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.invertDir = invertDir

	b.stepPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	b.dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})

	b.stepSetMask = 1 << stepPin
	b.stepClearMask = 1 << stepPin
	b.dirMask = 1 << dirPin
	if invertStep {
		b.stepSetMask, b.stepClearMask = b.stepClearMask, b.stepSetMask
		b.stepPin.High()
	} else {
		b.stepPin.Low()
	}
	b.dirSet = false
	return nil
}

// StepHigh raises the step line
func (b *SIOStepperBackend) StepHigh() {
	rp.SIO.GPIO_OUT_SET.Set(b.stepSetMask)
}

// StepLow returns the step line to idle
func (b *SIOStepperBackend) StepLow() {
	rp.SIO.GPIO_OUT_CLR.Set(b.stepClearMask)
}

// SetDirection writes the direction output when it changes and waits out
// the driver's setup time.
func (b *SIOStepperBackend) SetDirection(reverse bool) {
	if b.dirSet && reverse == b.reverse {
		return
	}
	b.reverse = reverse
	b.dirSet = true
	if reverse != b.invertDir {
		rp.SIO.GPIO_OUT_SET.Set(b.dirMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(b.dirMask)
	}
	// 3 NOPs = ~24ns @ 125MHz, then the configured settle time
	arm.Asm("nop\nnop\nnop")
	core.DelayMicroseconds(b.settleUS)
}

// Stop leaves the step line idle
func (b *SIOStepperBackend) Stop() {
	b.StepLow()
}

// GetName returns the backend name
func (b *SIOStepperBackend) GetName() string {
	return "SIO"
}

// GetInfo returns backend performance information
func (b *SIOStepperBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          "SIO",
		MaxStepRate:   50000,
		MinPulseNs:    1000,
		TypicalJitter: 2000, // scheduler-timed
		CPUOverhead:   15,
	}
}
