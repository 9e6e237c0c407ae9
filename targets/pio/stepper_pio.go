//go:build rp2040

package pio

// PIO Stepper Backend using tinygo-org/pio package
// The state machine times the step pulse itself, so the profile tick only
// has to push one command word per step.

import (
	"machine"

	"github.com/pkg/errors"
	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"steparm/core"
)

// Command word format:
//
//	Bits 0-15:  extra pulses (0 = one pulse)
//	Bits 16-23: delay cycles after each pulse
//	Bit 24:     direction level
//
// buildStepperProgram creates the stepper PIO program using AssemblerV0.
// dirDelay holds the direction write before the step edge.
func buildStepperProgram(pulseDelay, dirDelay uint8) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),                   // 1: out x, 16 (pulse count)
		asm.Out(rp2pio.OutDestY, 8).Encode(),                    // 2: out y, 8 (delay cycles)
		asm.Out(rp2pio.OutDestPins, 1).Delay(dirDelay).Encode(), // 3: out pins, 1 [d] (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(pulseDelay).Encode(), // 4: set pins, 1 [n]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),                   // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
		// .wrap
	}
}

const (
	stepperPIOOrigin = 0 // Load at offset 0 for correct jump addresses
	pulseDelay       = 7 // cycles the step line is held high, plus one
	pioClockDiv      = 125
)

var (
	programOffset = [2]int16{-1, -1}

	errNoInvertedStep = errors.New("pio stepper: inverted step output not supported, use the SIO backend")
)

// PIOStepperBackend implements stepper control using TinyGo's pio package
type PIOStepperBackend struct {
	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	stepPin machine.Pin
	dirPin  machine.Pin
	dirBit  uint32
	invDir  bool
	pioNum  uint8
	smNum   uint8
	pending bool

	dirDelay uint8
}

// NewPIOStepperBackend creates a new PIO-based stepper backend
// pioNum: 0 for PIO0, 1 for PIO1
// smNum: 0-3 for state machine number
// dirSettleUS: direction setup time before every step edge
func NewPIOStepperBackend(pioNum, smNum uint8, dirSettleUS uint32) *PIOStepperBackend {
	var pioHW *rp2pio.PIO
	if pioNum == 0 {
		pioHW = rp2pio.PIO0
	} else {
		pioHW = rp2pio.PIO1
	}

	return &PIOStepperBackend{
		pio:    pioHW,
		sm:     pioHW.StateMachine(smNum),
		pioNum: pioNum,
		smNum:  smNum,

		dirDelay: dirSetupDelay(dirSettleUS),
	}
}

// Init loads the program once per PIO block and starts the state machine
func (b *PIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	if invertStep {
		return errNoInvertedStep
	}
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.invDir = invertDir

	// Claim the state machine before touching its registers
	b.sm.TryClaim()

	// every state machine of a block shares the first loaded program
	program := buildStepperProgram(pulseDelay, b.dirDelay)
	if programOffset[b.pioNum] < 0 {
		offset, err := b.pio.AddProgram(program, stepperPIOOrigin)
		if err != nil {
			return err
		}
		programOffset[b.pioNum] = int16(offset)
	}
	offset := uint8(programOffset[b.pioNum])

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	// shift right, explicit PULL, 32-bit threshold
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// 1MHz state machine clock: the high phase lasts pulseDelay+1 us
	cfg.SetClkDivIntFrac(pioClockDiv, 0)

	// Initialize state machine first, pin directions after
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetPinsConsecutive(b.dirPin, 1, invertDir)

	b.SetDirection(false)
	b.sm.SetEnabled(true)
	return nil
}

// SetDirection latches the level sent with the next step command. The
// state machine writes it before raising the step line.
func (b *PIOStepperBackend) SetDirection(reverse bool) {
	if reverse != b.invDir {
		b.dirBit = 1 << 24
	} else {
		b.dirBit = 0
	}
}

// StepHigh queues exactly one pulse
func (b *PIOStepperBackend) StepHigh() {
	if b.sm.IsTxFIFOFull() {
		// the previous pulse has not been taken; dropping keeps timer context short
		b.pending = true
		return
	}
	b.sm.TxPut(b.dirBit | 1<<16)
}

// StepLow is a no-op: the state machine ends its own pulse
func (b *PIOStepperBackend) StepLow() {}

// Overrun reports and clears whether a step could not be queued
func (b *PIOStepperBackend) Overrun() bool {
	p := b.pending
	b.pending = false
	return p
}

// Stop drops queued pulses and restarts the state machine
func (b *PIOStepperBackend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetEnabled(true)
}

// GetName returns the backend name
func (b *PIOStepperBackend) GetName() string {
	return "PIO"
}

// GetInfo returns backend performance information
func (b *PIOStepperBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   100000,
		MinPulseNs:    8000, // pulseDelay+1 cycles at 1MHz
		TypicalJitter: 10,
		CPUOverhead:   1,
	}
}
