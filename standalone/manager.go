package standalone

import (
	"strconv"

	"github.com/pkg/errors"

	"steparm/core"
	"steparm/standalone/command"
	"steparm/standalone/config"
	"steparm/standalone/homing"
	"steparm/standalone/motion"
)

// MaxLineLength is the longest request line accepted from the host
const MaxLineLength = 256

// ErrLineTooLong answers a request line longer than MaxLineLength
var ErrLineTooLong = errors.New("line too long")

// Manager coordinates all standalone mode components
type Manager struct {
	config      *config.MachineConfig
	supervisor  *motion.Supervisor
	interpreter *command.Interpreter

	limits []*core.Endstop
	estop  *core.Endstop

	// Serial interface
	inputBuffer  []byte
	outputBuffer []byte
	overflow     bool // current line exceeded MaxLineLength

	lastStatus   []homing.Status
	estopLatched bool

	// Status
	initialized bool
	running     bool
}

// NewManager creates a new standalone mode manager
func NewManager(configData []byte) (*Manager, error) {
	// Load configuration
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *config.MachineConfig) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("nil machine config")
	}
	mgr := &Manager{
		config:       cfg,
		inputBuffer:  make([]byte, 0, MaxLineLength),
		outputBuffer: make([]byte, 0, 256),
	}

	return mgr, nil
}

func switchFlags(activeLow, pullUp bool) uint8 {
	var flags uint8
	if !activeLow {
		flags |= core.ESF_PIN_HIGH
	}
	if pullUp {
		flags |= core.ESF_PULL_UP
	}
	return flags
}

// Initialize sets up all components. backends holds one step generator
// per configured joint.
func (m *Manager) Initialize(gpioDriver core.GPIODriver, backends []core.StepperBackend, timers core.PulseTimerSource) error {
	if m.initialized {
		return errors.New("already initialized")
	}

	sup, err := motion.NewSupervisor(m.config, backends, timers)
	if err != nil {
		return errors.Wrap(err, "motion supervisor")
	}

	debounce := core.TimerFromUS(m.config.DebounceMS * 1000)
	m.limits = make([]*core.Endstop, len(m.config.Joints))
	for i, jc := range m.config.Joints {
		pin, err := config.ParsePin(jc.LimitPin)
		if err != nil {
			return err
		}
		m.limits[i], err = core.NewEndstop(gpioDriver, core.GPIOPin(pin), switchFlags(jc.LimitActiveLow, jc.LimitPullUp()), debounce)
		if err != nil {
			return errors.Wrapf(err, "%s limit switch", jc.Name)
		}
		sup.NotifyLimitSwitch(i, m.limits[i].Pressed())
	}
	if m.config.EstopPin != "" {
		pin, err := config.ParsePin(m.config.EstopPin)
		if err != nil {
			return err
		}
		m.estop, err = core.NewEndstop(gpioDriver, core.GPIOPin(pin), switchFlags(m.config.EstopActiveLow, m.config.EstopPull == config.PullUp), debounce)
		if err != nil {
			return errors.Wrap(err, "e-stop input")
		}
		if m.estop.Pressed() {
			m.estopLatched = true
			sup.NotifyEstop(true)
		}
	}

	m.supervisor = sup
	m.interpreter = command.NewInterpreter(sup, m.sendLine)
	m.lastStatus = sup.QueryCalibrationStatus()
	m.initialized = true
	return nil
}

// Supervisor returns the motion supervisor
func (m *Manager) Supervisor() *motion.Supervisor {
	return m.supervisor
}

// ProcessLine processes one command line
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}
	m.interpreter.ExecuteLine(line)
	return nil
}

// ProcessByte processes a single byte of input (for serial streaming).
// An overlong line is discarded whole and answered with an error.
func (m *Manager) ProcessByte(b byte) error {
	if b != '\n' && b != '\r' {
		if len(m.inputBuffer) < MaxLineLength {
			m.inputBuffer = append(m.inputBuffer, b)
		} else {
			m.overflow = true
		}
		return nil
	}

	line := string(m.inputBuffer)
	m.inputBuffer = m.inputBuffer[:0]
	if m.overflow {
		m.overflow = false
		m.sendLine("ERROR: " + ErrLineTooLong.Error())
		return nil
	}
	if len(line) == 0 {
		return nil
	}
	return m.ProcessLine(line)
}

// Poll samples the switches at time now, runs one supervisory pass and
// reports anything that finished since the last call.
func (m *Manager) Poll(now uint32) {
	if !m.initialized {
		return
	}

	if m.estop != nil && m.estop.Update(now) {
		active := m.estop.Pressed()
		m.supervisor.NotifyEstop(active)
		if active {
			m.interpreter.DropPending()
			m.sendLine("E-Stop activated")
		} else {
			m.sendLine("E-Stop released")
		}
		m.estopLatched = active
	}
	for i, es := range m.limits {
		if es.Update(now) {
			m.supervisor.NotifyLimitSwitch(i, es.Pressed())
		}
	}

	m.supervisor.Update()
	m.reportCalibration()
	m.interpreter.Poll()
}

func (m *Manager) reportCalibration() {
	status := m.supervisor.QueryCalibrationStatus()
	for i, s := range status {
		if m.lastStatus[i] == homing.InProgress && s != homing.InProgress {
			n := strconv.Itoa(i + 1)
			if s == homing.Calibrated {
				m.sendLine("Calibration complete for Joint " + n)
			} else {
				m.sendLine("Calibration failed for Joint " + n)
			}
		}
	}
	m.lastStatus = status
}

func (m *Manager) sendLine(line string) {
	m.SendResponse(line + "\n")
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, []byte(response)...)
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}

// Start begins standalone operation
func (m *Manager) Start() error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	m.running = true
	m.sendLine("steparm ready")
	return nil
}

// Stop decelerates every joint and halts operation
func (m *Manager) Stop() {
	m.running = false
	if m.supervisor != nil {
		_ = m.supervisor.RequestStop(motion.AllJoints)
	}
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}

// EstopActive reports whether the e-stop input is held
func (m *Manager) EstopActive() bool {
	return m.estopLatched
}

// EmergencyStop halts every joint immediately, as the e-stop input does
func (m *Manager) EmergencyStop() {
	if m.supervisor == nil {
		return
	}
	m.supervisor.NotifyEstop(true)
	m.interpreter.DropPending()
	m.estopLatched = true
}

// ReleaseEmergencyStop clears a software e-stop. It fails while the
// e-stop input is still held.
func (m *Manager) ReleaseEmergencyStop() error {
	if m.supervisor == nil {
		return errors.New("manager not initialized")
	}
	if m.estop != nil && m.estop.Pressed() {
		return motion.ErrEstopActive
	}
	m.supervisor.NotifyEstop(false)
	m.estopLatched = false
	return nil
}
