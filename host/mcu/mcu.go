// Package mcu talks to the arm controller over its line protocol.
package mcu

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"steparm/host/serial"
)

// Opcodes understood by the controller
const (
	CmdEcho                   = "00"
	CmdStopAll                = "01"
	CmdStopJoint              = "02"
	CmdMoveJoints             = "03"
	CmdCalibrateJoints        = "04"
	CmdPrintPosition          = "05"
	CmdPrintCalibrationStatus = "06"
	CmdAdd                    = "07"
	CmdMoveJoint              = "08"
	CmdMoveJointBy            = "09"
	CmdJogJoint               = "0A"
	CmdOverrideSpeed          = "0B"
)

var (
	ErrTimeout      = errors.New("timed out waiting for response")
	ErrClosed       = errors.New("connection closed")
	ErrRejected     = errors.New("controller rejected request")
	ErrBadResponse  = errors.New("malformed response")
	ErrNotConnected = errors.New("not connected")
)

// Default move parameters for requests that leave them out
const (
	DefaultDuration      = 2.0
	DefaultAccelFraction = 0.4
)

// MCU represents a connection to the arm controller
type MCU struct {
	port   io.ReadWriteCloser
	lines  chan string
	done   chan struct{}
	mu     sync.Mutex // serialises requests
	closed sync.Once

	// Debug receives controller debug lines ("# ...") and unsolicited output
	Debug func(line string)
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{}
}

// Connect connects to the controller via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.Attach(port)

	// Give the controller time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open port, such as a pipe in tests
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.lines = make(chan string, 64)
	m.done = make(chan struct{})
	go m.readLoop()
}

func (m *MCU) readLoop() {
	defer close(m.lines)
	sc := bufio.NewScanner(m.port)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			m.debug(line[2:])
			continue
		}
		select {
		case m.lines <- line:
		case <-m.done:
			return
		}
	}
}

func (m *MCU) debug(line string) {
	if m.Debug != nil {
		m.Debug(line)
	}
}

// Close closes the connection to the controller
func (m *MCU) Close() error {
	if m.port == nil {
		return nil
	}
	var err error
	m.closed.Do(func() {
		close(m.done)
		err = m.port.Close()
	})
	return err
}

// Send writes one request line
func (m *MCU) Send(op string, args ...string) error {
	if m.port == nil {
		return ErrNotConnected
	}
	line := op
	if len(args) > 0 {
		line += " " + strings.Join(args, ",")
	}
	_, err := io.WriteString(m.port, line+"\n")
	return errors.Wrapf(err, "send %s", op)
}

// Expect reads lines until match accepts one, a rejection arrives or the
// timeout passes. Lines that match neither go to Debug.
func (m *MCU) Expect(match func(line string) bool, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-m.lines:
			if !ok {
				return "", ErrClosed
			}
			if match(line) {
				return line, nil
			}
			if IsRejection(line) {
				return line, errors.Wrap(ErrRejected, line)
			}
			m.debug(line)
		case <-deadline.C:
			return "", ErrTimeout
		}
	}
}

// Request sends a command and waits for the line starting with prefix
func (m *MCU) Request(prefix string, timeout time.Duration, op string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Send(op, args...); err != nil {
		return "", err
	}
	return m.Expect(func(line string) bool { return strings.HasPrefix(line, prefix) }, timeout)
}

// IsRejection reports whether a line is an error response
func IsRejection(line string) bool {
	return strings.HasPrefix(line, "ERROR: ") ||
		strings.HasPrefix(line, "Invalid ") ||
		strings.HasPrefix(line, "Unknown command: ") ||
		strings.Contains(line, " is not calibrated.") ||
		strings.HasPrefix(line, "Calibration failed for Joint ") ||
		line == "E-Stop activated"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Positions queries every joint position in steps
func (m *MCU) Positions() ([]int32, error) {
	line, err := m.Request("CURRENT POSITIONS:", time.Second, CmdPrintPosition)
	if err != nil {
		return nil, err
	}
	return ParsePositions(line)
}

// CalibrationStatus queries every joint's status: 0 none, 1 running, 2 done
func (m *MCU) CalibrationStatus() ([]int, error) {
	line, err := m.Request("CALIBRATION STATUS:", time.Second, CmdPrintCalibrationStatus)
	if err != nil {
		return nil, err
	}
	return ParseCalibrationStatus(line)
}

// MoveJoint moves one joint (numbered from 1) to deg and waits for it
func (m *MCU) MoveJoint(joint int, deg, duration, accel float64, timeout time.Duration) error {
	n := strconv.Itoa(joint)
	_, err := m.Request("MOVE_JOINT "+n+" COMPLETE", timeout, CmdMoveJoint,
		n, formatFloat(deg), formatFloat(duration), formatFloat(accel))
	return err
}

// MoveJointBy moves one joint by delta degrees and waits for it
func (m *MCU) MoveJointBy(joint int, delta, duration, accel float64, timeout time.Duration) error {
	n := strconv.Itoa(joint)
	_, err := m.Request("MOVE_JOINT_BY "+n+" COMPLETE", timeout, CmdMoveJointBy,
		n, formatFloat(delta), formatFloat(duration), formatFloat(accel))
	return err
}

// MoveJoints moves every joint together and waits for the move to finish
func (m *MCU) MoveJoints(degrees []float64, duration, accel float64, timeout time.Duration) error {
	args := make([]string, 0, len(degrees)+2)
	for _, d := range degrees {
		args = append(args, formatFloat(d))
	}
	args = append(args, formatFloat(duration), formatFloat(accel))
	_, err := m.Request("MOVE_JOINTS COMPLETE", timeout, CmdMoveJoints, args...)
	return err
}

// Calibrate starts calibration of the given joints and waits until each
// one reports complete. The first failure ends the wait.
func (m *MCU) Calibrate(joints []int, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := make([]string, len(joints))
	waiting := make(map[string]bool, len(joints))
	for i, j := range joints {
		args[i] = strconv.Itoa(j)
		waiting["Calibration complete for Joint "+args[i]] = true
	}
	if err := m.Send(CmdCalibrateJoints, args...); err != nil {
		return err
	}

	start := time.Now()
	for len(waiting) > 0 {
		left := timeout - time.Since(start)
		if left <= 0 {
			return ErrTimeout
		}
		line, err := m.Expect(func(line string) bool {
			return waiting[line] || strings.HasPrefix(line, "Calibration started for Joint ")
		}, left)
		if err != nil {
			return err
		}
		delete(waiting, line)
	}
	return nil
}

// StopAll decelerates every joint
func (m *MCU) StopAll() error {
	_, err := m.Request("All motors stopped.", time.Second, CmdStopAll)
	return err
}

// StopJoint decelerates one joint
func (m *MCU) StopJoint(joint int) error {
	n := strconv.Itoa(joint)
	_, err := m.Request("STOP_J "+n, time.Second, CmdStopJoint, n)
	return err
}

// Jog starts continuous rotation; zero stops it
func (m *MCU) Jog(joint int, degPerSec float64) error {
	n := strconv.Itoa(joint)
	_, err := m.Request("JOG_J "+n, time.Second, CmdJogJoint, n, formatFloat(degPerSec))
	return err
}

// Override scales a jogging joint's velocity
func (m *MCU) Override(joint int, factor float64) error {
	n := strconv.Itoa(joint)
	_, err := m.Request("OVERRIDE_J "+n, time.Second, CmdOverrideSpeed, n, formatFloat(factor))
	return err
}

// Echo round-trips text through the controller
func (m *MCU) Echo(text string) (string, error) {
	return m.Request(text, time.Second, CmdEcho, text)
}

func bracketed(line, prefix string) ([]string, error) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return nil, errors.Wrapf(ErrBadResponse, "%q", line)
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return nil, errors.Wrapf(ErrBadResponse, "%q", line)
	}
	rest = strings.TrimSpace(rest[1 : len(rest)-1])
	if rest == "" {
		return nil, nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// ParsePositions decodes a "CURRENT POSITIONS: [a, b, ...]" line
func ParsePositions(line string) ([]int32, error) {
	parts, err := bracketed(line, "CURRENT POSITIONS:")
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(ErrBadResponse, "position %d: %q", i+1, p)
		}
		out[i] = int32(v)
	}
	return out, nil
}

// ParseCalibrationStatus decodes a "CALIBRATION STATUS: [0,1,2]" line
func ParseCalibrationStatus(line string) ([]int, error) {
	parts, err := bracketed(line, "CALIBRATION STATUS:")
	if err != nil {
		return nil, err
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 2 {
			return nil, errors.Wrapf(ErrBadResponse, "status %d: %q", i+1, p)
		}
		out[i] = v
	}
	return out, nil
}
