package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"steparm/core"
	"steparm/standalone/homing"
	"steparm/standalone/motion"
)

// Machine is the motion surface the interpreter drives. Joint indices are
// zero based; the wire protocol numbers joints from one.
type Machine interface {
	NumJoints() int
	RequestCoordinatedMove(targetsDeg []float64, durationSec, accelFraction float64) (motion.Move, error)
	RequestJointMove(joint int, deg, durationSec, accelFraction float64) (motion.Move, error)
	RequestJointMoveBy(joint int, deltaDeg, durationSec, accelFraction float64) (motion.Move, error)
	RequestStop(joint int) error
	RequestCalibrate(joints []int) error
	RequestJog(joint int, degPerSec float64) error
	RequestSpeedOverride(joint int, factor float64) error
	QueryPosition() []int32
	QueryCalibrationStatus() []homing.Status
	JointMoving(joint int) bool
}

// pendingMove is a completion line waiting for its master joint to settle
type pendingMove struct {
	master int
	line   string
}

// Interpreter executes parsed commands against a Machine and writes the
// response lines through out.
type Interpreter struct {
	machine Machine
	out     func(line string)
	pending []pendingMove
}

// NewInterpreter creates an interpreter writing responses to out
func NewInterpreter(machine Machine, out func(line string)) *Interpreter {
	return &Interpreter{machine: machine, out: out}
}

// ExecuteLine parses and executes one request line
func (in *Interpreter) ExecuteLine(line string) {
	cmd, err := ParseLine(line)
	if err != nil {
		in.out("Unknown command: " + cmd.Hex)
		return
	}
	if cmd != nil {
		in.Execute(cmd)
	}
}

// Execute runs a parsed command
func (in *Interpreter) Execute(cmd *Command) {
	switch cmd.Op {
	case OpEcho:
		in.out(cmd.Args)
	case OpStopAll:
		in.stopAll()
	case OpStopJoint:
		in.stopJoint(cmd)
	case OpMoveJoints:
		in.moveJoints(cmd)
	case OpCalibrateJoints:
		in.calibrate(cmd)
	case OpPrintPosition:
		in.printPosition()
	case OpPrintCalibrationStatus:
		in.printCalibrationStatus()
	case OpAdd:
		in.add(cmd)
	case OpMoveJoint, OpMoveJointBy:
		in.moveJoint(cmd)
	case OpJogJoint:
		in.jog(cmd)
	case OpOverrideSpeed:
		in.override(cmd)
	default:
		in.out("Unknown command: " + cmd.Hex)
	}
}

// Poll emits the completion lines of moves whose master joint stopped
func (in *Interpreter) Poll() {
	kept := in.pending[:0]
	for _, p := range in.pending {
		if p.master >= 0 && in.machine.JointMoving(p.master) {
			kept = append(kept, p)
			continue
		}
		in.out(p.line)
	}
	in.pending = kept
}

// Pending returns the number of moves still running
func (in *Interpreter) Pending() int { return len(in.pending) }

// DropPending forgets every outstanding completion
func (in *Interpreter) DropPending() { in.pending = in.pending[:0] }

func (in *Interpreter) invalidJoint(n string) {
	in.out("Invalid joint index: " + n + ". Use a number between 1 and " +
		strconv.Itoa(in.machine.NumJoints()) + ".")
}

// joint parses a 1-based joint number into an index
func (in *Interpreter) joint(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > in.machine.NumJoints() {
		return 0, false
	}
	return n - 1, true
}

func (in *Interpreter) reject(joint int, err error) {
	if errors.Is(err, motion.ErrNotCalibrated) {
		in.out("Joint " + strconv.Itoa(joint+1) + " is not calibrated. Please calibrate before moving.")
		return
	}
	in.out("ERROR: " + err.Error())
}

func (in *Interpreter) stopAll() {
	if err := in.machine.RequestStop(motion.AllJoints); err != nil {
		in.reject(motion.AllJoints, err)
		return
	}
	in.out("All motors stopped.")
}

func (in *Interpreter) stopJoint(cmd *Command) {
	arg := strings.TrimSpace(cmd.Args)
	j, ok := in.joint(arg)
	if !ok {
		in.invalidJoint(arg)
		return
	}
	if err := in.machine.RequestStop(j); err != nil {
		in.reject(j, err)
		return
	}
	in.out("STOP_J " + strconv.Itoa(j+1))
}

func (in *Interpreter) moveJointsUsage() string {
	var b strings.Builder
	b.WriteString("Invalid MOVE_JOINTS command format. Use: MOVE_JOINTS ")
	for i := 1; i <= in.machine.NumJoints(); i++ {
		b.WriteString("<j" + strconv.Itoa(i) + ">,")
	}
	b.WriteString("<duration_sec>,<accel_decel_percent>")
	return b.String()
}

func (in *Interpreter) moveJoints(cmd *Command) {
	n := in.machine.NumJoints()
	parts := cmd.Fields()
	if len(parts) != n+2 {
		in.out(in.moveJointsUsage())
		return
	}
	vals, err := parseFloats(parts)
	if err != nil {
		in.out(in.moveJointsUsage())
		return
	}
	mv, err := in.machine.RequestCoordinatedMove(vals[:n], vals[n], vals[n+1])
	if err != nil {
		in.reject(motion.AllJoints, err)
		return
	}
	in.pending = append(in.pending, pendingMove{master: mv.Master, line: "MOVE_JOINTS COMPLETE"})
	in.Poll()
}

func (in *Interpreter) moveJoint(cmd *Command) {
	name := "MOVE_JOINT"
	if cmd.Op == OpMoveJointBy {
		name = "MOVE_JOINT_BY"
	}
	parts := cmd.Fields()
	if len(parts) != 4 {
		in.out("Invalid " + name + " command format. Use: " + cmd.Hex + " <joint>,<degrees>,<duration_sec>,<accel_decel_percent>")
		return
	}
	j, ok := in.joint(parts[0])
	if !ok {
		in.invalidJoint(parts[0])
		return
	}
	vals, err := parseFloats(parts[1:])
	if err != nil {
		in.out("ERROR: " + err.Error())
		return
	}

	var mv motion.Move
	if cmd.Op == OpMoveJointBy {
		mv, err = in.machine.RequestJointMoveBy(j, vals[0], vals[1], vals[2])
	} else {
		mv, err = in.machine.RequestJointMove(j, vals[0], vals[1], vals[2])
	}
	if err != nil {
		in.reject(j, err)
		return
	}
	in.pending = append(in.pending, pendingMove{master: mv.Master, line: name + " " + strconv.Itoa(j+1) + " COMPLETE"})
	in.Poll()
}

func (in *Interpreter) calibrate(cmd *Command) {
	var joints []int
	for _, p := range cmd.Fields() {
		if p == "" {
			continue
		}
		j, ok := in.joint(p)
		if !ok {
			in.invalidJoint(p)
			continue
		}
		joints = append(joints, j)
	}
	if len(joints) == 0 {
		return
	}
	if err := in.machine.RequestCalibrate(joints); err != nil {
		in.reject(motion.AllJoints, err)
		return
	}
	for _, j := range joints {
		in.out("Calibration started for Joint " + strconv.Itoa(j+1))
	}
}

func (in *Interpreter) printPosition() {
	pos := in.machine.QueryPosition()
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = strconv.Itoa(int(p))
	}
	in.out("CURRENT POSITIONS: [" + strings.Join(parts, ", ") + "]")
}

func (in *Interpreter) printCalibrationStatus() {
	status := in.machine.QueryCalibrationStatus()
	parts := make([]string, len(status))
	for i, s := range status {
		parts[i] = strconv.Itoa(int(s))
	}
	in.out("CALIBRATION STATUS: [" + strings.Join(parts, ",") + "]")
}

func (in *Interpreter) add(cmd *Command) {
	a, b, found := strings.Cut(cmd.Args, ",")
	x, errA := strconv.Atoi(strings.TrimSpace(a))
	y, errB := strconv.Atoi(strings.TrimSpace(b))
	if !found || errA != nil || errB != nil {
		in.out("Invalid ADD format. Use: 07 <num1>,<num2>")
		return
	}
	in.out("Sum: " + strconv.Itoa(x+y))
}

func (in *Interpreter) jog(cmd *Command) {
	parts := cmd.Fields()
	if len(parts) != 2 {
		in.out("Invalid JOG_JOINT command format. Use: 0A <joint>,<deg_per_sec>")
		return
	}
	j, ok := in.joint(parts[0])
	if !ok {
		in.invalidJoint(parts[0])
		return
	}
	v, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		in.out("ERROR: " + err.Error())
		return
	}
	if err := in.machine.RequestJog(j, v); err != nil {
		in.reject(j, err)
		return
	}
	in.out("JOG_J " + strconv.Itoa(j+1))
}

func (in *Interpreter) override(cmd *Command) {
	parts := cmd.Fields()
	if len(parts) != 2 {
		in.out("Invalid OVERRIDE_SPEED command format. Use: 0B <joint>,<factor>")
		return
	}
	j, ok := in.joint(parts[0])
	if !ok {
		in.invalidJoint(parts[0])
		return
	}
	f, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		in.out("ERROR: " + err.Error())
		return
	}
	if err := in.machine.RequestSpeedOverride(j, f); err != nil {
		in.reject(j, err)
		return
	}
	core.Debugf("override joint %d x%.2f", j+1, f)
	in.out("OVERRIDE_J " + strconv.Itoa(j+1))
}
