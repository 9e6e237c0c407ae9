package command

import (
	"strings"
	"testing"

	"github.com/pkg/errors"

	"steparm/standalone/homing"
	"steparm/standalone/motion"
)

type call struct {
	name  string
	joint int
	vals  []float64
}

// fakeMachine records requests and replays canned answers
type fakeMachine struct {
	joints int
	calls  []call
	err    error
	master int
	moving map[int]bool
	pos    []int32
	status []homing.Status
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		joints: 6,
		master: 2,
		moving: map[int]bool{},
		pos:    []int32{0, 100, -5556, 0, 0, 7},
		status: []homing.Status{2, 2, 1, 0, 0, 0},
	}
}

func (m *fakeMachine) NumJoints() int { return m.joints }

func (m *fakeMachine) record(name string, joint int, vals ...float64) {
	m.calls = append(m.calls, call{name, joint, vals})
}

func (m *fakeMachine) move() (motion.Move, error) {
	if m.err != nil {
		return motion.Move{}, m.err
	}
	if m.master >= 0 {
		m.moving[m.master] = true
	}
	return motion.Move{Master: m.master}, nil
}

func (m *fakeMachine) RequestCoordinatedMove(targets []float64, dur, frac float64) (motion.Move, error) {
	m.record("moveall", motion.AllJoints, append(append([]float64{}, targets...), dur, frac)...)
	return m.move()
}

func (m *fakeMachine) RequestJointMove(j int, deg, dur, frac float64) (motion.Move, error) {
	m.record("move", j, deg, dur, frac)
	return m.move()
}

func (m *fakeMachine) RequestJointMoveBy(j int, deg, dur, frac float64) (motion.Move, error) {
	m.record("moveby", j, deg, dur, frac)
	return m.move()
}

func (m *fakeMachine) RequestStop(j int) error {
	m.record("stop", j)
	return m.err
}

func (m *fakeMachine) RequestCalibrate(joints []int) error {
	for _, j := range joints {
		m.record("cal", j)
	}
	return m.err
}

func (m *fakeMachine) RequestJog(j int, v float64) error {
	m.record("jog", j, v)
	return m.err
}

func (m *fakeMachine) RequestSpeedOverride(j int, f float64) error {
	m.record("override", j, f)
	return m.err
}

func (m *fakeMachine) QueryPosition() []int32                  { return m.pos }
func (m *fakeMachine) QueryCalibrationStatus() []homing.Status { return m.status }
func (m *fakeMachine) JointMoving(j int) bool                  { return m.moving[j] }

func newTestInterpreter() (*Interpreter, *fakeMachine, *[]string) {
	m := newFakeMachine()
	var out []string
	return NewInterpreter(m, func(line string) { out = append(out, line) }), m, &out
}

func TestInterpreterResponses(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"echo", "00 hello there", []string{"hello there"}},
		{"stop all", "01", []string{"All motors stopped."}},
		{"stop joint", "02 3", []string{"STOP_J 3"}},
		{"stop bad joint", "02 9", []string{"Invalid joint index: 9. Use a number between 1 and 6."}},
		{"positions", "05", []string{"CURRENT POSITIONS: [0, 100, -5556, 0, 0, 7]"}},
		{"calibration status", "06", []string{"CALIBRATION STATUS: [2,2,1,0,0,0]"}},
		{"add", "07 40,2", []string{"Sum: 42"}},
		{"add negative", "07 -5, 3", []string{"Sum: -2"}},
		{"add bad", "07 40", []string{"Invalid ADD format. Use: 07 <num1>,<num2>"}},
		{"unknown opcode", "7F", []string{"Unknown command: 7F"}},
		{"unknown hex", "zz", []string{"Unknown command: zz"}},
		{"unknown split rune", "€5", []string{"Unknown command: ?"}},
		{"blank", "", nil},
		{"calibrate", "04 1,2,3", []string{
			"Calibration started for Joint 1",
			"Calibration started for Joint 2",
			"Calibration started for Joint 3",
		}},
		{"calibrate with bad index", "04 0,4", []string{
			"Invalid joint index: 0. Use a number between 1 and 6.",
			"Calibration started for Joint 4",
		}},
		{"move joints format", "03 1,2,3", []string{
			"Invalid MOVE_JOINTS command format. Use: MOVE_JOINTS <j1>,<j2>,<j3>,<j4>,<j5>,<j6>,<duration_sec>,<accel_decel_percent>",
		}},
		{"move joint bad index", "08 7,10,1,0.2", []string{"Invalid joint index: 7. Use a number between 1 and 6."}},
		{"jog", "0A 6,20", []string{"JOG_J 6"}},
		{"override", "0B 6,1.5", []string{"OVERRIDE_J 6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, out := newTestInterpreter()
			in.ExecuteLine(tt.input)
			if strings.Join(*out, "\n") != strings.Join(tt.want, "\n") {
				t.Errorf("got %q, want %q", *out, tt.want)
			}
		})
	}
}

func TestMoveJointsCompletesWhenMasterStops(t *testing.T) {
	in, m, out := newTestInterpreter()
	in.ExecuteLine("03 0,10,-50,0,0,0,3,0.2")

	if len(m.calls) != 1 || m.calls[0].name != "moveall" {
		t.Fatalf("calls = %+v", m.calls)
	}
	want := []float64{0, 10, -50, 0, 0, 0, 3, 0.2}
	for i, v := range want {
		if m.calls[0].vals[i] != v {
			t.Errorf("arg %d = %v, want %v", i, m.calls[0].vals[i], v)
		}
	}
	if len(*out) != 0 {
		t.Fatalf("completion reported early: %q", *out)
	}

	in.Poll()
	if len(*out) != 0 || in.Pending() != 1 {
		t.Fatalf("completion reported while moving: %q", *out)
	}
	m.moving[2] = false
	in.Poll()
	if len(*out) != 1 || (*out)[0] != "MOVE_JOINTS COMPLETE" {
		t.Errorf("got %q", *out)
	}
	if in.Pending() != 0 {
		t.Errorf("pending = %d", in.Pending())
	}
}

func TestMoveJointNoMotionCompletesImmediately(t *testing.T) {
	in, m, out := newTestInterpreter()
	m.master = -1
	in.ExecuteLine("09 3,-5,1,0.5")
	if len(*out) != 1 || (*out)[0] != "MOVE_JOINT_BY 3 COMPLETE" {
		t.Errorf("got %q", *out)
	}
	if c := m.calls[0]; c.name != "moveby" || c.joint != 2 || c.vals[0] != -5 {
		t.Errorf("call = %+v", c)
	}
}

func TestRejections(t *testing.T) {
	in, m, out := newTestInterpreter()

	m.err = errors.Wrap(motion.ErrNotCalibrated, "J4")
	in.ExecuteLine("08 4,10,1,0.2")
	m.err = errors.Wrap(motion.ErrEstopActive, "halted")
	in.ExecuteLine("03 0,0,0,0,0,0,1,0.2")

	want := []string{
		"Joint 4 is not calibrated. Please calibrate before moving.",
		"ERROR: halted: emergency stop active",
	}
	if strings.Join(*out, "\n") != strings.Join(want, "\n") {
		t.Errorf("got %q, want %q", *out, want)
	}
	if in.Pending() != 0 {
		t.Errorf("rejected moves left %d pending completions", in.Pending())
	}
}

func TestDropPending(t *testing.T) {
	in, m, out := newTestInterpreter()
	in.ExecuteLine("08 3,10,1,0.2")
	in.DropPending()
	m.moving[2] = false
	in.Poll()
	if len(*out) != 0 {
		t.Errorf("dropped completion still reported: %q", *out)
	}
}
