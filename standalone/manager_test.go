package standalone

import (
	"strings"
	"testing"

	"steparm/core"
	"steparm/standalone/config"
)

type simBackend struct {
	reverse  bool
	physical int32
}

func (b *simBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error { return nil }
func (b *simBackend) SetDirection(reverse bool)                                   { b.reverse = reverse }
func (b *simBackend) StepLow()                                                    {}
func (b *simBackend) Stop()                                                       {}
func (b *simBackend) GetName() string                                             { return "sim" }

func (b *simBackend) StepHigh() {
	if b.reverse {
		b.physical--
	} else {
		b.physical++
	}
}

const (
	switchAt  = -200
	estopPin  = 9
	pollTicks = 5000
)

type bench struct {
	t     *testing.T
	mgr   *Manager
	gpio  *core.MockGPIODriver
	src   *core.ManualTimerSource
	backs []*simBackend
	now   uint32
	out   strings.Builder
}

func benchConfig() []byte {
	return []byte(`{
		"EstopPin": "gpio9",
		"EstopActiveLow": true,
		"RebackoffDegrees": 10,
		"Joints": [
			{"StepPin": "0", "DirPin": "1", "LimitPin": "2", "LimitActiveLow": true,
			 "StepsPerDegree": 10, "MinAngle": -60, "MaxAngle": 60,
			 "MaxVelocity": 100, "MaxAccel": 100, "CalibrationSpeed": 40},
			{"StepPin": "3", "DirPin": "4", "LimitPin": "5", "LimitActiveLow": true,
			 "StepsPerDegree": 10, "MinAngle": -60, "MaxAngle": 60,
			 "MaxVelocity": 100, "MaxAccel": 100, "CalibrationSpeed": 40}
		]
	}`)
}

func newBench(t *testing.T) *bench {
	t.Helper()
	mgr, err := NewManager(benchConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	b := &bench{t: t, mgr: mgr, gpio: core.NewMockGPIODriver(), src: core.NewManualTimerSource(2)}
	var backends []core.StepperBackend
	for i := 0; i < 2; i++ {
		sb := &simBackend{}
		b.backs = append(b.backs, sb)
		backends = append(backends, sb)
	}
	if err := mgr.Initialize(b.gpio, backends, b.src); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return b
}

func (b *bench) send(line string) {
	for _, c := range []byte(line + "\n") {
		if err := b.mgr.ProcessByte(c); err != nil {
			b.t.Fatalf("ProcessByte: %v", err)
		}
	}
	b.collect()
}

func (b *bench) collect() {
	b.out.Write(b.mgr.GetOutput())
}

// poll runs n passes of motion, switch simulation and manager polling
func (b *bench) poll(n int) {
	for i := 0; i < n; i++ {
		b.src.Advance(10)
		for j, sb := range b.backs {
			// active low
			b.gpio.Drive(core.GPIOPin(2+3*j), sb.physical > switchAt)
		}
		b.now += pollTicks
		b.mgr.Poll(b.now)
		b.collect()
	}
}

func (b *bench) takeOutput() string {
	s := b.out.String()
	b.out.Reset()
	return s
}

func TestManagerNotInitialized(t *testing.T) {
	mgr, err := NewManagerWithConfig(config.DefaultArmConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.ProcessLine("05"); err == nil {
		t.Error("expected error before Initialize")
	}
	if _, err := NewManager([]byte("{")); err == nil {
		t.Error("expected error for bad config")
	}
}

func TestManagerQueries(t *testing.T) {
	b := newBench(t)
	b.send("05")
	b.send("06")
	b.send("07 2,3")
	b.send("0x")

	want := "CURRENT POSITIONS: [0, 0]\n" +
		"CALIBRATION STATUS: [0,0]\n" +
		"Sum: 5\n" +
		"Unknown command: 0x\n"
	if got := b.takeOutput(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestManagerCalibrateAndMove(t *testing.T) {
	b := newBench(t)
	b.send("04 1,2")
	b.poll(1000)

	out := b.takeOutput()
	for _, want := range []string{
		"Calibration started for Joint 1\n",
		"Calibration started for Joint 2\n",
		"Calibration complete for Joint 1\n",
		"Calibration complete for Joint 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	b.send("03 10,-20,1,0.2")
	if out := b.takeOutput(); out != "" {
		t.Fatalf("completion reported before motion ran: %q", out)
	}
	b.poll(100)
	if out := b.takeOutput(); out != "MOVE_JOINTS COMPLETE\n" {
		t.Errorf("got %q", out)
	}

	b.send("05")
	if out := b.takeOutput(); out != "CURRENT POSITIONS: [100, -200]\n" {
		t.Errorf("got %q", out)
	}

	b.send("08 1,70,1,0.2")
	if out := b.takeOutput(); !strings.HasPrefix(out, "ERROR: ") {
		t.Errorf("out of range move: %q", out)
	}
}

func TestManagerMoveUncalibrated(t *testing.T) {
	b := newBench(t)
	b.send("08 2,10,1,0.2")
	want := "Joint 2 is not calibrated. Please calibrate before moving.\n"
	if got := b.takeOutput(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestManagerEstopInput(t *testing.T) {
	b := newBench(t)
	b.gpio.Drive(estopPin, false)
	b.poll(2)
	if got := b.takeOutput(); got != "E-Stop activated\n" {
		t.Errorf("got %q", got)
	}
	if !b.mgr.EstopActive() || !b.mgr.Supervisor().EstopActive() {
		t.Fatal("e-stop not latched")
	}
	if err := b.mgr.ReleaseEmergencyStop(); err == nil {
		t.Error("release succeeded while input held")
	}

	b.send("04 1")
	if got := b.takeOutput(); !strings.Contains(got, "emergency stop active") {
		t.Errorf("calibrate during e-stop: %q", got)
	}

	b.gpio.Drive(estopPin, true)
	b.poll(2)
	if got := b.takeOutput(); got != "E-Stop released\n" {
		t.Errorf("got %q", got)
	}
	if b.mgr.EstopActive() {
		t.Error("e-stop still latched")
	}
}

func TestManagerSoftwareEstop(t *testing.T) {
	b := newBench(t)
	b.send("04 1")
	b.poll(3)
	b.mgr.EmergencyStop()
	b.poll(1)
	if got := b.takeOutput(); !strings.Contains(got, "Calibration failed for Joint 1\n") {
		t.Errorf("got %q", got)
	}
	if err := b.mgr.ReleaseEmergencyStop(); err != nil {
		t.Fatal(err)
	}
	if b.mgr.Supervisor().EstopActive() {
		t.Error("supervisor still halted")
	}
}

func TestSwitchFlags(t *testing.T) {
	tests := []struct {
		activeLow, pullUp bool
		want              uint8
	}{
		{true, true, core.ESF_PULL_UP},
		{false, true, core.ESF_PULL_UP | core.ESF_PIN_HIGH},
		{false, false, core.ESF_PIN_HIGH},
		{true, false, 0},
	}
	for _, tt := range tests {
		if got := switchFlags(tt.activeLow, tt.pullUp); got != tt.want {
			t.Errorf("switchFlags(%v, %v) = %#x, want %#x", tt.activeLow, tt.pullUp, got, tt.want)
		}
	}
}

func TestManagerDiscardsOverlongLine(t *testing.T) {
	b := newBench(t)
	b.send("00 " + strings.Repeat("x", MaxLineLength))
	if got := b.takeOutput(); got != "ERROR: line too long\n" {
		t.Errorf("overlong line got %q", got)
	}

	// the next line is parsed from a clean buffer
	b.send("07 1,2")
	if got := b.takeOutput(); got != "Sum: 3\n" {
		t.Errorf("after overflow got %q", got)
	}

	// exactly MaxLineLength bytes still runs
	line := "00 " + strings.Repeat("y", MaxLineLength-3)
	b.send(line)
	if got := b.takeOutput(); got != strings.Repeat("y", MaxLineLength-3)+"\n" {
		t.Errorf("full-length line got %q", got)
	}
}
