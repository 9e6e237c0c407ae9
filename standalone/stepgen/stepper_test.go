package stepgen

import (
	"testing"

	"github.com/pkg/errors"

	"steparm/core"
)

func TestTrapezoidBoundaries(t *testing.T) {
	tests := []struct {
		name        string
		target      int32
		maxV, accel int32
		accelEnd    int32
		decelStart  int32
	}{
		// (2000^2 - 200^2) / 20000 + 1 = 199
		{"trapezoid", 10000, 2000, 10000, 199, 9801},
		{"triangle even", 100, 2000, 10000, 50, 50},
		{"triangle odd", 101, 2000, 10000, 50, 50},
		{"single step", 1, 2000, 10000, 0, 0},
		{"cruise at kick", 400, 200, 1000, 1, 399},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := core.NewManualTimerSource(1)
			s, _ := newTestStepper(0, src)
			if err := s.StartMoveTo(tt.target, 0, tt.maxV, tt.accel); err != nil {
				t.Fatalf("StartMoveTo: %v", err)
			}
			p := s.Snapshot()
			if p.AccelEndStep != tt.accelEnd || p.DecelStartStep != tt.decelStart {
				t.Errorf("Expected accel end %d / decel start %d, got %d / %d",
					tt.accelEnd, tt.decelStart, p.AccelEndStep, p.DecelStartStep)
			}
			accelTicks := p.AccelEndStep
			decelTicks := p.TotalSteps - p.DecelStartStep
			if d := decelTicks - accelTicks; d < 0 || d > 1 {
				t.Errorf("Accel %d and decel %d ticks differ by more than one", accelTicks, decelTicks)
			}
		})
	}
}

func TestMoveReachesTarget(t *testing.T) {
	tests := []struct {
		name   string
		target int32
	}{
		{"forward", 10000},
		{"reverse", -5556},
		{"short", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := core.NewManualTimerSource(1)
			s, b := newTestStepper(0, src)
			if err := s.StartMoveTo(tt.target, 0, 3000, 20000); err != nil {
				t.Fatalf("StartMoveTo: %v", err)
			}
			if !s.IsMoving() {
				t.Fatal("Expected stepper to be moving")
			}

			ticks := runUntilIdle(src, 100000)
			steps := tt.target
			if steps < 0 {
				steps = -steps
			}
			if s.Position() != tt.target {
				t.Errorf("Expected position %d, got %d", tt.target, s.Position())
			}
			if b.steps != int(steps) {
				t.Errorf("Expected %d pulses, got %d", steps, b.steps)
			}
			if ticks != int(steps)+1 {
				t.Errorf("Expected %d ticks (steps plus terminal), got %d", steps+1, ticks)
			}
			if b.reverse != (tt.target < 0) {
				t.Errorf("Direction line wrong: reverse=%v", b.reverse)
			}
			if s.IsMoving() || s.Velocity() != 0 || s.DistanceToGo() != 0 {
				t.Errorf("Expected idle at rest: moving=%v v=%d togo=%d", s.IsMoving(), s.Velocity(), s.DistanceToGo())
			}
			if src.InUse() != 0 {
				t.Error("Timer not released at end of move")
			}
			if b.high {
				t.Error("Step line left high")
			}
		})
	}
}

func TestVelocityStaysWithinBounds(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)
	if err := s.StartMoveTo(3000, 0, 1500, 8000); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}

	peak := int32(0)
	for src.Advance(1) == 1 {
		v := s.Velocity()
		if v > peak {
			peak = v
		}
		if s.IsMoving() && v < 200 {
			t.Fatalf("Velocity %d dropped below kick while moving", v)
		}
	}
	if peak != 1500 {
		t.Errorf("Expected cruise at 1500 steps/s, peak was %d", peak)
	}
}

func TestStopWhileAccelerating(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, b := newTestStepper(0, src)
	if err := s.StartMoveTo(10000, 0, 2000, 10000); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}

	const k = 100
	src.Advance(k)
	if err := s.StartStopping(0, 0); err != nil {
		t.Fatalf("StartStopping: %v", err)
	}
	if s.Snapshot().Mode != ModeStopping {
		t.Error("Expected stopping mode")
	}
	if s.Target() != 2*k {
		t.Errorf("Expected stop target %d, got %d", 2*k, s.Target())
	}

	extra := runUntilIdle(src, 100000)
	if extra > k+1 {
		t.Errorf("Stop took %d ticks, expected at most %d", extra, k+1)
	}
	if s.Position() != 2*k {
		t.Errorf("Expected symmetric stop at %d, got %d", 2*k, s.Position())
	}
	if b.dirChanges != 0 {
		t.Error("Direction reversed during stop")
	}
}

func TestStopWhileCruising(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)
	if err := s.StartMoveTo(10000, 0, 2000, 10000); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}

	src.Advance(1000)
	if err := s.StartStopping(0, 0); err != nil {
		t.Fatalf("StartStopping: %v", err)
	}
	extra := runUntilIdle(src, 100000)
	if s.Position() != 1000+199 {
		t.Errorf("Expected stop after one ramp at %d, got %d", 1199, s.Position())
	}
	if extra > 1000 {
		t.Errorf("Stop took %d ticks", extra)
	}

	// idempotent once idle
	if err := s.StartStopping(0, 0); err != nil {
		t.Errorf("StartStopping on idle stepper: %v", err)
	}
}

func TestEmergencyStop(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, b := newTestStepper(0, src)
	if err := s.StartMoveTo(10000, 0, 2000, 10000); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}
	src.Advance(50)

	s.EmergencyStop()
	if s.IsMoving() || s.Velocity() != 0 {
		t.Error("Expected halted stepper")
	}
	if src.InUse() != 0 {
		t.Error("Expected timer released")
	}
	if s.Target() != s.Position() || s.Position() != 50 {
		t.Errorf("Expected target reset to position 50, got target=%d pos=%d", s.Target(), s.Position())
	}
	if n := src.Advance(100); n != 0 {
		t.Errorf("Ticks delivered after emergency stop: %d", n)
	}
	if b.stopped == 0 {
		t.Error("Backend Stop not called")
	}

	// reusable afterwards
	if err := s.StartMoveTo(0, 0, 2000, 10000); err != nil {
		t.Fatalf("Restart after emergency stop: %v", err)
	}
	runUntilIdle(src, 10000)
	if s.Position() != 0 {
		t.Errorf("Expected return to 0, got %d", s.Position())
	}
}

func TestStartMoveErrors(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)

	if err := s.StartMoveTo(100, 0, 0, 100); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for zero velocity, got %v", err)
	}
	if err := s.StartMoveTo(100, 0, 1000, 100); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}
	if err := s.StartMoveTo(200, 0, 1000, 100); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if err := s.SetCurrentPosition(0); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy from SetCurrentPosition, got %v", err)
	}

	other, _ := newTestStepper(1, src)
	if err := other.StartMoveTo(100, 0, 1000, 100); !errors.Is(err, ErrNoTimer) {
		t.Errorf("Expected ErrNoTimer, got %v", err)
	}
	if other.IsMoving() || other.Target() != 0 {
		t.Error("Failed start must leave the stepper untouched")
	}
}

func TestZeroDistanceMove(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)
	if err := s.StartMoveTo(0, 0, 1000, 100); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}
	if s.IsMoving() || src.InUse() != 0 {
		t.Error("Zero-distance move must not start a timer")
	}
}

func TestRotateAndOverride(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)

	if err := s.StartRotate(1000, 5000); err != nil {
		t.Fatalf("StartRotate: %v", err)
	}
	if s.Snapshot().Mode != ModeContinuousRotation {
		t.Fatal("Expected rotation mode")
	}
	src.Advance(200)
	if v := s.Velocity(); v != 1000 {
		t.Errorf("Expected steady 1000 steps/s, got %d", v)
	}

	if !s.OverrideSpeed(1.0) {
		t.Fatal("Override rejected during rotation")
	}
	src.Advance(50)
	if v := s.Velocity(); v != 1000 {
		t.Errorf("Override 1.0 changed velocity to %d", v)
	}

	if !s.OverrideSpeed(0.5) {
		t.Fatal("Override rejected")
	}
	src.Advance(200)
	if v := s.Velocity(); v < 495 || v > 505 {
		t.Errorf("Expected about 500 steps/s after 0.5 override, got %d", v)
	}

	if !s.OverrideSpeed(0) {
		t.Fatal("Override rejected")
	}
	// (500^2 - 0) / 10000 = 25 ticks of deceleration
	n := src.Advance(1000)
	if n > 30 {
		t.Errorf("Stopping from override took %d ticks", n)
	}
	if s.IsMoving() || src.InUse() != 0 {
		t.Error("Expected rotation to stop and release its timer")
	}
}

func TestRotateReversal(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, b := newTestStepper(0, src)

	if err := s.StartRotate(500, 10000); err != nil {
		t.Fatalf("StartRotate: %v", err)
	}
	src.Advance(100)
	if b.reverse {
		t.Fatal("Expected forward direction")
	}
	peak := s.Position()

	if err := s.StartRotate(-500, 10000); err != nil {
		t.Fatalf("Retarget: %v", err)
	}
	src.Advance(500)
	if !b.reverse || b.dirChanges != 1 {
		t.Errorf("Expected one direction change, got %d (reverse=%v)", b.dirChanges, b.reverse)
	}
	if s.Velocity() != -500 {
		t.Errorf("Expected -500 steps/s, got %d", s.Velocity())
	}
	if s.Position() >= peak {
		t.Error("Position should decrease after reversal")
	}

	if err := s.StartStopping(0, 10000); err != nil {
		t.Fatalf("StartStopping: %v", err)
	}
	src.Advance(1000)
	if s.IsMoving() {
		t.Error("Expected rotation to stop")
	}
	if b.dirChanges != 1 {
		t.Error("Direction reversed while stopping")
	}
}

func TestOverrideIgnoredOutsideRotation(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src)
	if s.OverrideSpeed(1.5) {
		t.Error("Override accepted while idle")
	}
	if err := s.StartMoveTo(1000, 0, 1000, 1000); err != nil {
		t.Fatalf("StartMoveTo: %v", err)
	}
	if s.OverrideSpeed(1.5) {
		t.Error("Override accepted during a position move")
	}
	if err := s.StartRotate(100, 100); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy rotating during a position move, got %v", err)
	}
}

func TestRotateClampsToMaxVelocity(t *testing.T) {
	src := core.NewManualTimerSource(1)
	s, _ := newTestStepper(0, src) // max 5000
	if err := s.StartRotate(9000, 100000); err != nil {
		t.Fatalf("StartRotate: %v", err)
	}
	if p := s.Snapshot(); p.TargetVelocity != 5000 {
		t.Errorf("Expected target clamped to 5000, got %d", p.TargetVelocity)
	}
	s.OverrideSpeed(2)
	if p := s.Snapshot(); p.TargetVelocity != 5000 {
		t.Errorf("Expected override clamped to 5000, got %d", p.TargetVelocity)
	}
}
