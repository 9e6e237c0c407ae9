package core

import "testing"

func TestScheduleTimerOrdering(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	var order []uint32
	handler := func(tm *Timer) uint8 {
		order = append(order, tm.WakeTime)
		return SF_DONE
	}

	timers := []*Timer{
		{WakeTime: 300, Handler: handler},
		{WakeTime: 100, Handler: handler},
		{WakeTime: 200, Handler: handler},
	}
	for _, tm := range timers {
		ScheduleTimer(tm)
	}

	TimerDispatch(250)
	if len(order) != 2 || order[0] != 100 || order[1] != 200 {
		t.Fatalf("Expected [100 200], got %v", order)
	}

	TimerDispatch(300)
	if len(order) != 3 || order[2] != 300 {
		t.Errorf("Expected third timer at 300, got %v", order)
	}
}

func TestScheduleTimerWrap(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	var fired []uint32
	handler := func(tm *Timer) uint8 {
		fired = append(fired, tm.WakeTime)
		return SF_DONE
	}

	late := &Timer{WakeTime: 10, Handler: handler}          // after the wrap
	early := &Timer{WakeTime: 0xFFFFFFF0, Handler: handler} // before the wrap
	ScheduleTimer(late)
	ScheduleTimer(early)

	TimerDispatch(0xFFFFFFF8)
	if len(fired) != 1 || fired[0] != 0xFFFFFFF0 {
		t.Fatalf("Expected only the pre-wrap timer, got %v", fired)
	}
	TimerDispatch(20)
	if len(fired) != 2 {
		t.Errorf("Expected post-wrap timer to fire, got %v", fired)
	}
}

func TestRescheduleAndDelete(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	count := 0
	tm := &Timer{WakeTime: 10}
	tm.Handler = func(tm *Timer) uint8 {
		count++
		tm.WakeTime += 10
		return SF_RESCHEDULE
	}
	ScheduleTimer(tm)

	TimerDispatch(35)
	if count != 3 {
		t.Errorf("Expected 3 runs by t=35, got %d", count)
	}
	if !IsScheduled(tm) {
		t.Error("Expected timer to remain scheduled")
	}

	DeleteTimer(tm)
	TimerDispatch(100)
	if count != 3 {
		t.Errorf("Deleted timer ran again: %d", count)
	}
	if IsScheduled(tm) {
		t.Error("Expected timer to be unscheduled")
	}
}

func TestDeleteFromOwnHandler(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	count := 0
	tm := &Timer{WakeTime: 5}
	tm.Handler = func(tm *Timer) uint8 {
		count++
		DeleteTimer(tm)
		tm.WakeTime += 5
		return SF_RESCHEDULE
	}
	ScheduleTimer(tm)
	TimerDispatch(50)
	if count != 1 {
		t.Errorf("Expected cancelled reschedule, handler ran %d times", count)
	}
}

func TestScheduleTwiceMoves(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	count := 0
	tm := &Timer{WakeTime: 10, Handler: func(*Timer) uint8 { count++; return SF_DONE }}
	ScheduleTimer(tm)
	tm.WakeTime = 40
	ScheduleTimer(tm)

	TimerDispatch(20)
	if count != 0 {
		t.Error("Timer fired at its old wake time")
	}
	TimerDispatch(40)
	if count != 1 {
		t.Errorf("Expected one run, got %d", count)
	}
}
