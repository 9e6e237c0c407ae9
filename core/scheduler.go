package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer

	queued    bool // linked into timerList
	running   bool // handler executing
	cancelled bool // DeleteTimer called while running
	rearm     bool // ScheduleTimer called while running
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var timerList *Timer

// ScheduleTimer adds a timer to the schedule. A timer that is already
// queued is moved to its new wake time.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	t.cancelled = false
	if t.running {
		// inserted by TimerDispatch once the handler returns
		t.rearm = true
		return
	}
	if t.queued {
		unlinkTimer(t)
	}
	insertTimer(t)
}

// DeleteTimer removes a timer from the schedule. If its handler is running
// the handler's reschedule request is dropped.
func DeleteTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if t.running {
		t.cancelled = true
		t.rearm = false
		return
	}
	if t.queued {
		unlinkTimer(t)
	}
}

// IsScheduled reports whether the timer is pending or executing
func IsScheduled(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return t.queued || (t.running && !t.cancelled)
}

// insertTimer inserts a timer in sorted order by WakeTime
func insertTimer(t *Timer) {
	t.queued = true
	if timerList == nil || timerIsBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !timerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func unlinkTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
	} else {
		for cur := timerList; cur != nil; cur = cur.Next {
			if cur.Next == t {
				cur.Next = t.Next
				break
			}
		}
	}
	t.Next = nil
	t.queued = false
}

// TimerDispatch runs every timer whose WakeTime is not after now.
// Handlers run outside the scheduler lock so they may schedule other timers.
func TimerDispatch(now uint32) {
	state := disableInterrupts()

	for timerList != nil && !timerIsBefore(now, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil
		timer.queued = false
		timer.running = true

		restoreInterrupts(state)
		result := timer.Handler(timer)
		state = disableInterrupts()

		timer.running = false
		rearm := timer.rearm
		timer.rearm = false
		if timer.cancelled {
			timer.cancelled = false
			continue
		}
		if (result == SF_RESCHEDULE || rearm) && !timer.queued {
			insertTimer(timer)
		}
	}

	restoreInterrupts(state)
}

// ResetTimers drops every pending timer (used between tests and on reboot)
func ResetTimers() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for t := timerList; t != nil; {
		next := t.Next
		t.Next = nil
		t.queued = false
		t.rearm = false
		t = next
	}
	timerList = nil
}
