package core

import "testing"

func TestTimerOrdering(t *testing.T) {
	resetTimers()
	defer resetTimers()

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	ScheduleTimer(mk(3, 30))
	ScheduleTimer(mk(1, 10))
	ScheduleTimer(mk(2, 20))

	SetTime(25)
	ProcessTimers()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("fired %v, expected [1 2]", order)
	}

	SetTime(30)
	ProcessTimers()
	if len(order) != 3 || order[2] != 3 {
		t.Errorf("fired %v, expected [1 2 3]", order)
	}
}

func TestTimerReschedule(t *testing.T) {
	resetTimers()
	defer resetTimers()

	fired := 0
	timer := &Timer{WakeTime: 5}
	timer.Handler = func(t *Timer) uint8 {
		fired++
		t.WakeTime += 5
		return SF_RESCHEDULE
	}
	ScheduleTimer(timer)

	for i := 0; i < 10; i++ {
		AdvanceTime(5)
		ProcessTimers()
	}
	if fired != 10 {
		t.Errorf("periodic timer fired %d times, expected 10", fired)
	}

	CancelTimer(timer)
	AdvanceTime(50)
	ProcessTimers()
	if fired != 10 {
		t.Error("cancelled timer fired")
	}
}

func TestTimerWrap(t *testing.T) {
	resetTimers()
	defer resetTimers()

	fired := false
	SetTime(0xFFFFFFF0)
	ScheduleTimer(&Timer{WakeTime: 0x10, Handler: func(*Timer) uint8 {
		fired = true
		return SF_DONE
	}})

	ProcessTimers()
	if fired {
		t.Fatal("timer past the wrap fired early")
	}
	SetTime(0x10)
	ProcessTimers()
	if !fired {
		t.Error("timer past the wrap did not fire")
	}
}

func TestCancelMiddleTimer(t *testing.T) {
	resetTimers()
	defer resetTimers()

	var fired []uint32
	timers := make([]*Timer, 3)
	for i := range timers {
		wake := uint32(i+1) * 10
		timers[i] = &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			fired = append(fired, wake)
			return SF_DONE
		}}
		ScheduleTimer(timers[i])
	}
	CancelTimer(timers[1])

	SetTime(100)
	ProcessTimers()
	if len(fired) != 2 || fired[0] != 10 || fired[1] != 30 {
		t.Errorf("fired %v, expected [10 30]", fired)
	}
}
