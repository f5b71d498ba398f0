package core

import "sync/atomic"

// System time runs at 1 kHz, the rate of the periodic tick that drives
// the speed sampler. Pulse timing uses the separate StepTiming clock.
const (
	TickFreq = 1000 // system ticks per second
)

// systemTicks is written by the clock update and read by the main loop
// and the edge handler
var systemTicks atomic.Uint32

// GetTime returns the current system time in ticks (milliseconds)
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// AdvanceTime moves system time forward by the given number of ticks
func AdvanceTime(ticks uint32) {
	systemTicks.Add(ticks)
}

// TicksFromMS converts milliseconds to system ticks
func TicksFromMS(ms uint32) uint32 {
	return ms * TickFreq / 1000
}

// ProcessTimers runs every timer whose wake time has passed
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
