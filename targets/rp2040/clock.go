//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"leadscrew/core"
)

// RP2040 timer peripheral
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // raw high word, no latching
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

	// last microsecond reading folded into the millisecond tick
	lastMicros uint32
	microsRem  uint32
)

// InitClock samples the 1 MHz timer so the first UpdateSystemTime starts
// from zero elapsed time
func InitClock() {
	lastMicros = GetHardwareTime()
	microsRem = 0
	core.SetTime(0)
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit microsecond counter
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime advances the millisecond tick by the time elapsed on
// the hardware timer. The remainder carries over, so the tick never drifts.
func UpdateSystemTime() {
	now := GetHardwareTime()
	elapsed := now - lastMicros + microsRem
	lastMicros = now
	if elapsed >= 1000 {
		core.AdvanceTime(elapsed / 1000)
	}
	microsRem = elapsed % 1000
}
