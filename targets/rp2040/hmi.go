//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/tm1637"

	"leadscrew/core"
)

const (
	hmiBrightness = 3
	debounceMs    = 30
	pitchHoldMs   = 2000 // pitch stays on the display after a change
	displayDigits = 4
)

// HMI is the front panel: a TM1637 four digit display, the pitch cycle
// button and the run LED. Speed reports are mirrored to the debug UART.
type HMI struct {
	display tm1637.Device
	button  machine.Pin
	led     machine.Pin

	pitchUntil uint32
	pressedAt  uint32
	pressed    bool
	reported   bool
	running    bool
}

// NewHMI configures the panel pins and clears the display
func NewHMI(clk, dio, button, led machine.Pin) *HMI {
	h := &HMI{
		display: tm1637.New(clk, dio, hmiBrightness),
		button:  button,
		led:     led,
	}
	h.display.Configure()
	h.display.ClearDisplay()
	h.button.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	h.led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	h.led.Low()
	return h
}

// ShowPitch displays the thread label and holds it over speed updates
// for a moment
func (h *HMI) ShowPitch(p core.PitchInfo) {
	h.display.ClearDisplay()
	h.display.DisplayText(pitchText(p))
	h.pitchUntil = core.GetTime() + core.TicksFromMS(pitchHoldMs)
	core.DebugAsync("pitch=" + p.String())
}

// ShowRPM displays the spindle speed, negative when turning in reverse
func (h *HMI) ShowRPM(rpm uint16, forward bool) {
	fwd := 0
	if forward {
		fwd = 1
	}
	core.DebugAsync("rpm=" + itoa(int(rpm)) + ", fwd=" + itoa(fwd))

	if int32(core.GetTime()-h.pitchUntil) < 0 {
		return
	}
	v := int(rpm)
	if forward {
		v = min(v, 9999)
	} else {
		v = -min(v, 999)
	}
	h.display.DisplayNumber(int16(v))
}

// CyclePressed reports a debounced press of the cycle button, once per
// press
func (h *HMI) CyclePressed() bool {
	now := core.GetTime()
	down := !h.button.Get()
	if down != h.pressed {
		h.pressed = down
		h.pressedAt = now
		if !down {
			h.reported = false
		}
		return false
	}
	if down && !h.reported && now-h.pressedAt >= core.TicksFromMS(debounceMs) {
		h.reported = true
		return true
	}
	return false
}

// SetRunning drives the run LED
func (h *HMI) SetRunning(run bool) {
	if run == h.running {
		return
	}
	h.running = run
	h.led.Set(run)
}

// pitchText renders a label on four digits. The decimal point is dropped
// and imperial threads carry a trailing "t" when it fits.
func pitchText(p core.PitchInfo) []byte {
	text := make([]byte, 0, displayDigits)
	for i := 0; i < len(p.Label) && len(text) < displayDigits; i++ {
		if c := p.Label[i]; c != '.' {
			text = append(text, c)
		}
	}
	if p.Unit == core.PitchTPI && len(text) < displayDigits {
		text = append(text, 't')
	}
	return text
}
