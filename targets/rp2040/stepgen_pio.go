//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"leadscrew/core"
)

// One-shot pulse program. Each trigger pushes one word:
//
//	Bits 0-15:  ticks before the rising edge (window start - 1)
//	Bits 16-31: pulse width in ticks (window stop - start - 1)
//
// One instruction runs per tick, so the wait and hold loops count ticks
// directly. The program is assembled at base so its jumps are absolute.
func buildPulseProgram(base uint8, invert bool) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	active, idle := uint8(1), uint8(0)
	if invert {
		active, idle = 0, 1
	}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),         // 1: out x, 16 (wait)
		asm.Out(rp2pio.OutDestY, 16).Encode(),         // 2: out y, 16 (width)
		asm.Jmp(base+3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		asm.Set(rp2pio.SetDestPins, active).Encode(),  // 4: set pins, active
		asm.Jmp(base+5, rp2pio.JmpYNZeroDec).Encode(), // 5: jmp y--, 5
		asm.Set(rp2pio.SetDestPins, idle).Encode(),    // 6: set pins, idle
		// .wrap
	}
}

// Both polarities stay resident so a configuration change can switch
// between them without unloading
const (
	pulseProgramOrigin         = 0
	pulseProgramInvertedOrigin = 8
	pulseProgramLen            = 7

	// system clock divided down to one PIO instruction per microsecond
	pulseClkDiv = 125
)

// PIOPulseGenerator issues step pulses from a PIO state machine. The
// window arithmetic is shared with core.SoftPulseGenerator; the state
// machine only times the pulse the window describes.
type PIOPulseGenerator struct {
	soft *core.SoftPulseGenerator

	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	stepPin machine.Pin
	dirPin  machine.Pin

	offsets  [2]uint8
	inverted bool
}

// NewPIOPulseGenerator claims state machine 0 of PIO block pioNum and
// loads the pulse programs. The timer runs at cfg.TimerClockHz, which must
// be 1 MHz to match pulseClkDiv.
func NewPIOPulseGenerator(pioNum uint8, step, dir machine.Pin, cfg *core.MachineConfig) (*PIOPulseGenerator, error) {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}

	g := &PIOPulseGenerator{
		soft:    core.NewSoftPulseGenerator(cfg.TimerClockHz, cfg.MinTimerCount),
		pio:     pioHW,
		sm:      pioHW.StateMachine(0),
		stepPin: step,
		dirPin:  dir,
	}
	g.sm.TryClaim()

	var err error
	g.offsets[0], err = g.pio.AddProgram(buildPulseProgram(pulseProgramOrigin, false), pulseProgramOrigin)
	if err != nil {
		return nil, err
	}
	g.offsets[1], err = g.pio.AddProgram(buildPulseProgram(pulseProgramInvertedOrigin, true), pulseProgramInvertedOrigin)
	if err != nil {
		return nil, err
	}

	g.stepPin.Configure(machine.PinConfig{Mode: g.pio.PinMode()})
	g.dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.dirPin.Low()

	g.start(false)
	return g, nil
}

// start (re)initialises the state machine on the program for the given
// step polarity and parks the output at its idle level
func (g *PIOPulseGenerator) start(invert bool) {
	g.sm.SetEnabled(false)
	g.sm.ClearFIFOs()

	offset := g.offsets[0]
	if invert {
		offset = g.offsets[1]
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(g.stepPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+pulseProgramLen-1, offset)
	cfg.SetClkDivIntFrac(pulseClkDiv, 0)

	g.sm.Init(offset, cfg)
	g.sm.SetPindirsConsecutive(g.stepPin, 1, true)
	g.sm.SetPinsConsecutive(g.stepPin, 1, invert)
	g.sm.Restart()
	g.sm.SetEnabled(true)
	g.inverted = invert
}

// Configure sets the dwell and pulse widths and the output polarity
func (g *PIOPulseGenerator) Configure(dwellNs, pulseNs uint32, invertStep, invertDir bool) error {
	if err := g.soft.Configure(dwellNs, pulseNs, invertStep, invertDir); err != nil {
		return err
	}
	if invertStep != g.inverted {
		g.start(invertStep)
	}
	g.dirPin.Set(g.soft.DirLevel())
	return nil
}

// ChangeDirection drives the direction output; the next pulse waits for
// the dwell
func (g *PIOPulseGenerator) ChangeDirection(dir bool) {
	g.soft.ChangeDirection(dir)
	g.dirPin.Set(g.soft.DirLevel())
}

// SetDelay postpones the following pulses by ticks
func (g *PIOPulseGenerator) SetDelay(ticks uint32) {
	g.soft.SetDelay(ticks)
}

// Direction returns the commanded direction (true = reverse)
func (g *PIOPulseGenerator) Direction() bool {
	return g.soft.Direction()
}

// OnPulse sets the callback run after each queued pulse
func (g *PIOPulseGenerator) OnPulse(fn func()) {
	g.soft.OnPulse = fn
}

// Trigger queues the pending window to the state machine. Called from the
// encoder interrupt when the next-channel count is reached.
func (g *PIOPulseGenerator) Trigger() {
	w := g.soft.PendingWindow()
	wait := uint32(w.Start) - 1
	width := uint32(w.Stop-w.Start) - 1

	for g.sm.IsTxFIFOFull() {
	}
	g.sm.TxPut(wait | width<<16)
	g.soft.Trigger()
}
