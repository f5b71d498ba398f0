//go:build rp2040

package main

import (
	"machine"

	"leadscrew/core"
)

// quadrature transition table indexed by prev<<2 | cur, where a state is
// A<<1 | B. +1 counts up, -1 counts down, 0 is no move or a missed step.
var quadratureTable = [16]int8{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// QuadratureEncoder decodes the spindle encoder with pin-change interrupts
// and drives the software compare channels of core.SoftEncoder
type QuadratureEncoder struct {
	*core.SoftEncoder

	pinA, pinB machine.Pin
	clockHz    uint32

	state    uint8
	lastRise uint32
	haveRise bool
	missed   uint32
}

// NewQuadratureEncoder creates an encoder on pinA/pinB. Pulse durations
// are measured in ticks of a clockHz timer.
func NewQuadratureEncoder(pinA, pinB machine.Pin, clockHz uint32) *QuadratureEncoder {
	return &QuadratureEncoder{
		SoftEncoder: core.NewSoftEncoder(0),
		pinA:        pinA,
		pinB:        pinB,
		clockHz:     clockHz,
	}
}

// Start configures the inputs and enables the edge interrupts
func (q *QuadratureEncoder) Start() error {
	q.pinA.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	q.pinB.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	q.state = q.read()

	if err := q.pinA.SetInterrupt(machine.PinRising|machine.PinFalling, q.handle); err != nil {
		return err
	}
	return q.pinB.SetInterrupt(machine.PinRising|machine.PinFalling, q.handle)
}

// Missed returns the number of invalid transitions seen so far
func (q *QuadratureEncoder) Missed() uint32 {
	return q.missed
}

func (q *QuadratureEncoder) read() uint8 {
	var s uint8
	if q.pinA.Get() {
		s |= 2
	}
	if q.pinB.Get() {
		s |= 1
	}
	return s
}

func (q *QuadratureEncoder) handle(machine.Pin) {
	cur := q.read()
	prev := q.state
	if cur == prev {
		return
	}
	q.state = cur

	// A rising marks one full encoder pulse
	if prev&2 == 0 && cur&2 != 0 {
		q.measure()
	}

	switch quadratureTable[prev<<2|cur] {
	case 1:
		q.Step(true)
	case -1:
		q.Step(false)
	default:
		q.missed++
	}
}

// measure records the time since the previous A rising edge, or 0 when
// the spindle is too slow for the 16-bit duration
func (q *QuadratureEncoder) measure() {
	now := GetHardwareTime()
	if !q.haveRise {
		q.haveRise = true
		q.lastRise = now
		return
	}
	elapsed := uint64(now-q.lastRise) * uint64(q.clockHz) / 1000000
	q.lastRise = now
	if elapsed > core.CountMax {
		elapsed = 0
	}
	q.SetPulseDuration(uint16(elapsed))
}
