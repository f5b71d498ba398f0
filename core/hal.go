package core

// PulseGenerator is the hardware that turns a trigger from the encoder
// compare channel into a step pulse, optionally after a programmed delay.
// Implementations can use a one-shot timer, PIO, or a software model.
type PulseGenerator interface {
	// Configure sets the direction-change dwell and the step pulse width
	// and the output polarities
	Configure(dwellNs, pulseNs uint32, invertStep, invertDir bool) error

	// ChangeDirection sets the direction output.
	// dir: true = reverse, false = forward
	// The next pulse is issued after the direction dwell.
	ChangeDirection(dir bool)

	// SetDelay postpones the next triggered pulse by the given number of
	// timer ticks. Values below the timer's minimum issue immediately.
	SetDelay(ticks uint32)

	// Direction returns the commanded direction (true = reverse)
	Direction() bool
}

// PositionEncoder is the quadrature counter attached to the spindle,
// together with its two compare channels. The "next" channel triggers the
// pulse generator in hardware; the "prev" channel only interrupts.
type PositionEncoder interface {
	// Count returns the free-running counter value
	Count() Count

	// LastPulseDuration returns the duration of the last full encoder
	// pulse in timer ticks, 0 when the spindle is too slow to measure
	LastPulseDuration() uint16

	// IsForwardEdge reports whether the pending compare interrupt came
	// from the "next" channel
	IsForwardEdge() bool

	// ClearEdge acknowledges the pending compare interrupt
	ClearEdge()

	// ClearTrigger holds the pulse trigger output low
	ClearTrigger()

	// RestoreTrigger re-arms the trigger to fire on the next compare match
	RestoreTrigger()

	// ManualPulse forces one trigger immediately
	ManualPulse()

	// UpdateCompareChannels programs the counts at which the next two
	// boundary interrupts fire
	UpdateCompareChannels(next, prev Count)
}
