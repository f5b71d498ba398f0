package core

// Step pulse timing for a one-shot pulse timer. A triggered pulse starts
// Start ticks after the trigger and ends at Stop. After a direction change
// the first pulse waits for the direction dwell; after a phase delay it
// waits for the delay, clamped so the window still fits the 16-bit timer.

// StepTiming holds the pulse timer parameters in timer ticks
type StepTiming struct {
	ClockHz    uint32 // pulse timer clock after prescaling
	MinCount   uint32 // smallest start count the timer accepts
	SetupCount uint16 // direction dwell before the first pulse
	PulseCount uint16 // step pulse width
}

// PulseWindow is the start/stop pair programmed into the pulse timer
type PulseWindow struct {
	Start   uint16
	Stop    uint16
	Delayed bool
}

const nsPerSecond = 1000000000

// NewStepTiming converts dwell and pulse widths from ns to timer ticks
func NewStepTiming(clockHz, minCount, dwellNs, pulseNs uint32) StepTiming {
	setup := 1 + uint64(dwellNs)*uint64(clockHz)/nsPerSecond
	if setup < uint64(minCount) {
		setup = uint64(minCount)
	}
	pulse := 1 + uint64(pulseNs)*uint64(clockHz)/nsPerSecond
	if setup > CountMax/2 {
		setup = CountMax / 2
	}
	if pulse > CountMax/2 {
		pulse = CountMax / 2
	}
	return StepTiming{
		ClockHz:    clockHz,
		MinCount:   minCount,
		SetupCount: uint16(setup),
		PulseCount: uint16(pulse),
	}
}

// ImmediateWindow is a pulse issued as soon as the trigger arrives
func (t StepTiming) ImmediateWindow() PulseWindow {
	return PulseWindow{Start: 1, Stop: t.PulseCount}
}

// ReverseWindow is the first pulse after a direction change
func (t StepTiming) ReverseWindow() PulseWindow {
	return PulseWindow{Start: t.SetupCount, Stop: t.SetupCount + t.PulseCount, Delayed: true}
}

// DelayWindow returns the window for a pulse postponed by delay ticks.
// Delays shorter than MinCount fall back to an immediate pulse.
func (t StepTiming) DelayWindow(delay uint32) PulseWindow {
	if delay < t.MinCount {
		return t.ImmediateWindow()
	}
	end := uint32(t.PulseCount) + delay
	if end >= CountMax {
		end = CountMax - 1
		return PulseWindow{Start: uint16(end - uint32(t.PulseCount)), Stop: uint16(end), Delayed: true}
	}
	return PulseWindow{Start: uint16(delay), Stop: uint16(end), Delayed: true}
}

// SoftPulseGenerator is a PulseGenerator that computes the timer windows
// in software and reports each pulse through OnPulse. It backs the
// simulator and the tests, and is the reference for hardware backends.
type SoftPulseGenerator struct {
	clockHz  uint32
	minCount uint32

	timing     StepTiming
	invertStep bool
	invertDir  bool
	reverse    bool

	delayed PulseWindow // window reloaded after each pulse
	pending PulseWindow // window of the next triggered pulse

	// OnPulse is the tick callback, normally Engine.HandlePulse
	OnPulse func()
}

// NewSoftPulseGenerator creates a generator for a timer running at clockHz
func NewSoftPulseGenerator(clockHz, minCount uint32) *SoftPulseGenerator {
	return &SoftPulseGenerator{clockHz: clockHz, minCount: minCount}
}

// Configure sets the dwell and pulse widths and the output polarity
func (g *SoftPulseGenerator) Configure(dwellNs, pulseNs uint32, invertStep, invertDir bool) error {
	g.timing = NewStepTiming(g.clockHz, g.minCount, dwellNs, pulseNs)
	g.invertStep = invertStep
	g.invertDir = invertDir
	g.delayed = g.timing.ImmediateWindow()
	g.pending = g.delayed
	return nil
}

// ChangeDirection flips the direction; the next pulse waits for the dwell
func (g *SoftPulseGenerator) ChangeDirection(dir bool) {
	g.reverse = dir
	g.pending = g.timing.ReverseWindow()
}

// SetDelay postpones the next triggered pulse and those after it until
// the next SetDelay. The edge handler runs before the timer reloads, so
// the new window applies to the very next pulse.
func (g *SoftPulseGenerator) SetDelay(ticks uint32) {
	g.delayed = g.timing.DelayWindow(ticks)
	g.pending = g.delayed
}

// Direction returns the commanded direction (true = reverse)
func (g *SoftPulseGenerator) Direction() bool {
	return g.reverse
}

// DirLevel returns the electrical level of the direction output
func (g *SoftPulseGenerator) DirLevel() bool {
	return g.reverse != g.invertDir
}

// Timing returns the computed timer parameters
func (g *SoftPulseGenerator) Timing() StepTiming {
	return g.timing
}

// PendingWindow returns the window the next trigger will use
func (g *SoftPulseGenerator) PendingWindow() PulseWindow {
	return g.pending
}

// Trigger emits one pulse, as the hardware does on a compare match, then
// loads the window for the following pulse
func (g *SoftPulseGenerator) Trigger() PulseWindow {
	w := g.pending
	g.pending = g.delayed
	if g.OnPulse != nil {
		g.OnPulse()
	}
	return w
}
