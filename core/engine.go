package core

import "sync/atomic"

// Engine owns the gear state and the boundary pair and runs the encoder
// edge handler. Only HandleEdge and HandlePulse (interrupt context) mutate
// the tracking state; the control loop reconfigures inside an
// interrupt-masked section and reads committed values through Snapshot.
type Engine struct {
	enc PositionEncoder
	gen PulseGenerator

	state   GearState
	rng     Range
	running bool

	// Published copies for the control loop. Single writer (interrupt
	// handlers or a masked section), single reader.
	pubD       atomic.Int32
	pubN       atomic.Int32
	pubErr     atomic.Int32
	pubPos     atomic.Int32
	pubDir     atomic.Bool
	pubRunning atomic.Bool
	edges      atomic.Uint32
	pulses     atomic.Uint32
}

// Status is a consistent-enough view of the engine for reporting.
// Each field is a committed value; fields may come from adjacent edges.
type Status struct {
	D, N           int32
	Err            int32
	OutputPosition int32
	Reverse        bool // commanded direction
	Running        bool
	Edges          uint32 // compare interrupts handled
	Pulses         uint32 // pulses reported by the generator
}

// NewEngine creates an idle engine bound to its hardware collaborators
func NewEngine(enc PositionEncoder, gen PulseGenerator) *Engine {
	return &Engine{enc: enc, gen: gen}
}

// Configure reseeds the gear at the live encoder count with ratio d:n
// (n pulses per d counts) and re-arms both compare channels.
// Must be called from the control loop, never from the edge handler.
func (e *Engine) Configure(d, n int32) {
	if n <= 0 || d <= 0 {
		panic("core: gear ratio must be positive")
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)

	e.reseed(d, n, e.enc.Count())
	if e.running {
		e.enc.RestoreTrigger()
	} else {
		e.enc.ClearTrigger()
	}
	e.pubD.Store(d)
	e.pubN.Store(n)
	RecordTiming(EvtConfigure, e.enc.Count(), d, n)
}

// ConfigureRatio configures from a pulse ratio (stepper pulses per
// encoder count); D is the ratio's denominator, N its numerator
func (e *Engine) ConfigureRatio(r Ratio) {
	if r.IsZero() {
		panic("core: zero pulse ratio")
	}
	e.Configure(int32(r.Den()), int32(r.Num()))
}

// SetRunning gates pulse output. Starting reseeds at the live count so
// no boundary armed while idle is carried over.
func (e *Engine) SetRunning(run bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if e.running == run {
		return
	}
	e.running = run
	e.pubRunning.Store(run)
	if e.state.N == 0 {
		return
	}
	e.reseed(e.state.D, e.state.N, e.enc.Count())
	if run {
		e.enc.RestoreTrigger()
	} else {
		e.enc.ClearTrigger()
	}
}

// Disengage drops the gear ratio and stops pulse output. The edge handler
// ignores edges until the next Configure.
func (e *Engine) Disengage() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	e.running = false
	e.state.D, e.state.N, e.state.Err = 0, 0, 0
	e.enc.ClearTrigger()
	e.pubD.Store(0)
	e.pubN.Store(0)
	e.pubErr.Store(0)
	e.pubRunning.Store(false)
}

// reseed resets the tracking state around count and programs the compare
// channels. Callers hold the interrupt mask or run in the edge handler.
func (e *Engine) reseed(d, n int32, count Count) {
	e.rng.Seed(&e.state, d, n, count, e.gen.Direction())
	e.enc.UpdateCompareChannels(e.rng.Next.Count, e.rng.Prev.Count)
	e.pubErr.Store(0)
}

// HandleEdge is the compare-channel interrupt handler. It must complete
// before the next encoder edge can arrive.
func (e *Engine) HandleEdge() {
	count := e.enc.Count()
	dir := e.gen.Direction()
	fwd := e.enc.IsForwardEdge()
	e.enc.ClearEdge()
	e.edges.Add(1)

	if e.state.N == 0 {
		return
	}

	if !e.running {
		e.enc.ClearTrigger()
		e.reseed(e.state.D, e.state.N, count)
		RecordTiming(EvtIdleEdge, count, 0, 0)
		return
	}

	if fwd {
		// The hardware already triggered the pulse at the compare match
		e.enc.ClearTrigger()
		e.state.Err = e.rng.Next.Error
		e.rng.NextJump(&e.state, dir, count)
		e.gen.SetDelay(PhaseDelay(e.enc.LastPulseDuration(), e.rng.Next.Error, e.state.N))
		e.enc.RestoreTrigger()
		RecordTiming(EvtEdgeNext, count, e.state.Err, int32(e.rng.Next.Count))
	} else {
		// Reversal: the armed boundary is stale. Flip direction, issue the
		// pulse by hand and continue from the reverse pair.
		dir = !dir
		e.gen.ChangeDirection(dir)
		e.pubDir.Store(dir)
		e.enc.ManualPulse()
		e.state.Err = e.rng.Prev.Error
		e.rng.NextJump(&e.state, dir, count)
		var d int32
		if dir {
			d = 1
		}
		RecordTiming(EvtEdgeReverse, count, e.state.Err, d)
	}
	e.enc.UpdateCompareChannels(e.rng.Next.Count, e.rng.Prev.Count)
	e.pubErr.Store(e.state.Err)
}

// HandlePulse is the pulse generator tick: one step pulse was issued in
// the commanded direction.
func (e *Engine) HandlePulse() {
	if e.gen.Direction() {
		e.state.OutputPosition--
	} else {
		e.state.OutputPosition++
	}
	e.pubPos.Store(e.state.OutputPosition)
	e.pulses.Add(1)
	RecordTiming(EvtPulse, e.enc.Count(), e.state.OutputPosition, 0)
}

// ResetPosition zeroes the output position (control loop)
func (e *Engine) ResetPosition() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	e.state.OutputPosition = 0
	e.pubPos.Store(0)
}

// Snapshot returns the committed state for the control loop
func (e *Engine) Snapshot() Status {
	return Status{
		D:              e.pubD.Load(),
		N:              e.pubN.Load(),
		Err:            e.pubErr.Load(),
		OutputPosition: e.pubPos.Load(),
		Reverse:        e.pubDir.Load(),
		Running:        e.pubRunning.Load(),
		Edges:          e.edges.Load(),
		Pulses:         e.pulses.Load(),
	}
}

// Boundaries returns the armed boundary pair
func (e *Engine) Boundaries() Range {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return e.rng
}

// Gear returns a copy of the gear state
func (e *Engine) Gear() GearState {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return e.state
}
