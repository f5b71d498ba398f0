package core

// SoftEncoder is a PositionEncoder driven by Step calls instead of a
// quadrature decoder. It models the two compare channels of the hardware
// timer: a match on the next channel fires the armed pulse trigger and
// raises a forward edge, a match on the prev channel raises a reverse
// edge. Used by the tests and by targets without capture hardware, where
// a pin-change interrupt calls Step.
type SoftEncoder struct {
	count      Count
	next, prev Count

	armed    bool
	fwd      bool
	pending  bool
	duration uint16

	// Trigger fires one step pulse, normally SoftPulseGenerator.Trigger
	Trigger func()
	// OnEdge is the compare interrupt, normally Engine.HandleEdge
	OnEdge func()
}

// NewSoftEncoder creates an encoder starting at count
func NewSoftEncoder(count Count) *SoftEncoder {
	return &SoftEncoder{count: count}
}

// Count returns the raw counter value
func (s *SoftEncoder) Count() Count {
	return s.count
}

// SetCount moves the counter without raising edges
func (s *SoftEncoder) SetCount(c Count) {
	s.count = c
}

// LastPulseDuration returns the configured encoder pulse period
func (s *SoftEncoder) LastPulseDuration() uint16 {
	return s.duration
}

// SetPulseDuration sets the value reported by LastPulseDuration
func (s *SoftEncoder) SetPulseDuration(ticks uint16) {
	s.duration = ticks
}

func (s *SoftEncoder) IsForwardEdge() bool {
	return s.fwd
}

func (s *SoftEncoder) ClearEdge() {
	s.pending = false
}

func (s *SoftEncoder) ClearTrigger() {
	s.armed = false
}

func (s *SoftEncoder) RestoreTrigger() {
	s.armed = true
}

// Armed reports whether a next-channel match will fire a pulse
func (s *SoftEncoder) Armed() bool {
	return s.armed
}

func (s *SoftEncoder) ManualPulse() {
	if s.Trigger != nil {
		s.Trigger()
	}
}

func (s *SoftEncoder) UpdateCompareChannels(next, prev Count) {
	s.next = next
	s.prev = prev
}

// CompareChannels returns the programmed next and prev counts
func (s *SoftEncoder) CompareChannels() (next, prev Count) {
	return s.next, s.prev
}

// EdgePending reports an edge raised but not yet cleared by the handler
func (s *SoftEncoder) EdgePending() bool {
	return s.pending
}

// Step moves the counter by one count, up when up is true, and runs the
// compare logic
func (s *SoftEncoder) Step(up bool) {
	if up {
		s.count = s.count.Add(1)
	} else {
		s.count = s.count.Sub(1)
	}
	switch s.count {
	case s.next:
		if s.armed && s.Trigger != nil {
			s.Trigger()
		}
		s.raise(true)
	case s.prev:
		s.raise(false)
	}
}

// Move steps the counter by delta counts
func (s *SoftEncoder) Move(delta int) {
	for ; delta > 0; delta-- {
		s.Step(true)
	}
	for ; delta < 0; delta++ {
		s.Step(false)
	}
}

func (s *SoftEncoder) raise(fwd bool) {
	s.fwd = fwd
	s.pending = true
	if s.OnEdge != nil {
		s.OnEdge()
	}
}
