package core

// Ratio tracking between the spindle encoder and the leadscrew stepper.
//
// The stepper must advance N pulses for every D encoder counts (0 < N < D).
// Rather than dividing on every edge, the scheduler works out the encoder
// count at which the next pulse boundary falls in each direction and lets
// the encoder's compare channels fire there.
//
// Err is the residual between the ideal and the issued pulse position.
// While the encoder keeps its direction each commit preserves
// OutputPosition*D - count*N + Err, which is zero from the seed point.
// A reversal commits Prev.Error = Next.Error -/+ (D - N); this is exact
// only when the pending jump satisfies k*N == D, so the relation can
// shift by a fraction of a pulse at each reversal.

// GearState is the live pulse ratio and the committed tracking state
type GearState struct {
	D, N           int32 // pulse ratio: N pulses per D encoder counts
	Err            int32 // accumulated phase error, |Err| < D after a commit
	OutputPosition int32 // stepper pulses issued, positive = forward
}

// Jump is a pulse boundary on the encoder counter
type Jump struct {
	Count Count  // counter value at which the boundary occurs
	Delta uint16 // counter advance since the previous boundary
	Error int32  // phase error once the boundary is committed
}

// Range holds the boundary ahead in the commanded direction (Next) and the
// boundary that applies if the encoder reverses immediately (Prev)
type Range struct {
	Next Jump
	Prev Jump
}

// NextJumpForward computes the next boundary when moving forward.
// k = ceil((d - 2e) / 2n)
func NextJumpForward(d, n, e int32, count Count) Jump {
	k := (d - 2*e + 2*n - 1) / (2 * n)
	return Jump{
		Count: count.Add(uint16(k)),
		Delta: uint16(k),
		Error: e + k*n - d,
	}
}

// NextJumpReverse computes the next boundary when moving in reverse.
// k = 1 + floor((d + 2e) / 2n)
func NextJumpReverse(d, n, e int32, count Count) Jump {
	k := 1 + (d+2*e)/(2*n)
	return Jump{
		Count: count.Sub(uint16(k)),
		Delta: uint16(k),
		Error: e - k*n + d,
	}
}

// NextJump recomputes both boundaries from the committed error in state.
// reverse selects the branch: false = forward, true = reverse.
func (r *Range) NextJump(state *GearState, reverse bool, count Count) {
	d, n, e := state.D, state.N, state.Err
	if !reverse {
		r.Next = NextJumpForward(d, n, e, count)
		r.Prev = Jump{Count: count.Sub(1), Delta: 1, Error: r.Next.Error + d - n}
	} else {
		r.Next = NextJumpReverse(d, n, e, count)
		r.Prev = Jump{Count: count.Add(1), Delta: 1, Error: r.Next.Error - d + n}
	}
}

// Seed resets state to the ratio d:n with zero error and arms a fresh
// pair around start: Next in the commanded direction, Prev in the other.
func (r *Range) Seed(state *GearState, d, n int32, start Count, reverse bool) {
	if n <= 0 || d <= 0 {
		panic("core: gear ratio must be positive")
	}
	state.D = d
	state.N = n
	state.Err = 0
	fwd := NextJumpForward(d, n, 0, start)
	rev := NextJumpReverse(d, n, 0, start)
	if reverse {
		r.Next, r.Prev = rev, fwd
	} else {
		r.Next, r.Prev = fwd, rev
	}
}
