package core

// PhaseDelay converts the phase error e into a pulse delay, scaled by the
// duration of the last full encoder pulse: period * |e| / n.
func PhaseDelay(period uint16, e, n int32) uint32 {
	if n == 0 {
		panic("core: phase delay with zero numerator")
	}
	if e < 0 {
		e = -e
	}
	return uint32(period) * uint32(e) / uint32(n)
}
