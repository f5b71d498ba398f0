package core

import "testing"

func TestNextJumpWorkedTrace(t *testing.T) {
	// D=4, N=1, e=0, count=0
	fwd := NextJumpForward(4, 1, 0, 0)
	if fwd != (Jump{Count: 2, Delta: 2, Error: -2}) {
		t.Errorf("forward jump = %+v, expected {2 2 -2}", fwd)
	}
	rev := NextJumpReverse(4, 1, 0, 0)
	if rev != (Jump{Count: 65533, Delta: 3, Error: 1}) {
		t.Errorf("reverse jump = %+v, expected {65533 3 1}", rev)
	}

	state := GearState{D: 4, N: 1}
	var r Range

	r.NextJump(&state, false, 0)
	if r.Next != (Jump{2, 2, -2}) || r.Prev != (Jump{65535, 1, 1}) {
		t.Errorf("forward range = %+v", r)
	}

	r.NextJump(&state, true, 0)
	if r.Next != (Jump{65533, 3, 1}) || r.Prev != (Jump{1, 1, -2}) {
		t.Errorf("reverse range = %+v", r)
	}
}

func TestNextJumpPairsAreConsistent(t *testing.T) {
	// The prev boundary of one branch sits one count behind and differs
	// from the next error by D-N
	for d := int32(2); d < 40; d++ {
		for n := int32(1); n < d; n++ {
			state := GearState{D: d, N: n}
			var r Range
			r.NextJump(&state, false, 1000)
			if r.Prev.Count != 999 || r.Prev.Error != r.Next.Error+d-n {
				t.Fatalf("d=%d n=%d forward prev %+v next %+v", d, n, r.Prev, r.Next)
			}
			r.NextJump(&state, true, 1000)
			if r.Prev.Count != 1001 || r.Prev.Error != r.Next.Error-d+n {
				t.Fatalf("d=%d n=%d reverse prev %+v next %+v", d, n, r.Prev, r.Next)
			}
		}
	}
}

func TestNextJumpErrorBounded(t *testing.T) {
	for d := int32(2); d <= 64; d++ {
		for n := int32(1); n < d; n++ {
			for e := -d + 1; e < d; e++ {
				f := NextJumpForward(d, n, e, 100)
				if f.Error <= -d || f.Error >= d {
					t.Fatalf("forward d=%d n=%d e=%d gave error %d", d, n, e, f.Error)
				}
				r := NextJumpReverse(d, n, e, 100)
				if r.Error <= -d || r.Error >= d {
					t.Fatalf("reverse d=%d n=%d e=%d gave error %d", d, n, e, r.Error)
				}
			}
		}
	}
}

func TestNextJumpAcrossWrap(t *testing.T) {
	j := NextJumpForward(12, 5, 0, 65535)
	// k = ceil(12/10) = 2
	if j.Count != 1 || j.Delta != 2 || j.Error != -2 {
		t.Errorf("forward across wrap = %+v", j)
	}
	j = NextJumpReverse(12, 5, 0, 0)
	// k = 1 + floor(12/10) = 2
	if j.Count != 65534 || j.Delta != 2 || j.Error != 2 {
		t.Errorf("reverse across wrap = %+v", j)
	}
}

func TestSeedFollowsDirection(t *testing.T) {
	var state GearState
	var r Range

	state.Err = 7
	r.Seed(&state, 12, 5, 500, false)
	if state.Err != 0 || state.D != 12 || state.N != 5 {
		t.Errorf("seed state = %+v", state)
	}
	if r.Next != NextJumpForward(12, 5, 0, 500) || r.Prev != NextJumpReverse(12, 5, 0, 500) {
		t.Errorf("forward seed = %+v", r)
	}

	r.Seed(&state, 12, 5, 500, true)
	if r.Next != NextJumpReverse(12, 5, 0, 500) || r.Prev != NextJumpForward(12, 5, 0, 500) {
		t.Errorf("reverse seed = %+v", r)
	}
}

func TestSeedRejectsZeroRatio(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for n=0")
		}
	}()
	var state GearState
	var r Range
	r.Seed(&state, 4, 0, 0, false)
}

func TestPhaseDelay(t *testing.T) {
	testCases := []struct {
		period   uint16
		e, n     int32
		expected uint32
	}{
		{1000, -5, 4, 1250},
		{1000, 5, 4, 1250},
		{1000, 0, 4, 0},
		{999, 1, 2, 499},
		{65535, 11, 1, 720885},
	}
	for _, tc := range testCases {
		if got := PhaseDelay(tc.period, tc.e, tc.n); got != tc.expected {
			t.Errorf("PhaseDelay(%d, %d, %d) = %d, expected %d", tc.period, tc.e, tc.n, got, tc.expected)
		}
	}
}

func TestPhaseDelayZeroNumeratorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for n=0")
		}
	}()
	PhaseDelay(100, 1, 0)
}
