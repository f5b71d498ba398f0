package core

import "math"

// Exact fraction arithmetic for pitch, gearing and resolution ratios.
// All values are kept in lowest terms so that the gear engine always
// sees the reduced pulse ratio D:N.

// Ratio is an unsigned fraction stored in lowest terms
type Ratio struct {
	num uint32
	den uint32
}

// gcd returns the greatest common divisor of a and b
func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// NewRatio creates a reduced ratio num/den. A zero denominator panics.
func NewRatio(num, den uint32) Ratio {
	if den == 0 {
		panic("core: ratio with zero denominator")
	}
	if num == 0 {
		return Ratio{num: 0, den: 1}
	}
	g := gcd(num, den)
	return Ratio{num: num / g, den: den / g}
}

// WholeRatio returns v/1
func WholeRatio(v uint32) Ratio {
	return Ratio{num: v, den: 1}
}

// Num returns the reduced numerator
func (r Ratio) Num() uint32 {
	return r.num
}

// Den returns the reduced denominator.
// The zero value of Ratio reports 1 so it behaves as 0/1.
func (r Ratio) Den() uint32 {
	if r.den == 0 {
		return 1
	}
	return r.den
}

// IsZero reports whether the ratio has a zero value
func (r Ratio) IsZero() bool {
	return r.num == 0
}

// Mul returns r*o in lowest terms.
// Factors are cross-reduced first so intermediate products stay small.
// A product that still needs more than 32 bits panics.
func (r Ratio) Mul(o Ratio) Ratio {
	if r.num == 0 || o.num == 0 {
		return Ratio{num: 0, den: 1}
	}
	g1 := gcd(r.num, o.Den())
	g2 := gcd(o.num, r.Den())
	num := uint64(r.num/g1) * uint64(o.num/g2)
	den := uint64(r.Den()/g2) * uint64(o.Den()/g1)
	if num > math.MaxUint32 || den > math.MaxUint32 {
		panic("core: ratio product overflows 32 bits")
	}
	return NewRatio(uint32(num), uint32(den))
}

// Div returns r/o in lowest terms. Dividing by a zero ratio panics.
func (r Ratio) Div(o Ratio) Ratio {
	if o.num == 0 {
		panic("core: ratio division by zero")
	}
	return r.Mul(Ratio{num: o.Den(), den: o.num})
}

// Equal compares two reduced ratios
func (r Ratio) Equal(o Ratio) bool {
	return r.num == o.num && r.Den() == o.Den()
}

// String formats the ratio as "num/den"
func (r Ratio) String() string {
	return utoa(r.num) + "/" + utoa(r.Den())
}
