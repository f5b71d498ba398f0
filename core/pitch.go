package core

import "errors"

// PitchUnit tells how a pitch label is expressed
type PitchUnit uint8

const (
	PitchMetric PitchUnit = iota // millimetres per revolution
	PitchTPI                     // threads per inch
)

// ErrInvalidDecimal is returned for malformed pitch literals
var ErrInvalidDecimal = errors.New("invalid decimal pitch")

// String returns the unit suffix used in labels
func (u PitchUnit) String() string {
	switch u {
	case PitchMetric:
		return "mm"
	case PitchTPI:
		return "tpi"
	default:
		return "?"
	}
}

// PitchInfo is one selectable thread.
// Value is always the lead in millimetres per spindle revolution, exact.
type PitchInfo struct {
	Label string
	Value Ratio
	Unit  PitchUnit
}

// mmPerInch is 25.4 mm as a fraction
var mmPerInch = NewRatio(127, 5)

// maxDecimalDenominator bounds the fraction so it fits the 32-bit ratio
const maxDecimalDenominator = 1_000_000

// ParseDecimal converts a decimal literal to an exact fraction,
// e.g. "1.865" -> 373/200. Only digits and a single '.' are accepted.
func ParseDecimal(s string) (Ratio, error) {
	if s == "" {
		return Ratio{}, ErrInvalidDecimal
	}
	var num, den uint64 = 0, 1
	seenDot := false
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.':
			if seenDot {
				return Ratio{}, ErrInvalidDecimal
			}
			seenDot = true
		case c >= '0' && c <= '9':
			num = num*10 + uint64(c-'0')
			digits++
			if seenDot {
				den *= 10
				if den > maxDecimalDenominator {
					return Ratio{}, ErrInvalidDecimal
				}
			}
			if num > 0xFFFFFFFF {
				return Ratio{}, ErrInvalidDecimal
			}
		default:
			return Ratio{}, ErrInvalidDecimal
		}
	}
	if digits == 0 {
		return Ratio{}, ErrInvalidDecimal
	}
	return NewRatio(uint32(num), uint32(den)), nil
}

// ParseMetric builds a metric pitch from a decimal millimetre literal
func ParseMetric(s string) (PitchInfo, error) {
	v, err := ParseDecimal(s)
	if err != nil {
		return PitchInfo{}, err
	}
	if v.IsZero() {
		return PitchInfo{}, ErrInvalidDecimal
	}
	return PitchInfo{Label: s, Value: v, Unit: PitchMetric}, nil
}

// ParseTPI builds an imperial pitch from a threads-per-inch literal.
// The lead is 25.4 mm / tpi.
func ParseTPI(s string) (PitchInfo, error) {
	tpi, err := ParseDecimal(s)
	if err != nil {
		return PitchInfo{}, err
	}
	if tpi.IsZero() {
		return PitchInfo{}, ErrInvalidDecimal
	}
	return PitchInfo{Label: s, Value: mmPerInch.Div(tpi), Unit: PitchTPI}, nil
}

// ParsePitch accepts "<decimal>mm" or "<decimal>tpi"
func ParsePitch(s string) (PitchInfo, error) {
	switch {
	case len(s) > 3 && s[len(s)-3:] == "tpi":
		return ParseTPI(s[:len(s)-3])
	case len(s) > 2 && s[len(s)-2:] == "mm":
		return ParseMetric(s[:len(s)-2])
	default:
		return PitchInfo{}, ErrInvalidDecimal
	}
}

// Metric is ParseMetric for compile-time catalog literals; it panics on
// malformed input
func Metric(s string) PitchInfo {
	p, err := ParseMetric(s)
	if err != nil {
		panic("core: bad metric pitch literal " + s)
	}
	return p
}

// TPI is ParseTPI for compile-time catalog literals; it panics on
// malformed input
func TPI(s string) PitchInfo {
	p, err := ParseTPI(s)
	if err != nil {
		panic("core: bad tpi pitch literal " + s)
	}
	return p
}

// String renders the pitch with its unit, e.g. "1.25mm" or "20tpi"
func (p PitchInfo) String() string {
	return p.Label + p.Unit.String()
}

// DefaultPitchIndex is the catalog entry selected at power-up (1.0 mm)
const DefaultPitchIndex = 6

// DefaultCatalog returns the standard list of selectable threads:
// metric coarse and fine pitches followed by common imperial TPI.
func DefaultCatalog() []PitchInfo {
	return []PitchInfo{
		Metric("0.2"),
		Metric("0.25"),
		Metric("0.35"),
		Metric("0.4"),
		Metric("0.5"),
		Metric("0.75"),
		Metric("1"),
		Metric("1.25"),
		Metric("1.5"),
		Metric("1.75"),
		Metric("2"),
		Metric("2.5"),
		Metric("3"),
		Metric("3.5"),
		Metric("4"),
		TPI("40"),
		TPI("32"),
		TPI("28"),
		TPI("24"),
		TPI("20"),
		TPI("18"),
		TPI("16"),
		TPI("14"),
		TPI("13"),
		TPI("12"),
		TPI("11"),
		TPI("10"),
		TPI("9"),
		TPI("8"),
	}
}
