package core

import "errors"

// Compatibility is the result of checking a pitch against the timers
type Compatibility uint8

const (
	ThreadOK       Compatibility = iota
	ThreadTooLarge               // more than one pulse per encoder count
	ThreadTooSmall               // pulses too far apart for the 16-bit compare
)

// ErrPitchIndex is returned when a catalog index is out of range
var ErrPitchIndex = errors.New("pitch index out of range")

func (c Compatibility) String() string {
	switch c {
	case ThreadOK:
		return "ok"
	case ThreadTooLarge:
		return "too_large"
	case ThreadTooSmall:
		return "too_small"
	default:
		return "unknown"
	}
}

// Configuration holds the thread catalog, the current selection and the
// machine ratios used to turn a pitch into a pulse ratio
type Configuration struct {
	catalog []PitchInfo
	index   int

	leadscrew   Ratio
	encoder     Ratio
	stepsPerRev Ratio
}

// NewConfiguration builds a configuration selecting DefaultPitchIndex,
// or the first entry when the catalog is shorter
func NewConfiguration(cfg *MachineConfig, catalog []PitchInfo) (*Configuration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(catalog) == 0 {
		return nil, ErrPitchIndex
	}
	c := &Configuration{
		catalog:     catalog,
		leadscrew:   cfg.Leadscrew(),
		encoder:     cfg.EncoderCounts(),
		stepsPerRev: cfg.StepsPerRev(),
	}
	if DefaultPitchIndex < len(catalog) {
		c.index = DefaultPitchIndex
	}
	return c, nil
}

// Len returns the number of catalog entries
func (c *Configuration) Len() int {
	return len(c.catalog)
}

// Index returns the selected entry
func (c *Configuration) Index() int {
	return c.index
}

// Thread returns the selected pitch
func (c *Configuration) Thread() PitchInfo {
	return c.catalog[c.index]
}

// Pitch returns the catalog entry at i
func (c *Configuration) Pitch(i int) (PitchInfo, error) {
	if i < 0 || i >= len(c.catalog) {
		return PitchInfo{}, ErrPitchIndex
	}
	return c.catalog[i], nil
}

// Cycle moves the selection by one entry, wrapping at both ends
func (c *Configuration) Cycle(forward bool) {
	c.index = c.step(c.index, forward)
}

func (c *Configuration) step(i int, forward bool) int {
	if forward {
		i++
		if i == len(c.catalog) {
			i = 0
		}
	} else {
		i--
		if i < 0 {
			i = len(c.catalog) - 1
		}
	}
	return i
}

// CycleCompatible moves to the next entry in the given direction that
// verifies OK. Returns false, leaving the selection unchanged, when no
// other entry is usable.
func (c *Configuration) CycleCompatible(forward bool) bool {
	i := c.index
	for range c.catalog {
		i = c.step(i, forward)
		if i == c.index {
			break
		}
		if c.Verify(i) == ThreadOK {
			c.index = i
			return true
		}
	}
	return false
}

// Select sets the selection directly. The entry is not verified.
func (c *Configuration) Select(i int) error {
	if i < 0 || i >= len(c.catalog) {
		return ErrPitchIndex
	}
	c.index = i
	return nil
}

// RatioForPitch returns stepper pulses per encoder count for a lead in mm:
// (pitch / leadscrew) * (stepsPerRev / encoderCounts)
func (c *Configuration) RatioForPitch(pitch Ratio) Ratio {
	return pitch.Div(c.leadscrew).Mul(c.stepsPerRev).Div(c.encoder)
}

// CalculateRatio returns the pulse ratio for the selected pitch
func (c *Configuration) CalculateRatio() Ratio {
	return c.RatioForPitch(c.Thread().Value)
}

// RatioFor returns the pulse ratio of catalog entry i
func (c *Configuration) RatioFor(i int) (Ratio, error) {
	p, err := c.Pitch(i)
	if err != nil {
		return Ratio{}, err
	}
	return c.RatioForPitch(p.Value), nil
}

// Verify checks catalog entry i against a 16-bit pulse timing counter.
// An out-of-range index reports ThreadTooLarge.
func (c *Configuration) Verify(i int) Compatibility {
	r, err := c.RatioFor(i)
	if err != nil {
		return ThreadTooLarge
	}
	return VerifyRatio(r, CountMax)
}

// VerifyRatio checks a pulse ratio n/d against a counter whose largest
// value is counterMax. n >= d cannot be tracked one boundary at a time;
// boundaries further apart than half the counter cannot be armed as a
// next/prev pair.
func VerifyRatio(r Ratio, counterMax uint32) Compatibility {
	n, d := r.Num(), r.Den()
	if n >= d {
		return ThreadTooLarge
	}
	if n == 0 {
		return ThreadTooSmall
	}
	if (d+n-1)/n > counterMax/2 {
		return ThreadTooSmall
	}
	return ThreadOK
}
