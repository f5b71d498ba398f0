package core

// Count is a reading of the free-running 16-bit encoder counter.
// Arithmetic on Count is modulo 2^16: Add and Sub wrap exactly like the
// hardware counter does, so a boundary scheduled past the wrap point is
// still hit by the compare channel.
type Count uint16

const (
	// CountRange is the number of distinct counter values
	CountRange = 1 << 16

	// CountMax is the largest counter value
	CountMax = CountRange - 1
)

// Add returns c+k modulo 2^16
func (c Count) Add(k uint16) Count {
	return c + Count(k)
}

// Sub returns c-k modulo 2^16
func (c Count) Sub(k uint16) Count {
	return c - Count(k)
}

// Diff returns the magnitude of the counter movement between two readings.
// A raw difference larger than half the range is taken as a wrap and
// replaced by its complement, so 65530 -> 10 reads as 16 counts.
func (c Count) Diff(prev Count) uint16 {
	var d uint32
	if c > prev {
		d = uint32(c - prev)
	} else {
		d = uint32(prev - c)
	}
	if d > CountMax/2 {
		d = CountRange - d
	}
	return uint16(d)
}
