package core

import "sync/atomic"

// SpeedSampler measures spindle speed from the raw encoder counter.
// Every tick it adds the counter movement since the previous tick to a
// running sum; every window ticks the sum is published and restarted.
type SpeedSampler struct {
	periodMs uint32 // tick period
	window   uint32 // ticks per published sum

	lastReading Count
	sampleIndex uint32
	runningSum  uint32

	sum   atomic.Uint32 // last completed window
	ready atomic.Bool   // new window since the last TakeRPM
}

// Default sampling: 10 ms ticks, 16 ticks per window
const (
	DefaultSamplePeriodMs = 10
	DefaultSampleWindow   = 16
)

// NewSpeedSampler creates a sampler ticking every periodMs with the given
// window size
func NewSpeedSampler(periodMs, window uint32) *SpeedSampler {
	if periodMs == 0 || window == 0 {
		panic("core: speed sampler needs a non-zero period and window")
	}
	return &SpeedSampler{periodMs: periodMs, window: window}
}

// PeriodMs returns the tick period
func (s *SpeedSampler) PeriodMs() uint32 {
	return s.periodMs
}

// Window returns the number of ticks per window
func (s *SpeedSampler) Window() uint32 {
	return s.window
}

// Reset restarts the window and takes current as the reference reading
func (s *SpeedSampler) Reset(current Count) {
	s.lastReading = current
	s.sampleIndex = 0
	s.runningSum = 0
}

// convertSample returns the wrap-corrected movement since the last tick
func (s *SpeedSampler) convertSample(current Count) uint16 {
	d := current.Diff(s.lastReading)
	s.lastReading = current
	return d
}

// Process accumulates one tick. Returns true when a window completed and
// a new RPM value is available.
func (s *SpeedSampler) Process(current Count) bool {
	s.runningSum += uint32(s.convertSample(current))
	s.sampleIndex++
	if s.sampleIndex < s.window {
		return false
	}
	s.sum.Store(s.runningSum)
	s.ready.Store(true)
	s.sampleIndex = 0
	s.runningSum = 0
	return true
}

// Sum returns the counter movement over the last completed window
func (s *SpeedSampler) Sum() uint32 {
	return s.sum.Load()
}

// RPM converts the last window into revolutions per minute:
// sum * (60000 / periodMs) / (encoderResolution * window), truncated.
func (s *SpeedSampler) RPM(encoderResolution uint32) uint16 {
	if encoderResolution == 0 {
		return 0
	}
	periodsPerMin := 60000 / s.periodMs
	rpm := uint64(s.sum.Load()) * uint64(periodsPerMin) / (uint64(encoderResolution) * uint64(s.window))
	return uint16(rpm)
}

// TakeRPM returns the RPM and true if a window completed since the last call
func (s *SpeedSampler) TakeRPM(encoderResolution uint32) (uint16, bool) {
	if !s.ready.Swap(false) {
		return 0, false
	}
	return s.RPM(encoderResolution), true
}

// NewSpeedTimer builds a periodic timer that samples enc every period of
// the sampler. onUpdate, if set, runs when a window completes.
func NewSpeedTimer(s *SpeedSampler, enc PositionEncoder, onUpdate func()) *Timer {
	period := TicksFromMS(s.periodMs)
	if period == 0 {
		period = 1
	}
	t := &Timer{WakeTime: GetTime() + period}
	t.Handler = func(t *Timer) uint8 {
		if s.Process(enc.Count()) {
			RecordTiming(EvtRPM, s.lastReading, int32(s.Sum()), int32(s.window))
			if onUpdate != nil {
				onUpdate()
			}
		}
		t.WakeTime += period
		return SF_RESCHEDULE
	}
	return t
}
