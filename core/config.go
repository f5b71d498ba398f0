package core

import (
	"encoding/json"
	"errors"
	"math"
)

// MachineConfig describes the lathe: leadscrew, spindle encoder, stepper
// drive and the timers used to generate pulses
type MachineConfig struct {
	LeadscrewPitchMM string `json:"leadscrew_pitch_mm"` // decimal literal, e.g. "2"

	EncoderResolution uint32    `json:"encoder_resolution"` // counts per encoder revolution
	EncoderGearing    [2]uint32 `json:"encoder_gearing"`    // encoder revs : spindle revs

	StepperFullSteps  uint32    `json:"stepper_full_steps"`
	StepperMicroSteps uint32    `json:"stepper_micro_steps"`
	StepperGearing    [2]uint32 `json:"stepper_gearing"` // motor revs : leadscrew revs

	StepPulseNs   uint32 `json:"step_pulse_ns"`
	StepDirHoldNs uint32 `json:"step_dir_hold_ns"`
	InvertStep    bool   `json:"invert_step"`
	InvertDir     bool   `json:"invert_dir"`

	TimerClockHz  uint32 `json:"timer_clock_hz"`  // pulse timer clock after prescaling
	MinTimerCount uint32 `json:"min_timer_count"` // smallest programmable delay

	SamplePeriodMs uint32 `json:"sample_period_ms"`
	SampleWindow   uint32 `json:"sample_window"`
}

var (
	ErrZeroResolution = errors.New("encoder and stepper resolution must be non-zero")
	ErrZeroGearing    = errors.New("gearing terms must be non-zero")
	ErrConfigOverflow = errors.New("resolution times gearing exceeds 32 bits")
)

// DefaultMachineConfig returns the reference build: 2 mm leadscrew,
// 2400 count encoder, 200 step motor at 10 microsteps
func DefaultMachineConfig() *MachineConfig {
	return &MachineConfig{
		LeadscrewPitchMM:  "2",
		EncoderResolution: 2400,
		EncoderGearing:    [2]uint32{1, 1},
		StepperFullSteps:  200,
		StepperMicroSteps: 10,
		StepperGearing:    [2]uint32{1, 1},
		StepPulseNs:       2500,
		StepDirHoldNs:     5000,
		InvertStep:        false,
		InvertDir:         true,
		TimerClockHz:      36000000,
		MinTimerCount:     5,
		SamplePeriodMs:    DefaultSamplePeriodMs,
		SampleWindow:      DefaultSampleWindow,
	}
}

// LoadMachineConfig parses a JSON configuration. Fields missing from the
// document keep the reference values.
func LoadMachineConfig(jsonData []byte) (*MachineConfig, error) {
	config := DefaultMachineConfig()

	err := json.Unmarshal(jsonData, config)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills zeroed numeric fields with the reference values
func applyDefaults(config *MachineConfig) {
	def := DefaultMachineConfig()
	if config.LeadscrewPitchMM == "" {
		config.LeadscrewPitchMM = def.LeadscrewPitchMM
	}
	if config.EncoderGearing == [2]uint32{} {
		config.EncoderGearing = def.EncoderGearing
	}
	if config.StepperGearing == [2]uint32{} {
		config.StepperGearing = def.StepperGearing
	}
	if config.StepperMicroSteps == 0 {
		config.StepperMicroSteps = 1
	}
	if config.TimerClockHz == 0 {
		config.TimerClockHz = def.TimerClockHz
	}
	if config.MinTimerCount == 0 {
		config.MinTimerCount = def.MinTimerCount
	}
	if config.SamplePeriodMs == 0 {
		config.SamplePeriodMs = def.SamplePeriodMs
	}
	if config.SampleWindow == 0 {
		config.SampleWindow = def.SampleWindow
	}
}

// Validate checks the fields the ratio arithmetic divides by
func (c *MachineConfig) Validate() error {
	if c.EncoderResolution == 0 || c.StepperFullSteps == 0 || c.StepperMicroSteps == 0 {
		return ErrZeroResolution
	}
	for _, g := range [][2]uint32{c.EncoderGearing, c.StepperGearing} {
		if g[0] == 0 || g[1] == 0 {
			return ErrZeroGearing
		}
	}
	if uint64(c.EncoderResolution)*uint64(c.EncoderGearing[0]) > math.MaxUint32 ||
		uint64(c.StepperFullSteps)*uint64(c.StepperMicroSteps)*uint64(c.StepperGearing[0]) > math.MaxUint32 {
		return ErrConfigOverflow
	}
	lead, err := ParseDecimal(c.LeadscrewPitchMM)
	if err != nil {
		return err
	}
	if lead.IsZero() {
		return ErrInvalidDecimal
	}
	return nil
}

// Leadscrew returns the leadscrew pitch in mm. The config must be valid.
func (c *MachineConfig) Leadscrew() Ratio {
	lead, err := ParseDecimal(c.LeadscrewPitchMM)
	if err != nil || lead.IsZero() {
		panic("core: invalid leadscrew pitch " + c.LeadscrewPitchMM)
	}
	return lead
}

// EncoderCounts returns encoder counts per spindle revolution
func (c *MachineConfig) EncoderCounts() Ratio {
	return NewRatio(c.EncoderResolution*c.EncoderGearing[0], c.EncoderGearing[1])
}

// StepsPerRev returns stepper pulses per leadscrew revolution
func (c *MachineConfig) StepsPerRev() Ratio {
	return NewRatio(c.StepperFullSteps*c.StepperMicroSteps*c.StepperGearing[0], c.StepperGearing[1])
}

// StepperResolution returns pulses per motor revolution
func (c *MachineConfig) StepperResolution() uint32 {
	return c.StepperFullSteps * c.StepperMicroSteps
}
