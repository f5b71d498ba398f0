package core

import (
	"encoding/binary"
	"errors"
)

// Register map exposed to an external controller. Byte addressed,
// little-endian. Only the configuration and settings regions are
// writable.
const (
	RegVersion = 0 // 1B protocol version

	RegEncoderResolution = 10 // 2B counts/rev
	RegStepperResolution = 12 // 2B pulses/rev
	RegStepperPulseNs    = 14 // 2B
	RegStepperDwellNs    = 16 // 2B
	RegStepperFlags      = 18 // 1B bit0 invert-step, bit1 invert-dir

	RegMode       = 30 // 1B 0=idle, 1=running
	RegGearNum    = 31 // 1B pitch numerator (mm)
	RegGearDenom  = 32 // 1B pitch denominator
	RegPitchIndex = 33 // 1B catalog selection

	RegRPM       = 50 // 2B last computed RPM
	RegPos       = 52 // 2B last encoder count
	RegOutputPos = 54 // 2B stepper pulses issued, signed
	RegStatus    = 56 // 1B compatibility of the last pitch request

	RegisterMapSize = 64
)

// Writable regions, [start, end)
const (
	regConfigStart   = 10
	regConfigEnd     = 19
	regSettingsStart = 30
	regSettingsEnd   = 34
)

const (
	ProtocolVersion = 1

	FlagInvertStep = 1 << 0
	FlagInvertDir  = 1 << 1

	ModeIdle    = 0
	ModeRunning = 1
)

var (
	ErrRegisterRange    = errors.New("register access out of range")
	ErrReadOnlyRegister = errors.New("register is read-only")
)

// Region identifies which part of the map a write touched
type Region uint8

const (
	RegionConfiguration Region = 1 << iota
	RegionSettings
)

// Registers is the byte image of the register map
type Registers struct {
	mem   [RegisterMapSize]byte
	dirty Region
}

// NewRegisters creates a map with the version field set
func NewRegisters() *Registers {
	r := &Registers{}
	r.mem[RegVersion] = ProtocolVersion
	return r
}

// Read returns a copy of count bytes at offset
func (r *Registers) Read(offset, count int) ([]byte, error) {
	if offset < 0 || count < 0 || offset+count > RegisterMapSize {
		return nil, ErrRegisterRange
	}
	out := make([]byte, count)
	copy(out, r.mem[offset:offset+count])
	return out, nil
}

func regionOf(offset, count int) (Region, bool) {
	end := offset + count
	switch {
	case offset >= regConfigStart && end <= regConfigEnd:
		return RegionConfiguration, true
	case offset >= regSettingsStart && end <= regSettingsEnd:
		return RegionSettings, true
	default:
		return 0, false
	}
}

// Write stores data at offset from an external controller. A write must
// fall entirely within one writable region.
func (r *Registers) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > RegisterMapSize {
		return ErrRegisterRange
	}
	region, ok := regionOf(offset, len(data))
	if !ok {
		return ErrReadOnlyRegister
	}
	copy(r.mem[offset:], data)
	r.dirty |= region
	return nil
}

// TakeDirty returns and clears the regions written since the last call
func (r *Registers) TakeDirty() Region {
	d := r.dirty
	r.dirty = 0
	return d
}

// Bytes returns a copy of the full map
func (r *Registers) Bytes() []byte {
	out := make([]byte, RegisterMapSize)
	copy(out, r.mem[:])
	return out
}

// U8 reads a byte register
func (r *Registers) U8(offset int) uint8 {
	return r.mem[offset]
}

// U16 reads a little-endian 16-bit register
func (r *Registers) U16(offset int) uint16 {
	return binary.LittleEndian.Uint16(r.mem[offset:])
}

// SetU8 writes a byte register from the firmware side
func (r *Registers) SetU8(offset int, v uint8) {
	r.mem[offset] = v
}

// SetU16 writes a little-endian 16-bit register from the firmware side
func (r *Registers) SetU16(offset int, v uint16) {
	binary.LittleEndian.PutUint16(r.mem[offset:], v)
}

// LoadConfig publishes the machine configuration
func (r *Registers) LoadConfig(cfg *MachineConfig) {
	r.SetU16(RegEncoderResolution, uint16(cfg.EncoderResolution))
	r.SetU16(RegStepperResolution, uint16(cfg.StepperResolution()))
	r.SetU16(RegStepperPulseNs, uint16(cfg.StepPulseNs))
	r.SetU16(RegStepperDwellNs, uint16(cfg.StepDirHoldNs))
	var flags uint8
	if cfg.InvertStep {
		flags |= FlagInvertStep
	}
	if cfg.InvertDir {
		flags |= FlagInvertDir
	}
	r.SetU8(RegStepperFlags, flags)
}

// ApplyConfig copies the configuration region into cfg
func (r *Registers) ApplyConfig(cfg *MachineConfig) {
	cfg.EncoderResolution = uint32(r.U16(RegEncoderResolution))
	res := uint32(r.U16(RegStepperResolution))
	if res != cfg.StepperResolution() {
		cfg.StepperFullSteps = res
		cfg.StepperMicroSteps = 1
	}
	cfg.StepPulseNs = uint32(r.U16(RegStepperPulseNs))
	cfg.StepDirHoldNs = uint32(r.U16(RegStepperDwellNs))
	flags := r.U8(RegStepperFlags)
	cfg.InvertStep = flags&FlagInvertStep != 0
	cfg.InvertDir = flags&FlagInvertDir != 0
}

// SetState publishes the live values of the state region
func (r *Registers) SetState(rpm uint16, pos Count, output int32) {
	r.SetU16(RegRPM, rpm)
	r.SetU16(RegPos, uint16(pos))
	r.SetU16(RegOutputPos, uint16(int16(output)))
}

// OutputPos returns the signed output position register
func (r *Registers) OutputPos() int16 {
	return int16(r.U16(RegOutputPos))
}
