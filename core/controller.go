package core

import "errors"

// ErrZeroPitch is returned when a gear register pair has a zero term
var ErrZeroPitch = errors.New("pitch numerator and denominator must be non-zero")

// settings mirrors the settings region as last committed
type settings struct {
	mode  uint8
	num   uint8
	den   uint8
	index uint8

	custom bool // pitch came from the gear registers, not the catalog
}

// Controller is the main loop side of the leadscrew. It owns the thread
// configuration and the register map, commits pitch changes to the engine
// after verifying them, and publishes state for the host.
type Controller struct {
	cfg     *MachineConfig
	catalog []PitchInfo
	conf    *Configuration

	enc     PositionEncoder
	gen     PulseGenerator
	engine  *Engine
	sampler *SpeedSampler
	timer   *Timer
	regs    *Registers

	committed settings
	rpm       uint16
	status    Compatibility
}

// NewController builds a controller around the encoder and pulse generator.
// The engine is created idle; call Init before enabling interrupts.
func NewController(cfg *MachineConfig, catalog []PitchInfo, enc PositionEncoder, gen PulseGenerator) (*Controller, error) {
	conf, err := NewConfiguration(cfg, catalog)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:     cfg,
		catalog: catalog,
		conf:    conf,
		enc:     enc,
		gen:     gen,
		engine:  NewEngine(enc, gen),
		sampler: NewSpeedSampler(cfg.SamplePeriodMs, cfg.SampleWindow),
		regs:    NewRegisters(),
	}, nil
}

// Init configures the pulse generator, starts the speed timer and commits
// the default pitch, or the first compatible one after it
func (c *Controller) Init() error {
	if err := c.configureGenerator(); err != nil {
		return err
	}
	c.regs.LoadConfig(c.cfg)

	c.sampler.Reset(c.enc.Count())
	c.timer = NewSpeedTimer(c.sampler, c.enc, nil)
	ScheduleTimer(c.timer)

	status, err := c.SelectPitch(c.conf.Index())
	if err != nil {
		return err
	}
	if status != ThreadOK {
		if !c.conf.CycleCompatible(true) {
			DebugPrintln("[ELS] no compatible pitch for this machine")
			c.publishSettings()
			return nil
		}
		c.commitSelected()
	}
	DebugPrintln("[ELS] ready, pitch " + c.conf.Thread().String())
	return nil
}

// Stop cancels the speed timer and idles the engine
func (c *Controller) Stop() {
	if c.timer != nil {
		CancelTimer(c.timer)
		c.timer = nil
	}
	c.SetRunning(false)
}

func (c *Controller) configureGenerator() error {
	return c.gen.Configure(c.cfg.StepDirHoldNs, c.cfg.StepPulseNs, c.cfg.InvertStep, c.cfg.InvertDir)
}

// SelectPitch verifies catalog entry i and commits it when compatible.
// An incompatible entry is reported and nothing changes.
func (c *Controller) SelectPitch(i int) (Compatibility, error) {
	if i < 0 || i >= c.conf.Len() {
		return ThreadTooLarge, ErrPitchIndex
	}
	status := c.conf.Verify(i)
	c.status = status
	if status != ThreadOK {
		c.publishSettings()
		return status, nil
	}
	c.conf.Select(i)
	c.commitSelected()
	return ThreadOK, nil
}

// CyclePitch moves to the next compatible catalog entry. Returns false when
// there is no other compatible entry.
func (c *Controller) CyclePitch(forward bool) bool {
	if !c.conf.CycleCompatible(forward) {
		return false
	}
	c.commitSelected()
	return true
}

func (c *Controller) commitSelected() {
	c.status = ThreadOK
	c.engine.ConfigureRatio(c.conf.CalculateRatio())
	c.committed.index = uint8(c.conf.Index())
	c.committed.custom = false
	c.committed.num, c.committed.den = 0, 0
	if v := c.conf.Thread().Value; v.Num() <= 0xFF && v.Den() <= 0xFF {
		c.committed.num = uint8(v.Num())
		c.committed.den = uint8(v.Den())
	}
	c.publishSettings()
	DebugPrintln("[ELS] pitch " + c.conf.Thread().String())
}

// SetPitch commits an arbitrary metric pitch of num/den mm, the form the
// gear registers carry
func (c *Controller) SetPitch(num, den uint8) (Compatibility, error) {
	if num == 0 || den == 0 {
		return ThreadTooSmall, ErrZeroPitch
	}
	r := c.conf.RatioForPitch(NewRatio(uint32(num), uint32(den)))
	status := VerifyRatio(r, CountMax)
	c.status = status
	if status == ThreadOK {
		c.engine.ConfigureRatio(r)
		c.committed.num = num
		c.committed.den = den
		c.committed.custom = true
	}
	c.publishSettings()
	return status, nil
}

// SetRunning starts or stops pulse output
func (c *Controller) SetRunning(run bool) {
	c.engine.SetRunning(run)
	if run {
		c.committed.mode = ModeRunning
	} else {
		c.committed.mode = ModeIdle
	}
	c.regs.SetU8(RegMode, c.committed.mode)
}

// publishSettings rewrites the settings region with the committed values,
// dropping any rejected host write
func (c *Controller) publishSettings() {
	c.regs.SetU8(RegMode, c.committed.mode)
	c.regs.SetU8(RegGearNum, c.committed.num)
	c.regs.SetU8(RegGearDenom, c.committed.den)
	c.regs.SetU8(RegPitchIndex, c.committed.index)
	c.regs.SetU8(RegStatus, uint8(c.status))
}

// ApplySettings acts on register writes made by the host since the last
// call. A configuration write reprograms the pulse generator and reseeds
// the engine; a settings write changes pitch or mode.
func (c *Controller) ApplySettings() error {
	dirty := c.regs.TakeDirty()

	if dirty&RegionConfiguration != 0 {
		if err := c.applyConfiguration(); err != nil {
			return err
		}
	}
	if dirty&RegionSettings == 0 {
		return nil
	}

	index := c.regs.U8(RegPitchIndex)
	num, den := c.regs.U8(RegGearNum), c.regs.U8(RegGearDenom)
	mode := c.regs.U8(RegMode)

	var err error
	switch {
	case index != c.committed.index:
		_, err = c.SelectPitch(int(index))
	case num != c.committed.num || den != c.committed.den:
		_, err = c.SetPitch(num, den)
	}
	if err != nil {
		c.publishSettings()
	}

	// mode applies even when the pitch part of the write was refused
	switch mode {
	case ModeIdle:
		c.SetRunning(false)
	case ModeRunning:
		// nothing to run until a pitch has been committed
		c.SetRunning(c.engine.Snapshot().N != 0)
	default:
		c.regs.SetU8(RegMode, c.committed.mode)
	}
	return err
}

func (c *Controller) applyConfiguration() error {
	next := *c.cfg
	c.regs.ApplyConfig(&next)
	conf, err := NewConfiguration(&next, c.catalog)
	if err != nil {
		c.regs.LoadConfig(c.cfg)
		return err
	}
	conf.Select(c.conf.Index())
	*c.cfg = next
	c.conf = conf
	if err := c.configureGenerator(); err != nil {
		return err
	}
	c.regs.LoadConfig(c.cfg)

	if c.committed.custom {
		status, err := c.SetPitch(c.committed.num, c.committed.den)
		if err != nil || status == ThreadOK {
			return err
		}
	} else if status, _ := c.SelectPitch(c.conf.Index()); status == ThreadOK {
		return nil
	}
	c.fallbackPitch()
	return nil
}

// fallbackPitch runs after a configuration change made the committed pitch
// infeasible. It commits the selected entry or the next compatible one;
// when nothing fits the gear is disengaged and the controller idles.
func (c *Controller) fallbackPitch() {
	status := c.status
	if c.conf.Verify(c.conf.Index()) == ThreadOK || c.conf.CycleCompatible(true) {
		c.commitSelected()
		c.status = status
		c.publishSettings()
		return
	}
	DebugPrintln("[ELS] no compatible pitch for this machine")
	c.engine.Disengage()
	c.committed.mode = ModeIdle
	c.committed.custom = false
	c.committed.num, c.committed.den = 0, 0
	c.publishSettings()
}

// Poll is one pass of the main loop: runs due timers and refreshes the
// state region. Returns true when a new RPM value was published.
func (c *Controller) Poll() bool {
	ProcessTimers()
	rpm, ok := c.sampler.TakeRPM(c.cfg.EncoderResolution)
	if ok {
		c.rpm = rpm
	}
	snap := c.engine.Snapshot()
	c.regs.SetState(c.rpm, c.enc.Count(), snap.OutputPosition)
	return ok
}

// RPM returns the last published spindle speed
func (c *Controller) RPM() uint16 {
	return c.rpm
}

// Status returns the compatibility of the last pitch request
func (c *Controller) Status() Compatibility {
	return c.status
}

// Thread returns the selected catalog entry
func (c *Controller) Thread() PitchInfo {
	return c.conf.Thread()
}

// Configuration returns the thread catalog and selection
func (c *Controller) Configuration() *Configuration {
	return c.conf
}

// Registers returns the register map served to the host
func (c *Controller) Registers() *Registers {
	return c.regs
}

// Engine returns the edge handler owner for interrupt wiring
func (c *Controller) Engine() *Engine {
	return c.engine
}

// Config returns the active machine configuration
func (c *Controller) Config() *MachineConfig {
	return c.cfg
}
