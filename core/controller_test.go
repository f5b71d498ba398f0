package core

import (
	"errors"
	"testing"
)

type controllerRig struct {
	ctl *Controller
	enc *SoftEncoder
	gen *SoftPulseGenerator
}

func newControllerRig(t *testing.T, cfg *MachineConfig) *controllerRig {
	t.Helper()
	resetTimers()

	enc := NewSoftEncoder(0)
	gen := NewSoftPulseGenerator(cfg.TimerClockHz, cfg.MinTimerCount)
	ctl, err := NewController(cfg, DefaultCatalog(), enc, gen)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	eng := ctl.Engine()
	gen.OnPulse = eng.HandlePulse
	enc.Trigger = func() { gen.Trigger() }
	enc.OnEdge = eng.HandleEdge

	if err := ctl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(ctl.Stop)
	return &controllerRig{ctl: ctl, enc: enc, gen: gen}
}

func TestControllerInitDefaultPitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())

	if r.ctl.Thread().Label != "1" {
		t.Errorf("selected %q, expected 1 mm", r.ctl.Thread().Label)
	}
	if g := r.ctl.Engine().Gear(); g.D != 12 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 12:5", g.D, g.N)
	}
	regs := r.ctl.Registers()
	if regs.U8(RegPitchIndex) != DefaultPitchIndex || regs.U8(RegGearNum) != 1 || regs.U8(RegGearDenom) != 1 {
		t.Errorf("settings registers = % X", regs.Bytes()[RegMode:RegPitchIndex+1])
	}
	if regs.U8(RegMode) != ModeIdle || r.ctl.Engine().Snapshot().Running {
		t.Error("controller should start idle")
	}
	if regs.U16(RegStepperResolution) != 2000 {
		t.Errorf("stepper resolution register = %d", regs.U16(RegStepperResolution))
	}
}

func TestControllerInitSkipsIncompatibleDefault(t *testing.T) {
	cfg := DefaultMachineConfig()
	cfg.LeadscrewPitchMM = "0.5"
	r := newControllerRig(t, cfg)

	// every entry from 1 mm up is too coarse for a 0.5 mm screw; the
	// search wraps to the finest pitch
	if r.ctl.Configuration().Index() != 0 {
		t.Errorf("selected index %d, expected 0", r.ctl.Configuration().Index())
	}
	if r.ctl.Status() != ThreadOK {
		t.Errorf("status %v", r.ctl.Status())
	}
	if g := r.ctl.Engine().Gear(); g.D != 3 || g.N != 1 {
		t.Errorf("gear %d:%d, expected 3:1", g.D, g.N)
	}
}

func TestControllerNoCompatiblePitch(t *testing.T) {
	cfg := DefaultMachineConfig()
	cfg.LeadscrewPitchMM = "0.01"
	r := newControllerRig(t, cfg)

	if r.ctl.Status() != ThreadTooLarge {
		t.Errorf("status %v, expected too_large", r.ctl.Status())
	}
	if r.ctl.Engine().Snapshot().N != 0 {
		t.Error("engine configured without a compatible pitch")
	}

	// Running is refused until a pitch is committed
	regs := r.ctl.Registers()
	if err := regs.Write(RegMode, []byte{ModeRunning}); err != nil {
		t.Fatal(err)
	}
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatal(err)
	}
	if regs.U8(RegMode) != ModeIdle || r.ctl.Engine().Snapshot().Running {
		t.Error("engine started without a pitch")
	}
}

func TestControllerSelectPitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())

	status, err := r.ctl.SelectPitch(11) // 2.5 mm
	if err != nil || status != ThreadTooLarge {
		t.Fatalf("2.5 mm: status %v err %v", status, err)
	}
	if r.ctl.Configuration().Index() != DefaultPitchIndex {
		t.Error("rejected pitch changed the selection")
	}
	regs := r.ctl.Registers()
	if regs.U8(RegStatus) != uint8(ThreadTooLarge) || regs.U8(RegPitchIndex) != DefaultPitchIndex {
		t.Errorf("registers after rejection: status %d index %d", regs.U8(RegStatus), regs.U8(RegPitchIndex))
	}
	if g := r.ctl.Engine().Gear(); g.D != 12 || g.N != 5 {
		t.Errorf("rejected pitch reached the engine: %d:%d", g.D, g.N)
	}

	status, err = r.ctl.SelectPitch(24) // 12 TPI
	if err != nil || status != ThreadOK {
		t.Fatalf("12 TPI: status %v err %v", status, err)
	}
	// 127/60 mm * 5/12
	if g := r.ctl.Engine().Gear(); g.D != 144 || g.N != 127 {
		t.Errorf("12 TPI gear %d:%d, expected 144:127", g.D, g.N)
	}
	if regs.U8(RegGearNum) != 127 || regs.U8(RegGearDenom) != 60 {
		t.Errorf("gear registers %d/%d", regs.U8(RegGearNum), regs.U8(RegGearDenom))
	}

	if _, err := r.ctl.SelectPitch(len(DefaultCatalog())); !errors.Is(err, ErrPitchIndex) {
		t.Errorf("expected ErrPitchIndex, got %v", err)
	}
}

func TestControllerCyclePitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())

	// 2 mm is the last compatible metric entry; the next one forward is
	// 40 TPI after skipping 2.5 to 4 mm
	r.ctl.SelectPitch(10)
	if !r.ctl.CyclePitch(true) {
		t.Fatal("CyclePitch found nothing")
	}
	if r.ctl.Configuration().Index() != 15 {
		t.Errorf("cycled to %d, expected 15", r.ctl.Configuration().Index())
	}
	if !r.ctl.CyclePitch(false) || r.ctl.Configuration().Index() != 10 {
		t.Errorf("cycled back to %d, expected 10", r.ctl.Configuration().Index())
	}
}

func TestControllerSetPitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())

	status, err := r.ctl.SetPitch(3, 2)
	if err != nil || status != ThreadOK {
		t.Fatalf("1.5 mm: status %v err %v", status, err)
	}
	if g := r.ctl.Engine().Gear(); g.D != 8 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 8:5", g.D, g.N)
	}

	status, err = r.ctl.SetPitch(5, 1)
	if err != nil || status != ThreadTooLarge {
		t.Errorf("5 mm: status %v err %v", status, err)
	}
	if g := r.ctl.Engine().Gear(); g.D != 8 || g.N != 5 {
		t.Errorf("rejected pitch reached the engine: %d:%d", g.D, g.N)
	}
	regs := r.ctl.Registers()
	if regs.U8(RegGearNum) != 3 || regs.U8(RegGearDenom) != 2 {
		t.Errorf("gear registers %d/%d after rejection", regs.U8(RegGearNum), regs.U8(RegGearDenom))
	}

	if _, err := r.ctl.SetPitch(0, 1); !errors.Is(err, ErrZeroPitch) {
		t.Errorf("expected ErrZeroPitch, got %v", err)
	}
}

func TestControllerApplySettings(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	regs := r.ctl.Registers()

	// mode, num, den, index: select 0.5 mm and start
	if err := regs.Write(RegMode, []byte{ModeRunning, 1, 1, 4}); err != nil {
		t.Fatal(err)
	}
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if g := r.ctl.Engine().Gear(); g.D != 24 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 24:5", g.D, g.N)
	}
	if !r.ctl.Engine().Snapshot().Running || regs.U8(RegMode) != ModeRunning {
		t.Error("engine not running")
	}
	if regs.U8(RegGearNum) != 1 || regs.U8(RegGearDenom) != 2 {
		t.Errorf("gear registers %d/%d, expected 1/2", regs.U8(RegGearNum), regs.U8(RegGearDenom))
	}

	// same index, new gear pair: custom 0.75 mm
	regs.Write(RegGearNum, []byte{3, 4})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if g := r.ctl.Engine().Gear(); g.D != 16 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 16:5", g.D, g.N)
	}

	// incompatible index is reported and the registers restored
	regs.Write(RegPitchIndex, []byte{12})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if regs.U8(RegStatus) != uint8(ThreadTooLarge) || regs.U8(RegPitchIndex) != 4 {
		t.Errorf("status %d index %d", regs.U8(RegStatus), regs.U8(RegPitchIndex))
	}

	regs.Write(RegPitchIndex, []byte{200})
	if err := r.ctl.ApplySettings(); !errors.Is(err, ErrPitchIndex) {
		t.Errorf("expected ErrPitchIndex, got %v", err)
	}
	if regs.U8(RegPitchIndex) != 4 {
		t.Errorf("index register %d not restored", regs.U8(RegPitchIndex))
	}

	// unknown mode reverts, idle stops
	regs.Write(RegMode, []byte{7})
	r.ctl.ApplySettings()
	if regs.U8(RegMode) != ModeRunning {
		t.Errorf("mode %d, expected the running mode to be kept", regs.U8(RegMode))
	}
	regs.Write(RegMode, []byte{ModeIdle})
	r.ctl.ApplySettings()
	if r.ctl.Engine().Snapshot().Running {
		t.Error("engine still running after idle write")
	}
}

func TestControllerApplyConfiguration(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	regs := r.ctl.Registers()

	// 400 pulses per motor revolution
	if err := regs.Write(RegStepperResolution, []byte{0x90, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	cfg := r.ctl.Config()
	if cfg.StepperFullSteps != 400 || cfg.StepperMicroSteps != 1 {
		t.Errorf("stepper %d x %d", cfg.StepperFullSteps, cfg.StepperMicroSteps)
	}
	// 1 mm / 2 mm * 400 / 2400
	if g := r.ctl.Engine().Gear(); g.D != 12 || g.N != 1 {
		t.Errorf("gear %d:%d, expected 12:1", g.D, g.N)
	}

	// a zero encoder resolution is refused and the registers restored
	regs.Write(RegEncoderResolution, []byte{0, 0})
	if err := r.ctl.ApplySettings(); !errors.Is(err, ErrZeroResolution) {
		t.Errorf("expected ErrZeroResolution, got %v", err)
	}
	if regs.U16(RegEncoderResolution) != 2400 || cfg.EncoderResolution != 2400 {
		t.Errorf("encoder resolution %d / %d after rejection", regs.U16(RegEncoderResolution), cfg.EncoderResolution)
	}
}

func TestControllerConfigurationFallsBackToCompatiblePitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	r.ctl.SetRunning(true)
	regs := r.ctl.Registers()

	// 8000 pulses per motor revolution: 1 mm now needs 5/3 pulses per count
	regs.Write(RegStepperResolution, []byte{0x40, 0x1F})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if r.ctl.Configuration().Index() != 0 || regs.U8(RegPitchIndex) != 0 {
		t.Errorf("selection %d, register %d, expected 0", r.ctl.Configuration().Index(), regs.U8(RegPitchIndex))
	}
	// 0.2 mm / 2 mm * 8000 / 2400
	if g := r.ctl.Engine().Gear(); g.D != 3 || g.N != 1 {
		t.Errorf("gear %d:%d, expected 3:1", g.D, g.N)
	}
	if regs.U8(RegStatus) != uint8(ThreadTooLarge) {
		t.Errorf("status %d, expected the refused pitch to be reported", regs.U8(RegStatus))
	}
	if !r.ctl.Engine().Snapshot().Running {
		t.Error("engine stopped although a compatible pitch was committed")
	}
}

func TestControllerConfigurationDisengagesWithoutCompatiblePitch(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	r.ctl.SetRunning(true)
	regs := r.ctl.Registers()

	// 60000 pulses per motor revolution: even 0.2 mm needs 5/2
	regs.Write(RegStepperResolution, []byte{0x60, 0xEA})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	snap := r.ctl.Engine().Snapshot()
	if snap.N != 0 || snap.Running || regs.U8(RegMode) != ModeIdle {
		t.Errorf("gear N=%d running=%v mode=%d, expected a disengaged idle engine", snap.N, snap.Running, regs.U8(RegMode))
	}
	r.enc.Move(100)
	if p := r.ctl.Engine().Snapshot().Pulses; p != snap.Pulses {
		t.Errorf("%d pulses issued while disengaged", p-snap.Pulses)
	}

	// running stays refused until a pitch is committed
	regs.Write(RegMode, []byte{ModeRunning})
	r.ctl.ApplySettings()
	if r.ctl.Engine().Snapshot().Running {
		t.Error("disengaged engine started")
	}

	// back to 2000 pulses: the selection is feasible again
	regs.Write(RegStepperResolution, []byte{0xD0, 0x07})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if g := r.ctl.Engine().Gear(); g.D != 12 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 12:5", g.D, g.N)
	}
}

func TestControllerModeAppliedWithRefusedGear(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	regs := r.ctl.Registers()

	// mode, num, den: start with a zero numerator
	regs.Write(RegMode, []byte{ModeRunning, 0, 1})
	if err := r.ctl.ApplySettings(); !errors.Is(err, ErrZeroPitch) {
		t.Errorf("expected ErrZeroPitch, got %v", err)
	}
	if !r.ctl.Engine().Snapshot().Running || regs.U8(RegMode) != ModeRunning {
		t.Error("mode from the same write was dropped")
	}
	if regs.U8(RegGearNum) != 1 || regs.U8(RegGearDenom) != 1 {
		t.Errorf("gear registers %d/%d not restored", regs.U8(RegGearNum), regs.U8(RegGearDenom))
	}
	if g := r.ctl.Engine().Gear(); g.D != 12 || g.N != 5 {
		t.Errorf("gear %d:%d, expected 12:5", g.D, g.N)
	}
}

func TestControllerCustomPitchSurvivesConfiguration(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	r.ctl.SetPitch(3, 2)

	regs := r.ctl.Registers()
	regs.Write(RegStepperResolution, []byte{0x90, 0x01})
	if err := r.ctl.ApplySettings(); err != nil {
		t.Fatal(err)
	}
	// 1.5 mm / 2 mm * 400 / 2400
	if g := r.ctl.Engine().Gear(); g.D != 8 || g.N != 1 {
		t.Errorf("gear %d:%d, expected 8:1", g.D, g.N)
	}
}

func TestControllerPoll(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())

	// 50 counts every 10 ms tick
	for i := 0; i < 16; i++ {
		r.enc.Move(50)
		AdvanceTime(10)
		published := r.ctl.Poll()
		if published != (i == 15) {
			t.Fatalf("tick %d: published=%v", i, published)
		}
	}
	// 800 counts in 160 ms on a 2400 count encoder
	if r.ctl.RPM() != 125 {
		t.Errorf("RPM = %d, expected 125", r.ctl.RPM())
	}
	regs := r.ctl.Registers()
	if regs.U16(RegRPM) != 125 || regs.U16(RegPos) != 800 {
		t.Errorf("state registers rpm=%d pos=%d", regs.U16(RegRPM), regs.U16(RegPos))
	}
	if r.ctl.Engine().Snapshot().Pulses != 0 {
		t.Error("idle controller issued pulses")
	}
}

func TestControllerRunningPublishesOutput(t *testing.T) {
	r := newControllerRig(t, DefaultMachineConfig())
	r.ctl.SetRunning(true)

	r.enc.Move(24)
	r.ctl.Poll()
	snap := r.ctl.Engine().Snapshot()
	if snap.OutputPosition != 10 {
		t.Errorf("output position %d after 24 counts at 12:5", snap.OutputPosition)
	}
	if r.ctl.Registers().OutputPos() != 10 {
		t.Errorf("output register %d", r.ctl.Registers().OutputPos())
	}

	r.ctl.Stop()
	r.enc.Move(24)
	if r.ctl.Engine().Snapshot().OutputPosition != 10 {
		t.Error("stopped controller kept pulsing")
	}
}
