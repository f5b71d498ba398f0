//go:build rp2040

package main

import (
	"machine"
	"time"

	"leadscrew/core"
	"leadscrew/protocol"
)

// Board wiring
const (
	pinEncoderA = machine.GPIO2
	pinEncoderB = machine.GPIO3
	pinStep     = machine.GPIO6
	pinDir      = machine.GPIO7
	pinHMIClk   = machine.GPIO10
	pinHMIDio   = machine.GPIO11
	pinCycle    = machine.GPIO14 // pitch cycle button, active low
	pinRunLED   = machine.LED
)

// Pulse timing runs in microseconds: the PIO program executes one
// instruction per microsecond
const (
	pulseClockHz  = 1000000
	pulseMinCount = 2
)

var (
	inputBuffer  *protocol.StreamBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	controller *core.Controller

	// Debug counters
	messagesReceived uint32
	msgerrors        uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Disable the watchdog left running by a previous reset
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitClock()
	InitDebugUART()

	cfg := core.DefaultMachineConfig()
	cfg.TimerClockHz = pulseClockHz
	cfg.MinTimerCount = pulseMinCount

	encoder := NewQuadratureEncoder(pinEncoderA, pinEncoderB, pulseClockHz)
	stepgen, err := NewPIOPulseGenerator(0, pinStep, pinDir, cfg)
	if err != nil {
		core.DebugPrintln("[ELS] PIO init failed: " + err.Error())
		return
	}

	controller, err = core.NewController(cfg, core.DefaultCatalog(), encoder, stepgen)
	if err != nil {
		core.DebugPrintln("[ELS] bad machine config: " + err.Error())
		return
	}
	stepgen.OnPulse(controller.Engine().HandlePulse)
	encoder.OnEdge = controller.Engine().HandleEdge
	encoder.Trigger = stepgen.Trigger

	if err := controller.Init(); err != nil {
		core.DebugPrintln("[ELS] init failed: " + err.Error())
		return
	}
	if err := encoder.Start(); err != nil {
		core.DebugPrintln("[ELS] encoder interrupts: " + err.Error())
		return
	}

	hmi := NewHMI(pinHMIClk, pinHMIDio, pinCycle, pinRunLED)
	hmi.ShowPitch(controller.Thread())

	core.InitCommands(controller)

	inputBuffer = protocol.NewStreamBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		// Clear buffers on host reset
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
					core.DumpTimingRing()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				transport.Receive(inputBuffer)
				messagesReceived++
			}
			if outputBuffer.Len() > 0 {
				writeUSB()
			}

			if controller.Poll() {
				snap := controller.Engine().Snapshot()
				hmi.ShowRPM(controller.RPM(), !snap.Reverse)
			}
			if hmi.CyclePressed() {
				controller.CyclePitch(true)
				hmi.ShowPitch(controller.Thread())
			}
			hmi.SetRunning(controller.Engine().Snapshot().Running)
		}()

		// Yield to the USB reader
		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves USB bytes into the input buffer
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// First byte after a disconnect starts a fresh session
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB writes the output buffer to USB. Repeated failures mark the
// link as disconnected and drop stale data.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
