//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures the USB CDC serial port carrying the host protocol
func InitUSB() {
	// machine.Serial is USB CDC on the RP2040; the descriptors come from
	// the TinyGo runtime
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes multiple bytes to USB
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
