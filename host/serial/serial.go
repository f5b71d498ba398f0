package serial

import (
	"io"
	"time"
)

// Port is the byte link to the leadscrew controller. Open returns a
// native port; tests substitute one end of a net.Pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC links ignore it
	Baud int

	// ReadTimeout bounds a single Read; zero blocks until data arrives
	ReadTimeout time.Duration
}

// DefaultBaud matches the controller's UART console
const DefaultBaud = 115200

// DefaultConfig returns the configuration used by els-host
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 50 * time.Millisecond,
	}
}
