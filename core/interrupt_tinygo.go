//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks interrupts so the encoder edge handler cannot
// observe a half-written gear configuration. Returns the previous mask.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts restores the mask saved by disableInterrupts
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
