package core

import (
	"errors"

	"leadscrew/protocol"
)

// Error codes carried by the "error" response
const (
	ErrCodeRange      = 1 // register access out of range
	ErrCodeReadOnly   = 2 // write to a read-only register
	ErrCodePitchIndex = 3 // catalog index out of range
	ErrCodeArgs       = 4 // malformed arguments
	ErrCodeConfig     = 5 // configuration rejected
)

// Chunk limits that keep a response inside one block
const (
	identifyChunkMax  = 40
	registersChunkMax = 48
)

// errorCode maps a handler error to its wire code
func errorCode(err error) uint32 {
	switch {
	case errors.Is(err, ErrRegisterRange):
		return ErrCodeRange
	case errors.Is(err, ErrReadOnlyRegister):
		return ErrCodeReadOnly
	case errors.Is(err, ErrPitchIndex):
		return ErrCodePitchIndex
	case errors.Is(err, protocol.ErrBufferTooSmall), errors.Is(err, protocol.ErrInvalidVLQ):
		return ErrCodeArgs
	default:
		return ErrCodeConfig
	}
}

// RegisterControllerCommands registers the host command set on reg.
// Registration order fixes the message IDs; identify_response and identify
// come first so a host can bootstrap from IDs 0 and 1.
func RegisterControllerCommands(reg *CommandRegistry, ctl *Controller) {
	h := &commandHandlers{reg: reg, ctl: ctl}

	reg.RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	reg.Register("identify", "offset=%u count=%c", h.identify)      // ID 1

	reg.RegisterResponse("error", "code=%c")
	reg.RegisterResponse("registers", "offset=%c data=%*s")
	reg.RegisterResponse("pitch", "index=%c unit=%c status=%c label=%*s")
	reg.RegisterResponse("status", "rpm=%hu pos=%hu output=%i err=%i mode=%c index=%c status=%c")

	reg.Register("read_registers", "offset=%c count=%c", h.readRegisters)
	reg.Register("write_registers", "offset=%c data=%*s", h.writeRegisters)
	reg.Register("get_pitch", "index=%c", h.getPitch)
	reg.Register("get_status", "", h.getStatus)
	reg.Register("cycle_pitch", "forward=%c", h.cyclePitch)
}

// InitCommands registers the command set on the global registry
func InitCommands(ctl *Controller) {
	RegisterControllerCommands(globalRegistry, ctl)
}

type commandHandlers struct {
	reg *CommandRegistry
	ctl *Controller
}

func (h *commandHandlers) sendError(err error) error {
	code := errorCode(err)
	DebugPrintln("[CMD] error " + err.Error())
	return h.reg.Send("error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, code)
	})
}

// identify returns a chunk of the message dictionary
func (h *commandHandlers) identify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dict := h.reg.Dictionary()
	start := min(int(offset), len(dict))
	end := min(start+min(int(count), identifyChunkMax), len(dict))
	chunk := dict[start:end]

	return h.reg.Send("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQString(output, chunk)
	})
}

func (h *commandHandlers) sendRegisters(offset, count int) error {
	mem, err := h.ctl.Registers().Read(offset, count)
	if err != nil {
		return h.sendError(err)
	}
	return h.reg.Send("registers", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(offset))
		protocol.EncodeVLQBytes(output, mem)
	})
}

func (h *commandHandlers) readRegisters(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return h.sendRegisters(int(offset), min(int(count), registersChunkMax))
}

// writeRegisters stores host data, applies it and answers with the
// registers as they read back afterwards
func (h *commandHandlers) writeRegisters(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	if err := h.ctl.Registers().Write(int(offset), payload); err != nil {
		return h.sendError(err)
	}
	if err := h.ctl.ApplySettings(); err != nil {
		return h.sendError(err)
	}
	return h.sendRegisters(int(offset), len(payload))
}

func (h *commandHandlers) getPitch(data *[]byte) error {
	index, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	conf := h.ctl.Configuration()
	p, err := conf.Pitch(int(index))
	if err != nil {
		return h.sendError(err)
	}
	status := conf.Verify(int(index))
	return h.reg.Send("pitch", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, index)
		protocol.EncodeVLQUint(output, uint32(p.Unit))
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQString(output, p.Label)
	})
}

func (h *commandHandlers) getStatus(data *[]byte) error {
	return h.sendStatus()
}

func (h *commandHandlers) sendStatus() error {
	h.ctl.Poll()
	regs := h.ctl.Registers()
	snap := h.ctl.Engine().Snapshot()
	return h.reg.Send("status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(regs.U16(RegRPM)))
		protocol.EncodeVLQUint(output, uint32(regs.U16(RegPos)))
		protocol.EncodeVLQInt(output, snap.OutputPosition)
		protocol.EncodeVLQInt(output, snap.Err)
		protocol.EncodeVLQUint(output, uint32(regs.U8(RegMode)))
		protocol.EncodeVLQUint(output, uint32(regs.U8(RegPitchIndex)))
		protocol.EncodeVLQUint(output, uint32(regs.U8(RegStatus)))
	})
}

// cyclePitch steps the catalog selection, skipping incompatible entries
func (h *commandHandlers) cyclePitch(data *[]byte) error {
	fwd, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	h.ctl.CyclePitch(fwd != 0)
	return h.sendStatus()
}
