// Package client talks to a leadscrew controller over the block protocol.
// It learns message IDs from the controller's dictionary and exposes the
// register map and the pitch catalog as typed calls.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"leadscrew/core"
	"leadscrew/host/serial"
	"leadscrew/protocol"
)

// Fixed IDs that bootstrap the dictionary
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
)

var (
	ErrNotIdentified  = errors.New("dictionary not loaded")
	ErrUnknownMessage = errors.New("message not in dictionary")
)

// DeviceError is an error response from the controller
type DeviceError struct {
	Code uint32
}

func (e *DeviceError) Error() string {
	switch e.Code {
	case core.ErrCodeRange:
		return "device: register access out of range"
	case core.ErrCodeReadOnly:
		return "device: register is read-only"
	case core.ErrCodePitchIndex:
		return "device: pitch index out of range"
	case core.ErrCodeArgs:
		return "device: malformed arguments"
	case core.ErrCodeConfig:
		return "device: configuration rejected"
	default:
		return fmt.Sprintf("device: error %d", e.Code)
	}
}

// Message is one dictionary entry
type Message struct {
	ID     uint16
	Name   string
	Format string
}

// Status is the controller state as reported by get_status
type Status struct {
	RPM            uint16
	Position       uint16 // raw encoder counter
	OutputPosition int32
	Err            int32
	Running        bool
	Index          uint8
	Compatibility  core.Compatibility
}

// Pitch is one catalog entry as reported by get_pitch
type Pitch struct {
	Index         uint8
	Label         string
	Unit          core.PitchUnit
	Compatibility core.Compatibility
}

func (p Pitch) String() string {
	return p.Label + p.Unit.String()
}

// Client is a connection to one controller. Calls are serialised.
type Client struct {
	transport *protocol.HostTransport

	mu       sync.Mutex
	messages map[string]Message
	dict     string
}

// Dial opens a serial device and loads the dictionary
func Dial(ctx context.Context, device string) (*Client, error) {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return nil, err
	}
	c := New(port)
	if err := c.Identify(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open link. Call Identify before anything else.
func New(port io.ReadWriteCloser) *Client {
	return &Client{transport: protocol.NewHostTransport(port)}
}

// Close closes the link
func (c *Client) Close() error {
	return c.transport.Close()
}

// Identify fetches the dictionary in chunks and indexes it by name
func (c *Client) Identify(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	for offset := uint32(0); ; {
		payload, err := c.roundTrip(ctx, identifyID, identifyResponseID, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, offset)
			protocol.EncodeVLQUint(o, identifyChunk)
		})
		if err != nil {
			return fmt.Errorf("identify at %d: %w", offset, err)
		}
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return fmt.Errorf("identify at %d: %w", offset, err)
		}
		if got != offset {
			return fmt.Errorf("identify: asked for offset %d, got %d", offset, got)
		}
		chunk, err := protocol.DecodeVLQString(&payload)
		if err != nil {
			return fmt.Errorf("identify at %d: %w", offset, err)
		}
		if chunk == "" {
			break
		}
		sb.WriteString(chunk)
		offset += uint32(len(chunk))
	}

	messages, err := ParseDictionary(sb.String())
	if err != nil {
		return err
	}
	c.messages = messages
	c.dict = sb.String()
	return nil
}

// ParseDictionary parses "<id> <name> [format]" lines
func ParseDictionary(dict string) (map[string]Message, error) {
	messages := make(map[string]Message)
	for _, line := range strings.Split(dict, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("dictionary line %q: missing name", line)
		}
		id, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("dictionary line %q: %w", line, err)
		}
		m := Message{ID: uint16(id), Name: fields[1]}
		if len(fields) == 3 {
			m.Format = fields[2]
		}
		messages[m.Name] = m
	}
	return messages, nil
}

// Dictionary returns the raw dictionary text
func (c *Client) Dictionary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dict
}

// Messages returns the dictionary entries sorted by ID
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) lookup(name string) (uint16, error) {
	if c.messages == nil {
		return 0, ErrNotIdentified
	}
	m, ok := c.messages[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return m.ID, nil
}

// call sends the named command and returns the arguments of the named
// response. An error response ends the call with a DeviceError.
func (c *Client) call(ctx context.Context, command, response string, args func(protocol.OutputBuffer)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmdID, err := c.lookup(command)
	if err != nil {
		return nil, err
	}
	respID, err := c.lookup(response)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, cmdID, respID, args)
}

// roundTrip must be called with mu held
func (c *Client) roundTrip(ctx context.Context, cmdID, respID uint16, args func(protocol.OutputBuffer)) ([]byte, error) {
	errID := uint16(0xFFFF)
	if m, ok := c.messages["error"]; ok {
		errID = m.ID
	}

	if err := c.transport.Send(ctx, cmdID, args); err != nil {
		return nil, err
	}
	for {
		block, err := c.transport.Receive(ctx)
		if err != nil {
			return nil, err
		}
		payload := block.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		switch uint16(id) {
		case respID:
			return payload, nil
		case errID:
			code, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				return nil, err
			}
			return nil, &DeviceError{Code: code}
		}
	}
}

// ReadRegisters reads count bytes of the register map from offset
func (c *Client) ReadRegisters(ctx context.Context, offset, count int) ([]byte, error) {
	out := make([]byte, 0, count)
	for len(out) < count {
		at := offset + len(out)
		payload, err := c.call(ctx, "read_registers", "registers", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, uint32(at))
			protocol.EncodeVLQUint(o, uint32(count-len(out)))
		})
		if err != nil {
			return nil, fmt.Errorf("read registers at %d: %w", at, err)
		}
		data, err := decodeRegisters(payload, at)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("read registers at %d: empty response", at)
		}
		out = append(out, data...)
	}
	return out, nil
}

// WriteRegisters writes data at offset and returns the registers as the
// controller reads them back. Rejected settings come back restored.
func (c *Client) WriteRegisters(ctx context.Context, offset int, data []byte) ([]byte, error) {
	payload, err := c.call(ctx, "write_registers", "registers", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(offset))
		protocol.EncodeVLQBytes(o, data)
	})
	if err != nil {
		return nil, fmt.Errorf("write registers at %d: %w", offset, err)
	}
	return decodeRegisters(payload, offset)
}

// Configure writes the machine configuration region. The device
// reseeds the gear from it and keeps the selected pitch when it still
// fits.
func (c *Client) Configure(ctx context.Context, cfg *core.MachineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EncoderResolution > 0xFFFF || cfg.StepperResolution() > 0xFFFF {
		return fmt.Errorf("configure: resolution does not fit the 16-bit registers")
	}
	regs := core.NewRegisters()
	regs.LoadConfig(cfg)
	data := regs.Bytes()[core.RegEncoderResolution : core.RegStepperFlags+1]

	got, err := c.WriteRegisters(ctx, core.RegEncoderResolution, data)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("configure: device kept % X, wrote % X", got, data)
	}
	return nil
}

func decodeRegisters(payload []byte, offset int) ([]byte, error) {
	got, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, err
	}
	if int(got) != offset {
		return nil, fmt.Errorf("registers response for offset %d, expected %d", got, offset)
	}
	return protocol.DecodeVLQBytes(&payload)
}

// Status returns the live controller state
func (c *Client) Status(ctx context.Context) (Status, error) {
	payload, err := c.call(ctx, "get_status", "status", nil)
	if err != nil {
		return Status{}, fmt.Errorf("get status: %w", err)
	}
	return decodeStatus(payload)
}

func decodeStatus(payload []byte) (Status, error) {
	var vals [7]uint32
	for i := range vals {
		var err error
		if i == 2 || i == 3 {
			var v int32
			v, err = protocol.DecodeVLQInt(&payload)
			vals[i] = uint32(v)
		} else {
			vals[i], err = protocol.DecodeVLQUint(&payload)
		}
		if err != nil {
			return Status{}, fmt.Errorf("decode status: %w", err)
		}
	}
	return Status{
		RPM:            uint16(vals[0]),
		Position:       uint16(vals[1]),
		OutputPosition: int32(vals[2]),
		Err:            int32(vals[3]),
		Running:        vals[4] == core.ModeRunning,
		Index:          uint8(vals[5]),
		Compatibility:  core.Compatibility(vals[6]),
	}, nil
}

// Pitch returns catalog entry index
func (c *Client) Pitch(ctx context.Context, index int) (Pitch, error) {
	payload, err := c.call(ctx, "get_pitch", "pitch", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(index))
	})
	if err != nil {
		return Pitch{}, fmt.Errorf("get pitch %d: %w", index, err)
	}
	var p Pitch
	var v [3]uint32
	for i := range v {
		if v[i], err = protocol.DecodeVLQUint(&payload); err != nil {
			return Pitch{}, fmt.Errorf("decode pitch: %w", err)
		}
	}
	p.Index, p.Unit, p.Compatibility = uint8(v[0]), core.PitchUnit(v[1]), core.Compatibility(v[2])
	if p.Label, err = protocol.DecodeVLQString(&payload); err != nil {
		return Pitch{}, fmt.Errorf("decode pitch: %w", err)
	}
	return p, nil
}

// Pitches lists the whole catalog
func (c *Client) Pitches(ctx context.Context) ([]Pitch, error) {
	var out []Pitch
	for i := 0; i <= 0xFF; i++ {
		p, err := c.Pitch(ctx, i)
		var devErr *DeviceError
		if errors.As(err, &devErr) && devErr.Code == core.ErrCodePitchIndex {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SelectPitch selects catalog entry index. The returned compatibility
// tells whether the controller accepted it.
func (c *Client) SelectPitch(ctx context.Context, index int) (core.Compatibility, error) {
	if index < 0 || index > 0xFF {
		return core.ThreadTooLarge, core.ErrPitchIndex
	}
	if _, err := c.WriteRegisters(ctx, core.RegPitchIndex, []byte{uint8(index)}); err != nil {
		return core.ThreadTooLarge, err
	}
	return c.lastCompatibility(ctx)
}

// SetPitch sets a metric pitch of num/den mm through the gear registers
func (c *Client) SetPitch(ctx context.Context, num, den uint8) (core.Compatibility, error) {
	if num == 0 || den == 0 {
		return core.ThreadTooSmall, core.ErrZeroPitch
	}
	if _, err := c.WriteRegisters(ctx, core.RegGearNum, []byte{num, den}); err != nil {
		return core.ThreadTooSmall, err
	}
	return c.lastCompatibility(ctx)
}

func (c *Client) lastCompatibility(ctx context.Context) (core.Compatibility, error) {
	b, err := c.ReadRegisters(ctx, core.RegStatus, 1)
	if err != nil {
		return core.ThreadTooLarge, err
	}
	return core.Compatibility(b[0]), nil
}

// SetMode starts or stops pulse output. Starting fails silently on the
// device when no pitch is committed; the returned flag is the mode the
// controller ended up in.
func (c *Client) SetMode(ctx context.Context, run bool) (bool, error) {
	mode := uint8(core.ModeIdle)
	if run {
		mode = core.ModeRunning
	}
	b, err := c.WriteRegisters(ctx, core.RegMode, []byte{mode})
	if err != nil {
		return false, err
	}
	return len(b) == 1 && b[0] == core.ModeRunning, nil
}

// CyclePitch steps to the next compatible catalog entry
func (c *Client) CyclePitch(ctx context.Context, forward bool) (Status, error) {
	var fwd uint32
	if forward {
		fwd = 1
	}
	payload, err := c.call(ctx, "cycle_pitch", "status", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, fwd)
	})
	if err != nil {
		return Status{}, fmt.Errorf("cycle pitch: %w", err)
	}
	return decodeStatus(payload)
}
