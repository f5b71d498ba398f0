package protocol

import "sync/atomic"

// CommandHandler decodes the arguments of one command from the front of
// data, leaving the next command ID at the front
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the device end of the link. Receive validates blocks from
// the host and dispatches their commands; responses are encoded into the
// output buffer with EncodeFrame.
type Transport struct {
	synced  atomic.Bool
	nextSeq atomic.Uint32 // next sequence expected from the host

	output  OutputBuffer
	handler CommandHandler

	onReset func()
	onFlush func()
}

// NewTransport creates a synchronised transport expecting sequence 0x10
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.synced.Store(true)
	t.nextSeq.Store(SeqDest)
	return t
}

// Receive consumes every complete block in input. Every block, matching
// or not, is answered with an ACK carrying the expected sequence, which
// acts as a NAK when the host is out of step.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synced.Load() {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			t.synced.Store(true)
			t.sendAck()
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}

		block, res := scanBlockAt(data)
		if res == scanIncomplete {
			break
		}
		if res == scanInvalid {
			t.synced.Store(false)
			continue
		}
		data = data[block.Length:]

		expected := uint8(t.nextSeq.Load())
		if block.Sequence == SeqDest && expected != SeqDest {
			// host restarted its sequence
			expected = SeqDest
			t.nextSeq.Store(SeqDest)
			if t.onReset != nil {
				t.onReset()
			}
		}
		if block.Sequence == expected {
			t.nextSeq.Store(uint32(NextSequence(expected)))
			t.dispatch(block.Payload)
		}
		t.sendAck()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// dispatch runs every command in a payload. A malformed ID or a panicking
// handler drops the link out of sync; a handler error only stops this
// payload.
func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.synced.Store(false)
		}
	}()

	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.synced.Store(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			return
		}
	}
}

// sendAck writes the ACK after the responses of the block and flushes
func (t *Transport) sendAck() {
	t.output.Output(AckBlock(uint8(t.nextSeq.Load())))
	if t.onFlush != nil {
		t.onFlush()
	}
}

// EncodeFrame writes one block whose payload is produced by body. The
// block carries the current expected sequence, like the ACK before it.
func (t *Transport) EncodeFrame(body func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSeq.Load())})
	body(t.output)

	n := len(t.output.DataSince(start)) + BlockTrailerSize
	t.output.Update(start+posLength, uint8(n))

	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), SyncByte})
}

// SendCommand encodes a message ID followed by its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-up state, e.g. after a USB reconnect
func (t *Transport) Reset() {
	t.synced.Store(true)
	t.nextSeq.Store(SeqDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// Synchronized reports whether the transport is locked onto block
// boundaries
func (t *Transport) Synchronized() bool {
	return t.synced.Load()
}

// SetResetCallback registers a function run when the host restarts its
// sequence
func (t *Transport) SetResetCallback(fn func()) {
	t.onReset = fn
}

// SetFlushCallback registers a function that pushes buffered output to
// the wire immediately
func (t *Transport) SetFlushCallback(fn func()) {
	t.onFlush = fn
}
