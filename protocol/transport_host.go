package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrBlockTooLong    = errors.New("block exceeds maximum size")
)

// ResponseHandler receives responses as they arrive, with the message ID
// already decoded from the payload
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. Send blocks until the device
// acknowledges; responses are delivered to Receive in arrival order and,
// if set, to a ResponseHandler from the read goroutine.
type HostTransport struct {
	port io.ReadWriteCloser

	seq    atomic.Uint32
	synced atomic.Bool

	input *StreamBuffer
	acks  chan Block
	resp  chan Block

	handler atomic.Pointer[ResponseHandler]

	sendMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:  port,
		input: NewStreamBuffer(4 * BlockMaxSize),
		acks:  make(chan Block, 1),
		resp:  make(chan Block, 16),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	t.seq.Store(SeqDest)
	t.synced.Store(true)
	go t.readLoop()
	return t
}

// BuildBlock encodes a command into a complete block with sequence seq
func BuildBlock(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	out := NewScratchOutput()
	out.Output([]byte{0, seq})
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	n := out.Len() + BlockTrailerSize
	if n > BlockMaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLong, n)
	}
	out.Update(posLength, uint8(n))
	crc := CRC16(out.Result())
	out.Output([]byte{uint8(crc >> 8), uint8(crc), SyncByte})

	block := make([]byte, out.Len())
	copy(block, out.Result())
	return block, nil
}

// Send writes one command and waits for its ACK
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := uint8(t.seq.Load())
	block, err := BuildBlock(seq, cmdID, args)
	if err != nil {
		return err
	}
	for len(t.acks) > 0 {
		<-t.acks
	}
	if _, err := t.port.Write(block); err != nil {
		return fmt.Errorf("write block: %w", err)
	}

	want := NextSequence(seq)
	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence != want {
				// NAK: device expects another sequence, adopt it
				t.seq.Store(uint32(ack.Sequence))
				return fmt.Errorf("device expected sequence 0x%02x, sent 0x%02x", ack.Sequence, seq)
			}
			t.seq.Store(uint32(want))
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for ack: %w", ctx.Err())
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// Receive returns the next response block
func (t *HostTransport) Receive(ctx context.Context) (Block, error) {
	select {
	case b := <-t.resp:
		return b, nil
	case <-ctx.Done():
		return Block{}, ctx.Err()
	case <-t.stop:
		return Block{}, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback run for every response
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.handler.Store(&h)
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, BlockMaxSize)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			for rest := buf[:n]; len(rest) > 0; {
				w := t.input.Write(rest)
				rest = rest[w:]
				t.process()
				if w == 0 && t.input.Free() == 0 {
					// garbage filled the buffer without a valid block
					t.input.Reset()
					t.synced.Store(false)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// process decodes every complete block in the input buffer
func (t *HostTransport) process() {
	data := t.input.Data()

	for len(data) > 0 {
		if !t.synced.Load() {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			t.synced.Store(true)
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

		// the input buffer is reused; keep a private copy
		block.Payload = append([]byte(nil), block.Payload...)
		t.deliver(block)
	}

	if consumed := t.input.Available() - len(data); consumed > 0 {
		t.input.Pop(consumed)
	}
}

func (t *HostTransport) deliver(b Block) {
	if b.IsAck() {
		select {
		case t.acks <- b:
		default:
		}
		return
	}

	if h := t.handler.Load(); h != nil {
		payload := b.Payload
		if id, err := DecodeVLQUint(&payload); err == nil {
			_ = (*h)(uint16(id), &payload)
		}
	}

	select {
	case t.resp <- b:
	default:
		// drop the oldest response to make room
		select {
		case <-t.resp:
		default:
		}
		t.resp <- b
	}
}

// Sequence returns the sequence byte of the next command
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}

// Reset restarts the sequence and drops pending blocks. The device treats
// sequence 0x10 as a host restart.
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.seq.Store(SeqDest)
	t.synced.Store(true)
	for len(t.acks) > 0 {
		<-t.acks
	}
	for len(t.resp) > 0 {
		<-t.resp
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}
