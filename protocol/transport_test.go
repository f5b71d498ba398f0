package protocol

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func mustBlock(t *testing.T, seq uint8, id uint16, args func(OutputBuffer)) []byte {
	t.Helper()
	b, err := BuildBlock(seq, id, args)
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	return b
}

func TestBuildBlockLayout(t *testing.T) {
	b := mustBlock(t, SeqDest, 3, func(o OutputBuffer) { EncodeVLQUint(o, 10) })

	if int(b[0]) != len(b) {
		t.Errorf("length byte %d, block is %d bytes", b[0], len(b))
	}
	if b[1] != SeqDest {
		t.Errorf("sequence 0x%02X", b[1])
	}
	if b[len(b)-1] != SyncByte {
		t.Errorf("missing sync byte")
	}
	block, res := scanBlockAt(b)
	if res != scanBlock {
		t.Fatalf("scanBlockAt rejected a built block")
	}
	if !bytes.Equal(block.Payload, []byte{3, 10}) {
		t.Errorf("payload % X", block.Payload)
	}
}

func TestBuildBlockTooLong(t *testing.T) {
	_, err := BuildBlock(SeqDest, 1, func(o OutputBuffer) { EncodeVLQBytes(o, make([]byte, BlockMaxSize)) })
	if err == nil {
		t.Error("expected an error for an oversized block")
	}
}

func TestTransportDispatchAndAck(t *testing.T) {
	out := NewScratchOutput()
	var got []uint32
	tr := NewTransport(out, func(id uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		got = append(got, uint32(id), v)
		return err
	})

	in := NewSliceInputBuffer(mustBlock(t, SeqDest, 4, func(o OutputBuffer) { EncodeVLQUint(o, 500) }))
	tr.Receive(in)

	if len(got) != 2 || got[0] != 4 || got[1] != 500 {
		t.Errorf("handler saw %v", got)
	}
	if in.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", in.Available())
	}
	if !bytes.Equal(out.Result(), AckBlock(SeqDest+1)) {
		t.Errorf("ack % X, expected % X", out.Result(), AckBlock(SeqDest+1))
	}
}

func TestTransportPartialBlock(t *testing.T) {
	calls := 0
	tr := NewTransport(NewScratchOutput(), func(uint16, *[]byte) error { calls++; return nil })

	b := mustBlock(t, SeqDest, 1, nil)
	in := NewStreamBuffer(64)
	in.Write(b[:3])
	tr.Receive(in)
	if calls != 0 || in.Available() != 3 {
		t.Fatalf("partial block consumed: calls=%d avail=%d", calls, in.Available())
	}
	in.Write(b[3:])
	tr.Receive(in)
	if calls != 1 || in.Available() != 0 {
		t.Errorf("completed block not handled: calls=%d avail=%d", calls, in.Available())
	}
}

func TestTransportBadCRCResyncs(t *testing.T) {
	calls := 0
	out := NewScratchOutput()
	tr := NewTransport(out, func(uint16, *[]byte) error { calls++; return nil })

	bad := mustBlock(t, SeqDest, 1, nil)
	bad[len(bad)-2] ^= 0xFF
	good := mustBlock(t, SeqDest, 1, nil)

	tr.Receive(NewSliceInputBuffer(append(bad, good...)))
	if calls != 1 {
		t.Errorf("expected the good block after resync to be handled, calls=%d", calls)
	}
	if !tr.Synchronized() {
		t.Error("transport should be synchronised again")
	}
}

func TestTransportOutOfSequenceNaks(t *testing.T) {
	calls := 0
	out := NewScratchOutput()
	tr := NewTransport(out, func(uint16, *[]byte) error { calls++; return nil })

	tr.Receive(NewSliceInputBuffer(mustBlock(t, SeqDest+5, 1, nil)))
	if calls != 0 {
		t.Error("out of sequence block was dispatched")
	}
	if !bytes.Equal(out.Result(), AckBlock(SeqDest)) {
		t.Errorf("NAK % X should announce 0x10", out.Result())
	}
}

func TestTransportHostRestart(t *testing.T) {
	resets := 0
	tr := NewTransport(NewScratchOutput(), func(uint16, *[]byte) error { return nil })
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(mustBlock(t, SeqDest, 1, nil)))
	tr.Receive(NewSliceInputBuffer(mustBlock(t, SeqDest, 1, nil)))
	if resets != 1 {
		t.Errorf("expected one restart, got %d", resets)
	}
}

func TestTransportSendCommand(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)
	tr.SendCommand(9, func(o OutputBuffer) { EncodeVLQInt(o, -3) })

	block, res := scanBlockAt(out.Result())
	if res != scanBlock {
		t.Fatal("response block is malformed")
	}
	if block.Sequence != SeqDest || !bytes.Equal(block.Payload, []byte{9, 0x7D}) {
		t.Errorf("block seq 0x%02X payload % X", block.Sequence, block.Payload)
	}
}

// echoDevice serves a device Transport on one end of a pipe. Every command
// is answered with a response carrying the same ID and argument.
func echoDevice(t *testing.T, conn net.Conn) {
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(id uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		tr.SendCommand(id, func(o OutputBuffer) { EncodeVLQUint(o, v) })
		return nil
	})
	in := NewStreamBuffer(256)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		in.Write(buf[:n])
		tr.Receive(in)
		if out.Len() > 0 {
			if _, err := conn.Write(out.Result()); err != nil {
				return
			}
			out.Reset()
		}
	}
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	go echoDevice(t, devEnd)
	defer devEnd.Close()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := uint32(1); i <= 20; i++ {
		err := host.Send(ctx, 6, func(o OutputBuffer) { EncodeVLQUint(o, i*100) })
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		resp, err := host.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		payload := resp.Payload
		id, _ := DecodeVLQUint(&payload)
		v, _ := DecodeVLQUint(&payload)
		if id != 6 || v != i*100 {
			t.Errorf("response %d: id=%d v=%d", i, id, v)
		}
	}
	if host.Sequence() != NextSequence(SeqDest+3) {
		// 20 blocks sent: sequence advanced 20 times modulo 16
		t.Errorf("sequence 0x%02X after 20 blocks", host.Sequence())
	}
}

func TestHostTransportTimeout(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	defer devEnd.Close()
	go func() {
		// swallow everything, never acknowledge
		buf := make([]byte, 64)
		for {
			if _, err := devEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := host.Send(ctx, 1, nil); err == nil {
		t.Error("expected a timeout without an ACK")
	}
}
