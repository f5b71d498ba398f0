// Package protocol implements the framed link between the leadscrew
// controller and a host: VLQ encoded commands inside CRC protected,
// sequence numbered blocks.
//
//	[len][0x10|seq][payload...][crc hi][crc lo][0x7E]
//
// A block with an empty payload is an ACK (or NAK) carrying the next
// sequence number the receiver expects.
package protocol

// Version of the link protocol
const Version = "els-1"

// Block layout
const (
	BlockHeaderSize  = 2
	BlockTrailerSize = 3
	BlockMinSize     = BlockHeaderSize + BlockTrailerSize
	BlockMaxSize     = 64

	posLength   = 0
	posSequence = 1

	SyncByte = 0x7E

	SeqDest = 0x10 // high nibble of every sequence byte
	SeqMask = 0x0F

	// ScratchSize bounds the output of one batch of encoded blocks
	ScratchSize = 512
)

// NextSequence returns the sequence byte following seq
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}

// Block is one validated frame
type Block struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // bytes between header and trailer
	CRC      uint16
}

// IsAck reports a block with no payload
func (b *Block) IsAck() bool {
	return len(b.Payload) == 0
}

type scanResult uint8

const (
	scanIncomplete scanResult = iota // more bytes needed
	scanBlock                        // a valid block was found
	scanInvalid                      // framing error, resynchronise
)

// scanBlock looks for a complete block at the start of data. Leading sync
// bytes must already be stripped. The returned payload aliases data.
func scanBlockAt(data []byte) (Block, scanResult) {
	if len(data) < BlockMinSize {
		return Block{}, scanIncomplete
	}
	n := int(data[posLength])
	if n < BlockMinSize || n > BlockMaxSize {
		return Block{}, scanInvalid
	}
	seq := data[posSequence]
	if seq&^SeqMask != SeqDest {
		return Block{}, scanInvalid
	}
	if len(data) < n {
		return Block{}, scanIncomplete
	}
	if data[n-1] != SyncByte {
		return Block{}, scanInvalid
	}
	crc := uint16(data[n-3])<<8 | uint16(data[n-2])
	if crc != CRC16(data[:n-BlockTrailerSize]) {
		return Block{}, scanInvalid
	}
	return Block{
		Length:   uint8(n),
		Sequence: seq,
		Payload:  data[BlockHeaderSize : n-BlockTrailerSize],
		CRC:      crc,
	}, scanBlock
}

// indexSync returns the position of the first sync byte or -1
func indexSync(data []byte) int {
	for i, b := range data {
		if b == SyncByte {
			return i
		}
	}
	return -1
}

// AckBlock returns the five byte ACK announcing seq
func AckBlock(seq uint8) []byte {
	crc := CRC16([]byte{BlockMinSize, seq})
	return []byte{BlockMinSize, seq, uint8(crc >> 8), uint8(crc), SyncByte}
}
