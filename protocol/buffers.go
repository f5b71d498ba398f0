package protocol

// InputBuffer is received data awaiting decoding
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int) // drop n bytes from the front
}

// OutputBuffer accumulates encoded blocks. The length byte of a block is
// patched in place once the payload is known, so writers must support
// going back to an earlier position.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is a fixed size OutputBuffer. Writes past the end are
// truncated.
type ScratchOutput struct {
	buf [ScratchSize]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Len returns the number of bytes written
func (s *ScratchOutput) Len() int {
	return s.pos
}

func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// StreamBuffer collects bytes arriving from a serial stream until whole
// blocks can be decoded. Consumed bytes are dropped from the front; the
// remainder is moved down so Data is always contiguous.
type StreamBuffer struct {
	buf []byte
	n   int
}

// NewStreamBuffer creates a buffer holding up to capacity bytes
func NewStreamBuffer(capacity int) *StreamBuffer {
	return &StreamBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count stored
func (b *StreamBuffer) Write(data []byte) int {
	n := copy(b.buf[b.n:], data)
	b.n += n
	return n
}

func (b *StreamBuffer) Data() []byte   { return b.buf[:b.n] }
func (b *StreamBuffer) Available() int { return b.n }

// Free returns the space left for Write
func (b *StreamBuffer) Free() int {
	return len(b.buf) - b.n
}

func (b *StreamBuffer) Pop(n int) {
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.buf, b.buf[n:b.n])
	b.n -= n
}

func (b *StreamBuffer) Reset() {
	b.n = 0
}
