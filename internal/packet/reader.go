package packet

import (
	"encoding/binary"
	"errors"
)

var networkOrder = binary.BigEndian

// ErrShortBuffer is returned when a read or write would go past the end
// of the underlying buffer.
var ErrShortBuffer = errors.New("packet: short buffer")

// ErrLengthOverflow is returned when a length-prefixed body exceeds the
// maximum value representable by its prefix width.
var ErrLengthOverflow = errors.New("packet: length overflow")

// ErrInvalidData is returned when parsed bytes do not form a valid value
// for the field being decoded.
var ErrInvalidData = errors.New("packet: invalid data")

// A Reader is a cursor over a borrowed byte slice. All reads advance the
// cursor; a failed read returns ErrShortBuffer and the caller is expected
// to discard the reader. The underlying bytes are never copied.
type Reader struct {
	buffer []byte
	offset int
}

func NewReader(buffer []byte) *Reader {
	return &Reader{buffer, 0}
}

func (r *Reader) ReadUint8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := r.buffer[r.offset]
	r.offset++
	return v, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := networkOrder.Uint16(r.buffer[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *Reader) ReadUint24() (uint32, error) {
	if r.Remaining() < 3 {
		return 0, ErrShortBuffer
	}
	v := uint32(r.buffer[r.offset])<<16 |
		uint32(r.buffer[r.offset+1])<<8 |
		uint32(r.buffer[r.offset+2])
	r.offset += 3
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := networkOrder.Uint32(r.buffer[r.offset:])
	r.offset += 4
	return v, nil
}

// Slice returns a sub-reader over the next n bytes and advances the
// parent past them. The sub-reader borrows the same underlying storage.
func (r *Reader) Slice(n int) (*Reader, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	sub := &Reader{r.buffer[r.offset : r.offset+n], 0}
	r.offset += n
	return sub, nil
}

// ReadSlice returns a view of the next n bytes and advances past them.
func (r *Reader) ReadSlice(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	v := r.buffer[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

// Fill copies exactly len(p) bytes into p and advances past them.
func (r *Reader) Fill(p []byte) error {
	if r.Remaining() < len(p) {
		return ErrShortBuffer
	}
	r.offset += copy(p, r.buffer[r.offset:])
	return nil
}

// Window returns the bytes between two previously observed offsets.
// Used to feed the exact wire form of a parsed region to the transcript.
func (r *Reader) Window(start, end int) []byte {
	return r.buffer[start:end]
}

// Bytes returns the unread remainder without advancing.
func (r *Reader) Bytes() []byte {
	return r.buffer[r.offset:]
}

func (r *Reader) IsEmpty() bool {
	return r.offset >= len(r.buffer)
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.offset
}

// Remaining returns the number of bytes left in the buffer.
func (r *Reader) Remaining() int {
	return len(r.buffer) - r.offset
}
