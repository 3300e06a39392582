package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReaderScalars(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00, 0x2a})

	b, err := r.ReadUint8()
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), b)

	v16, err := r.ReadUint16()
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x0203), v16)

	v24, err := r.ReadUint24()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xaabbcc), v24)

	v32, err := r.ReadUint32()
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), v32)

	assert.True(t, r.IsEmpty())
	_, err = r.ReadUint8()
	assert.Equal(t, ErrShortBuffer, err)
}

func TestReaderSlice(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})

	sub, err := r.Slice(3)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, sub.Bytes())
	assert.Equal(t, 2, r.Remaining())
	assert.Equal(t, 3, r.Offset())

	_, err = r.Slice(3)
	assert.Equal(t, ErrShortBuffer, err)
}

func TestReaderFill(t *testing.T) {
	r := NewReader([]byte{9, 8, 7})
	var out [2]byte
	assert.NoError(t, r.Fill(out[:]))
	assert.Equal(t, [2]byte{9, 8}, out)
	assert.Equal(t, ErrShortBuffer, r.Fill(out[:]))
}

func TestWriterScalars(t *testing.T) {
	var buf [10]byte
	w := NewWriter(buf[:])

	assert.NoError(t, w.WriteUint8(1))
	assert.NoError(t, w.WriteUint16(0x0203))
	assert.NoError(t, w.WriteUint24(0xaabbcc))
	assert.NoError(t, w.WriteUint32(42))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00, 0x2a}, w.Bytes())

	assert.Equal(t, ErrShortBuffer, w.WriteUint8(0))
}

func TestWriterWithLen(t *testing.T) {
	var buf [32]byte
	w := NewWriter(buf[:])

	err := w.WithLen16(func(w *Writer) error {
		return w.Append([]byte{0xde, 0xad, 0xbe, 0xef})
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 0xde, 0xad, 0xbe, 0xef}, w.Bytes())
}

func TestWriterWithLenNested(t *testing.T) {
	var buf [32]byte
	w := NewWriter(buf[:])

	err := w.WithLen24(func(w *Writer) error {
		if err := w.WriteUint8(0xff); err != nil {
			return err
		}
		return w.WithLen8(func(w *Writer) error {
			return w.Append([]byte{1, 2, 3})
		})
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x05, 0xff, 0x03, 0x01, 0x02, 0x03}, w.Bytes())
}

func TestWriterWithLenRewindOnError(t *testing.T) {
	var buf [16]byte
	w := NewWriter(buf[:])
	assert.NoError(t, w.WriteUint16(0x1234))
	before := w.Len()

	err := w.WithLen16(func(w *Writer) error {
		if err := w.Append([]byte{1, 2, 3}); err != nil {
			return err
		}
		return ErrInvalidData
	})
	assert.Equal(t, ErrInvalidData, err)
	assert.Equal(t, before, w.Len())
}

func TestWriterWithLenOverflow(t *testing.T) {
	buf := make([]byte, 1024)
	w := NewWriter(buf)

	err := w.WithLen8(func(w *Writer) error {
		return w.ZeroPad(256)
	})
	assert.Equal(t, ErrLengthOverflow, err)
	assert.Equal(t, 0, w.Len())
}
