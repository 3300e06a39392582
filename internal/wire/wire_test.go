package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embertls/embertls/internal/packet"
)

func TestListViewRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03}
	r := packet.NewReader(raw)

	v, err := ParseList16(r, ParseUint16)
	assert.NoError(t, err)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, raw[2:], v.Raw())

	var got []uint16
	for item := range v.All() {
		got = append(got, item)
	}
	assert.Equal(t, []uint16{1, 2, 3}, got)

	var buf [16]byte
	w := packet.NewWriter(buf[:])
	assert.NoError(t, EncodeList16(w, SliceBuilder(EncodeUint16, got)))
	assert.Equal(t, raw, w.Bytes())
}

func TestListViewRejectsTruncatedItem(t *testing.T) {
	// Declared length covers one and a half uint16s.
	r := packet.NewReader([]byte{0x00, 0x03, 0x00, 0x01, 0x00})
	_, err := ParseList16(r, ParseUint16)
	assert.Equal(t, packet.ErrShortBuffer, err)
}

func TestListViewRejectsShortRegion(t *testing.T) {
	r := packet.NewReader([]byte{0x00, 0x04, 0x00, 0x01})
	_, err := ParseList16(r, ParseUint16)
	assert.Equal(t, packet.ErrShortBuffer, err)
}

func TestSliceU8RoundTrip(t *testing.T) {
	r := packet.NewReader([]byte{0x03, 0xaa, 0xbb, 0xcc, 0xff})
	s, err := ParseSliceU8(r)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, s.B)
	assert.Equal(t, 1, r.Remaining())

	var buf [8]byte
	w := packet.NewWriter(buf[:])
	assert.NoError(t, EncodeSliceU8(w, s))
	assert.Equal(t, []byte{0x03, 0xaa, 0xbb, 0xcc}, w.Bytes())
}

func TestListBuilderEncodesOnce(t *testing.T) {
	calls := 0
	b := NewListBuilder(EncodeUint8, func(yield func(uint8) bool) {
		calls++
		yield(7)
	})
	var buf [4]byte
	w := packet.NewWriter(buf[:])
	assert.NoError(t, EncodeList8(w, b))
	assert.Equal(t, []byte{0x01, 0x07}, w.Bytes())
	assert.Equal(t, 1, calls)
}
