// Package wire holds the codec primitives shared by the TLS message and
// extension codecs. Inbound values are parsed as zero-copy views over the
// record buffer; outbound values are streamed straight into the write
// buffer. Nothing in this package retains data beyond the buffers handed
// to it.
package wire

import (
	"github.com/embertls/embertls/internal/packet"
)

// A ParseFunc consumes one T from the reader. The returned value may
// borrow from the reader's underlying storage.
type ParseFunc[T any] func(*packet.Reader) (T, error)

// An EncodeFunc appends the wire form of one T to the writer.
type EncodeFunc[T any] func(*packet.Writer, T) error

// ParseUint8 and friends adapt the scalar reads to ParseFunc form so
// they can populate lists.
func ParseUint8(r *packet.Reader) (uint8, error)   { return r.ReadUint8() }
func ParseUint16(r *packet.Reader) (uint16, error) { return r.ReadUint16() }
func ParseUint32(r *packet.Reader) (uint32, error) { return r.ReadUint32() }

func EncodeUint8(w *packet.Writer, v uint8) error   { return w.WriteUint8(v) }
func EncodeUint16(w *packet.Writer, v uint16) error { return w.WriteUint16(v) }
func EncodeUint32(w *packet.Writer, v uint32) error { return w.WriteUint32(v) }

// SliceU8 is an opaque byte string carried with a one-byte length prefix.
type SliceU8 struct {
	B []byte
}

func ParseSliceU8(r *packet.Reader) (SliceU8, error) {
	n, err := r.ReadUint8()
	if err != nil {
		return SliceU8{}, err
	}
	b, err := r.ReadSlice(int(n))
	if err != nil {
		return SliceU8{}, err
	}
	return SliceU8{b}, nil
}

func EncodeSliceU8(w *packet.Writer, s SliceU8) error {
	return w.WithLen8(func(w *packet.Writer) error {
		return w.Append(s.B)
	})
}

// SliceU16 is an opaque byte string carried with a two-byte length prefix.
type SliceU16 struct {
	B []byte
}

func ParseSliceU16(r *packet.Reader) (SliceU16, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return SliceU16{}, err
	}
	b, err := r.ReadSlice(int(n))
	if err != nil {
		return SliceU16{}, err
	}
	return SliceU16{b}, nil
}

func EncodeSliceU16(w *packet.Writer, s SliceU16) error {
	return w.WithLen16(func(w *packet.Writer) error {
		return w.Append(s.B)
	})
}
