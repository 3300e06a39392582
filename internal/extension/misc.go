package extension

import (
	"github.com/embertls/embertls/internal/packet"
)

// MaxFragmentLength codes from RFC 6066, section 4: 2^(8+n) bytes.
type MaxFragmentLength uint8

const (
	MaxFragment512  MaxFragmentLength = 1
	MaxFragment1024 MaxFragmentLength = 2
	MaxFragment2048 MaxFragmentLength = 3
	MaxFragment4096 MaxFragmentLength = 4
)

func (MaxFragmentLength) extensionBody() {}

// Bytes returns the negotiated fragment ceiling.
func (m MaxFragmentLength) Bytes() int {
	return 256 << uint(m)
}

func parseMaxFragmentLengthBody(r *packet.Reader, _ Message) (Body, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	m := MaxFragmentLength(v)
	if m < MaxFragment512 || m > MaxFragment4096 {
		return nil, packet.ErrInvalidData
	}
	return m, nil
}

func EncodeMaxFragmentLength(w *packet.Writer, m MaxFragmentLength) error {
	return Encode(w, TypeMaxFragmentLength, func(w *packet.Writer) error {
		return w.WriteUint8(uint8(m))
	})
}

// Cookie is the cookie body echoed between HelloRetryRequest and the
// retried ClientHello.
type Cookie struct {
	Value []byte
}

func (Cookie) extensionBody() {}

func parseCookieBody(r *packet.Reader, _ Message) (Body, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, packet.ErrInvalidData
	}
	v, err := r.ReadSlice(int(n))
	if err != nil {
		return nil, err
	}
	return Cookie{v}, nil
}

func EncodeCookie(w *packet.Writer, value []byte) error {
	return Encode(w, TypeCookie, func(w *packet.Writer) error {
		return w.WithLen16(func(w *packet.Writer) error {
			return w.Append(value)
		})
	})
}

// EarlyData in ClientHello and EncryptedExtensions is an empty body.
// The NewSessionTicket form carries max_early_data_size, which
// parseEarlyDataBody reads when the message is NewSessionTicket.
type EarlyData struct {
	MaxEarlyDataSize uint32
}

func (EarlyData) extensionBody() {}

func parseEarlyDataBody(r *packet.Reader, msg Message) (Body, error) {
	if msg == InNewSessionTicket {
		v, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		return EarlyData{v}, nil
	}
	if !r.IsEmpty() {
		return nil, packet.ErrInvalidData
	}
	return EarlyData{}, nil
}

// Opaque carries the raw data of extension types that are recognized
// and legal but not interpreted by this stack.
type Opaque struct {
	Data []byte
}

func (Opaque) extensionBody() {}

func parseOpaqueBody(r *packet.Reader, _ Message) (Body, error) {
	return Opaque{r.Bytes()}, parseAll(r)
}

func parseAll(r *packet.Reader) error {
	_, err := r.ReadSlice(r.Remaining())
	return err
}
