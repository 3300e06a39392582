// Package record implements the TLS 1.3 record layer: framing, AEAD
// protection keyed by the key schedule, inner content types, and the
// per-direction sequence numbers. One HalfConn protects each direction;
// the two directions rotate keys independently.
package record

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/logging"
	"github.com/embertls/embertls/internal/packet"
)

var log = logging.DefaultLogger.WithTag("record")

type ContentType uint8

const (
	TypeInvalid          ContentType = 0
	TypeChangeCipherSpec ContentType = 20
	TypeAlert            ContentType = 21
	TypeHandshake        ContentType = 22
	TypeApplicationData  ContentType = 23
)

func validContentType(t ContentType) bool {
	switch t {
	case TypeInvalid, TypeChangeCipherSpec, TypeAlert, TypeHandshake, TypeApplicationData:
		return true
	}
	return false
}

const (
	// HeaderLen is the wire size of the record header.
	HeaderLen = 5

	// MaxPlaintextLen caps the protected payload (RFC 8446, section 5.1).
	MaxPlaintextLen = 1 << 14

	// MaxCiphertextLen adds the expansion margin for the inner type byte
	// and the AEAD tag (RFC 8446, section 5.2).
	MaxCiphertextLen = MaxPlaintextLen + 256
)

// ErrInvalidRecord reports a header that does not parse as TLS.
var ErrInvalidRecord = errors.New("record: invalid record header")

type Header struct {
	Type    ContentType
	Version uint16
	Length  int
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrInvalidRecord
	}
	h := Header{
		Type:    ContentType(b[0]),
		Version: binary.BigEndian.Uint16(b[1:]),
		Length:  int(binary.BigEndian.Uint16(b[3:])),
	}
	if !validContentType(h.Type) {
		return Header{}, ErrInvalidRecord
	}
	if h.Length > MaxCiphertextLen {
		return Header{}, alert.Fatal(alert.RecordOverflow)
	}
	return h, nil
}

func (h Header) Encode(b []byte) {
	b[0] = byte(h.Type)
	binary.BigEndian.PutUint16(b[1:], h.Version)
	binary.BigEndian.PutUint16(b[3:], uint16(h.Length))
}

// clearVersion picks the legacy version byte for unprotected records:
// handshake and alert records go out as 0x0301, everything else as 0x0303.
func clearVersion(t ContentType) uint16 {
	if t == TypeHandshake || t == TypeAlert {
		return 0x0301
	}
	return 0x0303
}

// ReadFrom reads one record from the transport into buf and returns the
// header plus a view of the payload. Transport errors pass through
// unchanged so the caller can surface them.
func ReadFrom(transport io.Reader, buf []byte) (Header, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(transport, hdr[:]); err != nil {
		return Header{}, nil, err
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}
	if h.Length > len(buf) {
		return Header{}, nil, packet.ErrShortBuffer
	}
	payload := buf[:h.Length]
	if _, err := io.ReadFull(transport, payload); err != nil {
		return Header{}, nil, err
	}
	log.Trace(2, "rx record type=%d len=%d", h.Type, h.Length)
	return h, payload, nil
}

// IsChangeCipherSpec reports a middlebox-compatibility CCS record, which
// is dropped silently (RFC 8446, section 5).
func IsChangeCipherSpec(h Header, payload []byte) bool {
	return h.Type == TypeChangeCipherSpec && len(payload) == 1 && payload[0] == 0x01
}
