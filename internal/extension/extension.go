// Package extension implements the TLS 1.3 extension bodies and the
// per-message dispatch rules from RFC 8446, section 4.2. Inbound
// extension data is kept as zero-copy views over the record buffer;
// outbound extensions are streamed through encode helpers.
package extension

import (
	"errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/packet"
)

// Type is a 16-bit IANA extension codepoint.
type Type uint16

const (
	TypeServerName              Type = 0
	TypeMaxFragmentLength       Type = 1
	TypeStatusRequest           Type = 5
	TypeSupportedGroups         Type = 10
	TypeSignatureAlgorithms     Type = 13
	TypeUseSRTP                 Type = 14
	TypeHeartbeat               Type = 15
	TypeALPN                    Type = 16
	TypeSCT                     Type = 18
	TypeClientCertificateType   Type = 19
	TypeServerCertificateType   Type = 20
	TypePadding                 Type = 21
	TypeCompressCertificate     Type = 27
	TypePreSharedKey            Type = 41
	TypeEarlyData               Type = 42
	TypeSupportedVersions       Type = 43
	TypeCookie                  Type = 44
	TypePskKeyExchangeModes     Type = 45
	TypeCertificateAuthorities  Type = 47
	TypeOidFilters              Type = 48
	TypePostHandshakeAuth       Type = 49
	TypeSignatureAlgorithmsCert Type = 50
	TypeKeyShare                Type = 51
)

// Message identifies which handshake message an extension vector is
// being parsed out of. Values are bits so the dispatch table can state
// where each extension is legal.
type Message uint8

const (
	InClientHello Message = 1 << iota
	InServerHello
	InEncryptedExtensions
	InCertificateRequest
	InCertificateEntry
	InNewSessionTicket
	InHelloRetryRequest
)

// ErrUnknownType reports an extension codepoint outside the supported
// IANA subset. The vector parser treats it as "skip", never surfacing it.
var ErrUnknownType = errors.New("extension: unknown extension type")

// Body is the parsed form of one extension's data. The concrete type
// depends on both the codepoint and the message it appeared in.
type Body interface {
	extensionBody()
}

// Extension pairs a codepoint with its parsed body.
type Extension struct {
	Type Type
	Body Body
}

type tableEntry struct {
	allowed Message
	parse   func(r *packet.Reader, msg Message) (Body, error)
}

// One row per supported codepoint; the allowed bitset is the RFC 8446
// section 4.2 table.
var table = map[Type]tableEntry{
	TypeServerName: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseServerNameBody,
	},
	TypeMaxFragmentLength: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseMaxFragmentLengthBody,
	},
	TypeStatusRequest: {
		allowed: InClientHello | InCertificateRequest | InCertificateEntry,
		parse:   parseOpaqueBody,
	},
	TypeSupportedGroups: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseSupportedGroupsBody,
	},
	TypeSignatureAlgorithms: {
		allowed: InClientHello | InCertificateRequest,
		parse:   parseSignatureAlgorithmsBody,
	},
	TypeUseSRTP: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseOpaqueBody,
	},
	TypeHeartbeat: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseOpaqueBody,
	},
	TypeALPN: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseOpaqueBody,
	},
	TypeSCT: {
		allowed: InClientHello | InCertificateRequest | InCertificateEntry,
		parse:   parseOpaqueBody,
	},
	TypeClientCertificateType: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseOpaqueBody,
	},
	TypeServerCertificateType: {
		allowed: InClientHello | InEncryptedExtensions,
		parse:   parseOpaqueBody,
	},
	TypePadding: {
		allowed: InClientHello,
		parse:   parseOpaqueBody,
	},
	TypeCompressCertificate: {
		allowed: InClientHello | InCertificateRequest,
		parse:   parseOpaqueBody,
	},
	TypePreSharedKey: {
		allowed: InClientHello | InServerHello,
		parse:   parsePreSharedKeyBody,
	},
	TypeEarlyData: {
		allowed: InClientHello | InEncryptedExtensions | InNewSessionTicket,
		parse:   parseEarlyDataBody,
	},
	TypeSupportedVersions: {
		allowed: InClientHello | InServerHello | InHelloRetryRequest,
		parse:   parseSupportedVersionsBody,
	},
	TypeCookie: {
		allowed: InClientHello | InHelloRetryRequest,
		parse:   parseCookieBody,
	},
	TypePskKeyExchangeModes: {
		allowed: InClientHello,
		parse:   parsePskModesBody,
	},
	TypeCertificateAuthorities: {
		allowed: InClientHello | InCertificateRequest,
		parse:   parseOpaqueBody,
	},
	TypeOidFilters: {
		allowed: InCertificateRequest,
		parse:   parseOpaqueBody,
	},
	TypePostHandshakeAuth: {
		allowed: InClientHello,
		parse:   parseOpaqueBody,
	},
	TypeSignatureAlgorithmsCert: {
		allowed: InClientHello | InCertificateRequest,
		parse:   parseSignatureAlgorithmsCertBody,
	},
	TypeKeyShare: {
		allowed: InClientHello | InServerHello | InHelloRetryRequest,
		parse:   parseKeyShareBody,
	},
}

// Parse reads one extension (type, length, data) out of r. Unknown
// codepoints consume their data and return ErrUnknownType; recognized
// codepoints that are not legal in msg abort the handshake with a fatal
// illegal_parameter per RFC 8446, section 4.2.
func Parse(r *packet.Reader, msg Message) (Extension, error) {
	typ, err := r.ReadUint16()
	if err != nil {
		return Extension{}, err
	}
	dataLen, err := r.ReadUint16()
	if err != nil {
		return Extension{}, err
	}
	data, err := r.Slice(int(dataLen))
	if err != nil {
		return Extension{}, err
	}

	entry, known := table[Type(typ)]
	if !known {
		log.Trace(1, "skipping unknown extension type %d (%d bytes)", typ, dataLen)
		return Extension{}, ErrUnknownType
	}
	if entry.allowed&msg == 0 {
		log.Warn("extension type %d not permitted here", typ)
		return Extension{}, alert.Fatal(alert.IllegalParameter)
	}

	body, err := entry.parse(data, msg)
	if err != nil {
		return Extension{}, err
	}
	if !data.IsEmpty() {
		return Extension{}, packet.ErrInvalidData
	}
	return Extension{Type(typ), body}, nil
}

// ParseVector reads the u16-prefixed extension block of one handshake
// message. Unknown extensions are skipped; at most max extensions are
// accepted.
func ParseVector(r *packet.Reader, msg Message, max int) ([]Extension, error) {
	total, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	block, err := r.Slice(int(total))
	if err != nil {
		return nil, err
	}

	exts := make([]Extension, 0, max)
	for !block.IsEmpty() {
		ext, err := Parse(block, msg)
		if errors.Is(err, ErrUnknownType) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(exts) == max {
			return nil, packet.ErrInvalidData
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

// Find returns the parsed extension of the given type, if present.
func Find(exts []Extension, t Type) (Extension, bool) {
	for _, e := range exts {
		if e.Type == t {
			return e, true
		}
	}
	return Extension{}, false
}

// Encode writes one extension: codepoint, u16 data length, body.
func Encode(w *packet.Writer, t Type, body func(*packet.Writer) error) error {
	if err := w.WriteUint16(uint16(t)); err != nil {
		return err
	}
	return w.WithLen16(body)
}

// EncodeEmpty writes an extension with a zero-length body.
func EncodeEmpty(w *packet.Writer, t Type) error {
	return Encode(w, t, func(*packet.Writer) error { return nil })
}
