package handshake

import (
	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/suite"
)

const legacyVersion uint16 = 0x0303

// maxClientHelloExtensions bounds the parsed extension vector; the
// defined set plus opaque passthrough types fit comfortably.
const maxClientHelloExtensions = 16

// ClientHello is the parsed inbound form, used by the server side. All
// byte fields are views into the record buffer.
type ClientHello struct {
	Random       []byte
	SessionID    []byte
	cipherSuites []byte
	Extensions   []extension.Extension
}

func (*ClientHello) handshakeType() Type { return TypeClientHello }

// CipherSuites iterates the offered suites in order.
func (ch *ClientHello) CipherSuites() []suite.ID {
	ids := make([]suite.ID, 0, len(ch.cipherSuites)/2)
	r := packet.NewReader(ch.cipherSuites)
	for !r.IsEmpty() {
		v, err := r.ReadUint16()
		if err != nil {
			break
		}
		ids = append(ids, suite.ID(v))
	}
	return ids
}

// parseHelloPrefix reads the fields shared by both hello messages up to
// and including the legacy session id.
func parseHelloPrefix(r *packet.Reader) (random, sessionID []byte, err error) {
	if _, err = r.ReadUint16(); err != nil { // legacy_version
		return nil, nil, ErrInvalid
	}
	if random, err = r.ReadSlice(32); err != nil {
		return nil, nil, ErrInvalid
	}
	n, err := r.ReadUint8()
	if err != nil || n > 32 {
		return nil, nil, ErrInvalidSessionID
	}
	if sessionID, err = r.ReadSlice(int(n)); err != nil {
		return nil, nil, ErrInvalidSessionID
	}
	return random, sessionID, nil
}

func parseClientHello(r *packet.Reader) (Message, error) {
	random, sessionID, err := parseHelloPrefix(r)
	if err != nil {
		return nil, err
	}

	n, err := r.ReadUint16()
	if err != nil || n < 2 || n%2 != 0 {
		return nil, ErrInvalidCipherSuite
	}
	suites, err := r.ReadSlice(int(n))
	if err != nil {
		return nil, ErrInvalidCipherSuite
	}

	// legacy_compression_methods must be the single null method.
	cn, err := r.ReadUint8()
	if err != nil {
		return nil, ErrInvalid
	}
	compression, err := r.ReadSlice(int(cn))
	if err != nil || len(compression) != 1 || compression[0] != 0 {
		return nil, ErrInvalid
	}

	exts, err := extension.ParseVector(r, extension.InClientHello, maxClientHelloExtensions)
	if err != nil {
		return nil, err
	}

	return &ClientHello{
		Random:       random,
		SessionID:    sessionID,
		cipherSuites: suites,
		Extensions:   exts,
	}, nil
}

// PskOffer returns the pre_shared_key body, which the wire grammar
// requires to be the last extension when present.
func (ch *ClientHello) PskOffer() (extension.PreSharedKeyClientHello, bool) {
	e, ok := extension.Find(ch.Extensions, extension.TypePreSharedKey)
	if !ok {
		return extension.PreSharedKeyClientHello{}, false
	}
	psk, ok := e.Body.(extension.PreSharedKeyClientHello)
	return psk, ok
}

// ClientHelloParams drives the outbound encoding on the client side.
type ClientHelloParams struct {
	Random           [32]byte
	SessionID        []byte
	CipherSuites     []suite.ID
	ServerName       string
	Groups           []extension.NamedGroup
	KeyShares        []extension.KeyShareEntry
	SignatureSchemes []extension.SignatureScheme

	// PSK offer; BinderLens reserves zeroed binder space that the caller
	// back-patches after hashing the serialized prefix.
	PskModes      []extension.PskKeyExchangeMode
	PskIdentities []extension.PskIdentity
	BinderLens    []int

	// Cookie from a HelloRetryRequest, echoed on retry.
	Cookie []byte
}

// Encode writes the full handshake message, header included. When a PSK
// is offered the pre_shared_key extension is emitted last with zeroed
// binders; BinderSuffixLen locates the placeholder region at the tail of
// the encoded message.
func (p *ClientHelloParams) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeClientHello, func(w *packet.Writer) error {
		if err := w.WriteUint16(legacyVersion); err != nil {
			return err
		}
		if err := w.Append(p.Random[:]); err != nil {
			return err
		}
		if err := w.WithLen8(func(w *packet.Writer) error {
			return w.Append(p.SessionID)
		}); err != nil {
			return err
		}
		if err := w.WithLen16(func(w *packet.Writer) error {
			for _, id := range p.CipherSuites {
				if err := w.WriteUint16(uint16(id)); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		// legacy_compression_methods = [null]
		if err := w.WriteUint8(1); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		return w.WithLen16(p.encodeExtensions)
	})
}

func (p *ClientHelloParams) encodeExtensions(w *packet.Writer) error {
	if p.ServerName != "" {
		names := []extension.ServerName{{Name: p.ServerName}}
		if err := extension.EncodeServerNameList(w, names); err != nil {
			return err
		}
	}
	if err := extension.EncodeSupportedVersionsClientHello(w, []uint16{extension.VersionTLS13}); err != nil {
		return err
	}
	if err := extension.EncodeSupportedGroups(w, p.Groups); err != nil {
		return err
	}
	if err := extension.EncodeSignatureAlgorithms(w, p.SignatureSchemes); err != nil {
		return err
	}
	if err := extension.EncodeKeyShareClientHello(w, p.KeyShares); err != nil {
		return err
	}
	if p.Cookie != nil {
		if err := extension.EncodeCookie(w, p.Cookie); err != nil {
			return err
		}
	}
	if len(p.PskIdentities) > 0 {
		if err := extension.EncodePskKeyExchangeModes(w, p.PskModes); err != nil {
			return err
		}
		// pre_shared_key must be the last extension (RFC 8446, 4.2.11).
		if err := extension.EncodePreSharedKeyClientHello(w, p.PskIdentities, p.BinderLens); err != nil {
			return err
		}
	}
	return nil
}

// BinderSuffixLen is the number of bytes at the tail of the encoded
// message occupied by the binder list, zero when no PSK is offered.
func (p *ClientHelloParams) BinderSuffixLen() int {
	if len(p.PskIdentities) == 0 {
		return 0
	}
	return extension.BinderListLen(p.BinderLens)
}
