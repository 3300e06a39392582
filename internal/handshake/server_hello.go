package handshake

import (
	"bytes"

	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/suite"
)

// helloRetryRandom is the fixed ServerHello.random that marks a
// HelloRetryRequest (RFC 8446, section 4.1.3).
var helloRetryRandom = []byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

const maxServerHelloExtensions = 8

// ServerHello is the parsed inbound form, covering both a genuine
// ServerHello and a HelloRetryRequest. The two are told apart by the
// magic random value and parse their extension vectors under different
// rules.
type ServerHello struct {
	Random        []byte
	SessionIDEcho []byte
	Suite         suite.ID
	Extensions    []extension.Extension
	IsHelloRetry  bool
}

func (*ServerHello) handshakeType() Type { return TypeServerHello }

func parseServerHello(r *packet.Reader) (Message, error) {
	random, sessionID, err := parseHelloPrefix(r)
	if err != nil {
		return nil, err
	}
	isRetry := bytes.Equal(random, helloRetryRandom)

	id, err := r.ReadUint16()
	if err != nil {
		return nil, ErrInvalidCipherSuite
	}

	compression, err := r.ReadUint8()
	if err != nil || compression != 0 {
		return nil, ErrInvalid
	}

	msg := extension.InServerHello
	if isRetry {
		msg = extension.InHelloRetryRequest
	}
	exts, err := extension.ParseVector(r, msg, maxServerHelloExtensions)
	if err != nil {
		return nil, err
	}

	return &ServerHello{
		Random:        random,
		SessionIDEcho: sessionID,
		Suite:         suite.ID(id),
		Extensions:    exts,
		IsHelloRetry:  isRetry,
	}, nil
}

// KeyShare returns the selected key share, if present.
func (sh *ServerHello) KeyShare() (extension.KeyShareEntry, bool) {
	e, ok := extension.Find(sh.Extensions, extension.TypeKeyShare)
	if !ok {
		return extension.KeyShareEntry{}, false
	}
	body, ok := e.Body.(extension.KeyShareServerHello)
	return body.Entry, ok
}

// RetryGroup returns the group a HelloRetryRequest asks for.
func (sh *ServerHello) RetryGroup() (extension.NamedGroup, bool) {
	e, ok := extension.Find(sh.Extensions, extension.TypeKeyShare)
	if !ok {
		return 0, false
	}
	body, ok := e.Body.(extension.KeyShareHelloRetryRequest)
	return body.SelectedGroup, ok
}

// RetryCookie returns the cookie a HelloRetryRequest asks the client to
// echo.
func (sh *ServerHello) RetryCookie() ([]byte, bool) {
	e, ok := extension.Find(sh.Extensions, extension.TypeCookie)
	if !ok {
		return nil, false
	}
	body, ok := e.Body.(extension.Cookie)
	return body.Value, ok
}

// SelectedVersion returns the supported_versions response.
func (sh *ServerHello) SelectedVersion() (uint16, bool) {
	e, ok := extension.Find(sh.Extensions, extension.TypeSupportedVersions)
	if !ok {
		return 0, false
	}
	body, ok := e.Body.(extension.SelectedVersion)
	return body.Version, ok
}

// SelectedPsk returns the pre_shared_key response.
func (sh *ServerHello) SelectedPsk() (uint16, bool) {
	e, ok := extension.Find(sh.Extensions, extension.TypePreSharedKey)
	if !ok {
		return 0, false
	}
	body, ok := e.Body.(extension.PreSharedKeySelected)
	return body.Identity, ok
}

// ServerHelloParams drives the outbound encoding on the server side.
type ServerHelloParams struct {
	Random        [32]byte
	SessionIDEcho []byte
	Suite         suite.ID

	// Exactly one of KeyShare (full hello) or RetryGroup (retry request)
	// is set; HelloRetry selects the retry form.
	HelloRetry bool
	KeyShare   extension.KeyShareEntry
	RetryGroup extension.NamedGroup
	Cookie     []byte

	// SelectedPsk is the accepted offer index; negative when no PSK was
	// accepted.
	SelectedPsk int
}

func (p *ServerHelloParams) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeServerHello, func(w *packet.Writer) error {
		if err := w.WriteUint16(legacyVersion); err != nil {
			return err
		}
		random := p.Random[:]
		if p.HelloRetry {
			random = helloRetryRandom
		}
		if err := w.Append(random); err != nil {
			return err
		}
		if err := w.WithLen8(func(w *packet.Writer) error {
			return w.Append(p.SessionIDEcho)
		}); err != nil {
			return err
		}
		if err := w.WriteUint16(uint16(p.Suite)); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil { // compression
			return err
		}
		return w.WithLen16(func(w *packet.Writer) error {
			if err := extension.EncodeSelectedVersion(w, extension.VersionTLS13); err != nil {
				return err
			}
			if p.HelloRetry {
				if err := extension.EncodeKeyShareHelloRetryRequest(w, p.RetryGroup); err != nil {
					return err
				}
				if p.Cookie != nil {
					return extension.EncodeCookie(w, p.Cookie)
				}
				return nil
			}
			if err := extension.EncodeKeyShareServerHello(w, p.KeyShare); err != nil {
				return err
			}
			if p.SelectedPsk >= 0 {
				return extension.EncodePreSharedKeySelected(w, uint16(p.SelectedPsk))
			}
			return nil
		})
	})
}
