package handshake

import (
	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

const maxBodyExtensions = 8

// EncryptedExtensions carries the server parameters that do not affect
// key establishment.
type EncryptedExtensions struct {
	Extensions []extension.Extension
}

func (*EncryptedExtensions) handshakeType() Type { return TypeEncryptedExtensions }

func parseEncryptedExtensions(r *packet.Reader) (Message, error) {
	exts, err := extension.ParseVector(r, extension.InEncryptedExtensions, maxBodyExtensions)
	if err != nil {
		return nil, err
	}
	return &EncryptedExtensions{exts}, nil
}

// EncryptedExtensionsParams drives the outbound form.
type EncryptedExtensionsParams struct {
	// AckServerName emits the empty server_name acknowledgment.
	AckServerName bool
}

func (p *EncryptedExtensionsParams) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeEncryptedExtensions, func(w *packet.Writer) error {
		return w.WithLen16(func(w *packet.Writer) error {
			if p.AckServerName {
				return extension.EncodeEmpty(w, extension.TypeServerName)
			}
			return nil
		})
	})
}

// CertificateEntry is one certificate of the peer's chain, leaf first.
type CertificateEntry struct {
	CertData   []byte
	Extensions []extension.Extension
}

func ParseCertificateEntry(r *packet.Reader) (CertificateEntry, error) {
	n, err := r.ReadUint24()
	if err != nil {
		return CertificateEntry{}, err
	}
	if n == 0 {
		return CertificateEntry{}, packet.ErrInvalidData
	}
	der, err := r.ReadSlice(int(n))
	if err != nil {
		return CertificateEntry{}, err
	}
	exts, err := extension.ParseVector(r, extension.InCertificateEntry, maxBodyExtensions)
	if err != nil {
		return CertificateEntry{}, err
	}
	return CertificateEntry{der, exts}, nil
}

func EncodeCertificateEntry(w *packet.Writer, e CertificateEntry) error {
	if err := w.WithLen24(func(w *packet.Writer) error {
		return w.Append(e.CertData)
	}); err != nil {
		return err
	}
	// No per-entry extensions are emitted.
	return w.WriteUint16(0)
}

// Certificate is the certificate message of either peer. An empty entry
// list is how a client declines requested authentication.
type Certificate struct {
	Context []byte
	Entries wire.ListView[CertificateEntry]
}

func (*Certificate) handshakeType() Type { return TypeCertificate }

func parseCertificate(r *packet.Reader) (Message, error) {
	ctx, err := wire.ParseSliceU8(r)
	if err != nil {
		return nil, err
	}
	entries, err := wire.ParseList24(r, ParseCertificateEntry)
	if err != nil {
		return nil, err
	}
	return &Certificate{ctx.B, entries}, nil
}

// Leaf returns the first entry's DER bytes.
func (c *Certificate) Leaf() ([]byte, bool) {
	for e := range c.Entries.All() {
		return e.CertData, true
	}
	return nil, false
}

// CertificateParams drives the outbound form.
type CertificateParams struct {
	Context []byte
	Chain   [][]byte
}

func (p *CertificateParams) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeCertificate, func(w *packet.Writer) error {
		if err := wire.EncodeSliceU8(w, wire.SliceU8{B: p.Context}); err != nil {
			return err
		}
		entries := make([]CertificateEntry, len(p.Chain))
		for i, der := range p.Chain {
			entries[i] = CertificateEntry{CertData: der}
		}
		return wire.EncodeList24(w, wire.SliceBuilder(EncodeCertificateEntry, entries))
	})
}

// CertificateRequest asks the peer to authenticate.
type CertificateRequest struct {
	Context    []byte
	Extensions []extension.Extension
}

func (*CertificateRequest) handshakeType() Type { return TypeCertificateRequest }

func parseCertificateRequest(r *packet.Reader) (Message, error) {
	ctx, err := wire.ParseSliceU8(r)
	if err != nil {
		return nil, err
	}
	exts, err := extension.ParseVector(r, extension.InCertificateRequest, maxBodyExtensions)
	if err != nil {
		return nil, err
	}
	// signature_algorithms is mandatory in this message.
	if _, ok := extension.Find(exts, extension.TypeSignatureAlgorithms); !ok {
		return nil, ErrInvalid
	}
	return &CertificateRequest{ctx.B, exts}, nil
}

// CertificateRequestParams drives the outbound form.
type CertificateRequestParams struct {
	Context []byte
	Schemes []extension.SignatureScheme
}

func (p *CertificateRequestParams) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeCertificateRequest, func(w *packet.Writer) error {
		if err := wire.EncodeSliceU8(w, wire.SliceU8{B: p.Context}); err != nil {
			return err
		}
		return w.WithLen16(func(w *packet.Writer) error {
			return extension.EncodeSignatureAlgorithms(w, p.Schemes)
		})
	})
}

// CertificateVerify proves possession of the certified key with a
// signature over the transcript. TranscriptBefore is the snapshot the
// peer's signature covers (everything up to but not including this
// message); it is populated on receive and ignored on send.
type CertificateVerify struct {
	Scheme           extension.SignatureScheme
	Signature        []byte
	TranscriptBefore []byte
}

func (*CertificateVerify) handshakeType() Type { return TypeCertificateVerify }

func parseCertificateVerify(r *packet.Reader) (Message, error) {
	scheme, err := extension.ParseSignatureScheme(r)
	if err != nil {
		return nil, err
	}
	sig, err := wire.ParseSliceU16(r)
	if err != nil {
		return nil, err
	}
	return &CertificateVerify{scheme, sig.B, nil}, nil
}

func (cv *CertificateVerify) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeCertificateVerify, func(w *packet.Writer) error {
		if err := extension.EncodeSignatureScheme(w, cv.Scheme); err != nil {
			return err
		}
		return wire.EncodeSliceU16(w, wire.SliceU16{B: cv.Signature})
	})
}

// Finished carries the handshake MAC. TranscriptBefore is the transcript
// snapshot taken before this message was fed, which is what the peer's
// MAC covers.
type Finished struct {
	VerifyData       []byte
	TranscriptBefore []byte
}

func (*Finished) handshakeType() Type { return TypeFinished }

func parseFinished(r *packet.Reader) (Message, error) {
	vd, err := r.ReadSlice(r.Remaining())
	if err != nil {
		return nil, err
	}
	if len(vd) == 0 {
		return nil, ErrInvalid
	}
	return &Finished{VerifyData: vd}, nil
}

func (f *Finished) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeFinished, func(w *packet.Writer) error {
		return w.Append(f.VerifyData)
	})
}

// NewSessionTicket delivers a resumption PSK handle after the handshake.
type NewSessionTicket struct {
	Lifetime   uint32
	AgeAdd     uint32
	Nonce      []byte
	Ticket     []byte
	Extensions []extension.Extension
}

func (*NewSessionTicket) handshakeType() Type { return TypeNewSessionTicket }

func parseNewSessionTicket(r *packet.Reader) (Message, error) {
	lifetime, err := r.ReadUint32()
	if err != nil {
		return nil, ErrInvalid
	}
	ageAdd, err := r.ReadUint32()
	if err != nil {
		return nil, ErrInvalid
	}
	nonce, err := wire.ParseSliceU8(r)
	if err != nil {
		return nil, err
	}
	ticket, err := wire.ParseSliceU16(r)
	if err != nil {
		return nil, err
	}
	if len(ticket.B) == 0 {
		return nil, ErrInvalid
	}
	exts, err := extension.ParseVector(r, extension.InNewSessionTicket, maxBodyExtensions)
	if err != nil {
		return nil, err
	}
	return &NewSessionTicket{lifetime, ageAdd, nonce.B, ticket.B, exts}, nil
}

func (t *NewSessionTicket) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeNewSessionTicket, func(w *packet.Writer) error {
		if err := w.WriteUint32(t.Lifetime); err != nil {
			return err
		}
		if err := w.WriteUint32(t.AgeAdd); err != nil {
			return err
		}
		if err := wire.EncodeSliceU8(w, wire.SliceU8{B: t.Nonce}); err != nil {
			return err
		}
		if err := wire.EncodeSliceU16(w, wire.SliceU16{B: t.Ticket}); err != nil {
			return err
		}
		return w.WriteUint16(0) // no extensions
	})
}

// KeyUpdate requests or announces a traffic-secret rotation.
type KeyUpdate struct {
	UpdateRequested bool
}

func (*KeyUpdate) handshakeType() Type { return TypeKeyUpdate }

func parseKeyUpdate(r *packet.Reader) (Message, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return nil, ErrInvalid
	}
	switch v {
	case 0:
		return &KeyUpdate{false}, nil
	case 1:
		return &KeyUpdate{true}, nil
	}
	return nil, packet.ErrInvalidData
}

func (k *KeyUpdate) Encode(w *packet.Writer) error {
	return EncodeMessage(w, TypeKeyUpdate, func(w *packet.Writer) error {
		var v uint8
		if k.UpdateRequested {
			v = 1
		}
		return w.WriteUint8(v)
	})
}
