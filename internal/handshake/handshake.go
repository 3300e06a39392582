// Package handshake implements the TLS 1.3 handshake message codecs and
// the transcript-hash bookkeeping around them. Inbound messages are
// zero-copy views into the record buffer; outbound messages are encoded
// straight into the write buffer.
package handshake

import (
	"crypto"
	"encoding"
	"hash"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/logging"
	"github.com/embertls/embertls/internal/packet"
)

var log = logging.DefaultLogger.WithTag("handshake")

// Type is the handshake message type byte.
type Type uint8

const (
	TypeClientHello         Type = 1
	TypeServerHello         Type = 2
	TypeNewSessionTicket    Type = 4
	TypeEndOfEarlyData      Type = 5
	TypeEncryptedExtensions Type = 8
	TypeCertificate         Type = 11
	TypeCertificateRequest  Type = 13
	TypeCertificateVerify   Type = 15
	TypeFinished            Type = 20
	TypeKeyUpdate           Type = 24
	TypeMessageHash         Type = 254
)

// ErrUnimplemented reports a syntactically valid handshake type this
// stack does not process.
var ErrUnimplemented = errors.New("handshake: unimplemented message type")

// ErrInvalid reports a malformed handshake message.
var ErrInvalid = errors.New("handshake: invalid message")

// Message is any parsed inbound handshake message.
type Message interface {
	handshakeType() Type
}

// Transcript is the running hash over the wire form of every handshake
// message, in order. Snapshots (Sum) never perturb the running state.
type Transcript struct {
	alg crypto.Hash
	h   hash.Hash
}

func NewTranscript(alg crypto.Hash) *Transcript {
	return &Transcript{alg, alg.New()}
}

func (t *Transcript) Update(b []byte) {
	t.h.Write(b)
}

// Sum returns the hash of everything fed so far.
func (t *Transcript) Sum() []byte {
	return t.h.Sum(nil)
}

// SumWith returns the hash as if extra had been fed, without feeding it.
func (t *Transcript) SumWith(extra []byte) []byte {
	clone := t.clone()
	clone.Write(extra)
	return clone.Sum(nil)
}

func (t *Transcript) clone() hash.Hash {
	m, err := t.h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic("handshake: transcript hash is not snapshottable: " + err.Error())
	}
	clone := t.alg.New()
	if err := clone.(encoding.BinaryUnmarshaler).UnmarshalBinary(m); err != nil {
		panic("handshake: transcript snapshot restore failed: " + err.Error())
	}
	return clone
}

// ReplaceWithMessageHash substitutes the transcript so far with the
// synthetic message_hash message from RFC 8446, section 4.4.1. Called
// when a HelloRetryRequest arrives: the transcript of ClientHello1 is
// collapsed to Hash(ClientHello1) before the retry request is fed.
func (t *Transcript) ReplaceWithMessageHash() {
	ch1 := t.Sum()
	t.h = t.alg.New()
	t.h.Write([]byte{byte(TypeMessageHash), 0, 0, byte(len(ch1))})
	t.h.Write(ch1)
}

// ReadMessage parses the next handshake message out of r, feeds its wire
// bytes to the transcript, and returns the typed view. Three transcript
// rules live here: Finished and CertificateVerify save the snapshot from
// before their own bytes (their MAC/signature covers the transcript up
// to but not including themselves), and a HelloRetryRequest first
// collapses the transcript to the synthetic message hash form.
func ReadMessage(r *packet.Reader, t *Transcript) (Message, error) {
	start := r.Offset()
	msg, err := parseMessage(r)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *Finished:
		m.TranscriptBefore = t.Sum()
	case *CertificateVerify:
		m.TranscriptBefore = t.Sum()
	case *ServerHello:
		if m.IsHelloRetry {
			t.ReplaceWithMessageHash()
		}
	}
	t.Update(r.Window(start, r.Offset()))
	return msg, nil
}

// ParseMessage parses one complete raw handshake message (header plus
// body) without touching any transcript. The hello phase and the
// post-handshake phase use this form: before the cipher suite is known
// there is no transcript to feed, and post-handshake messages are never
// part of one.
func ParseMessage(raw []byte) (Message, error) {
	r := packet.NewReader(raw)
	msg, err := parseMessage(r)
	if err != nil {
		return nil, err
	}
	if !r.IsEmpty() {
		return nil, ErrInvalid
	}
	return msg, nil
}

func parseMessage(r *packet.Reader) (Message, error) {
	typ, err := r.ReadUint8()
	if err != nil {
		return nil, ErrInvalid
	}
	length, err := r.ReadUint24()
	if err != nil {
		return nil, ErrInvalid
	}
	body, err := r.Slice(int(length))
	if err != nil {
		return nil, ErrInvalid
	}

	log.Trace(1, "handshake message type=%d len=%d", typ, length)

	var msg Message
	switch Type(typ) {
	case TypeClientHello:
		msg, err = parseClientHello(body)
	case TypeServerHello:
		msg, err = parseServerHello(body)
	case TypeNewSessionTicket:
		msg, err = parseNewSessionTicket(body)
	case TypeEncryptedExtensions:
		msg, err = parseEncryptedExtensions(body)
	case TypeCertificate:
		msg, err = parseCertificate(body)
	case TypeCertificateRequest:
		msg, err = parseCertificateRequest(body)
	case TypeCertificateVerify:
		msg, err = parseCertificateVerify(body)
	case TypeFinished:
		msg, err = parseFinished(body)
	case TypeKeyUpdate:
		msg, err = parseKeyUpdate(body)
	default:
		log.Warn("unimplemented handshake type %d", typ)
		return nil, ErrUnimplemented
	}
	if err != nil {
		return nil, err
	}
	if !body.IsEmpty() {
		return nil, ErrInvalid
	}
	return msg, nil
}

// EncodeMessage writes a handshake header around body: the type byte and
// the u24 body length.
func EncodeMessage(w *packet.Writer, typ Type, body func(*packet.Writer) error) error {
	if err := w.WriteUint8(uint8(typ)); err != nil {
		return err
	}
	return w.WithLen24(body)
}
