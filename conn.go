// Package embertls is an embeddable TLS 1.3 stack: client and server
// over any byte-oriented transport, caller-provided record buffers, and
// a pluggable crypto provider. Only TLS 1.3 (RFC 8446) is spoken; there
// is no renegotiation, no compression, and no downgrade path.
package embertls

import (
	"crypto/x509"
	"io"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/handshake"
	"github.com/embertls/embertls/internal/keys"
	"github.com/embertls/embertls/internal/logging"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/record"
	"github.com/embertls/embertls/internal/suite"
)

var log = logging.DefaultLogger.WithTag("tls")

const (
	serverSignatureContext = "TLS 1.3, server CertificateVerify"
	clientSignatureContext = "TLS 1.3, client CertificateVerify"
)

// Conn is one TLS connection over a byte transport. It is driven by a
// single goroutine: the core holds no locks and spawns nothing.
type Conn struct {
	transport io.ReadWriter
	config    *Config
	provider  CryptoProvider
	isClient  bool

	readBuf  []byte
	writeBuf []byte

	in  record.HalfConn
	out record.HalfConn

	cs         *suite.Suite
	ks         *keys.Schedule
	transcript *handshake.Transcript

	// hsBuf reassembles handshake messages that are fragmented across
	// records or coalesced inside one.
	hsBuf      []byte
	hsConsumed int

	pending       []byte // undelivered plaintext of the current record
	eof           bool
	closed        bool
	handshakeDone bool
	err           error

	peer             *VerifiedLeaf
	resumedWithPSK   bool
	exporterMaster   []byte
	resumptionMaster []byte
}

// Client wraps transport as the client side of a TLS connection.
func Client(transport io.ReadWriter, config *Config) *Conn {
	return newConn(transport, config, true)
}

// Server wraps transport as the server side of a TLS connection.
func Server(transport io.ReadWriter, config *Config) *Conn {
	return newConn(transport, config, false)
}

func newConn(transport io.ReadWriter, config *Config, isClient bool) *Conn {
	if config == nil {
		config = &Config{}
	}
	readBuf := config.ReadBuffer
	if readBuf == nil {
		readBuf = make([]byte, record.MaxCiphertextLen)
	}
	writeBuf := config.WriteBuffer
	if writeBuf == nil {
		writeBuf = make([]byte, record.HeaderLen+record.MaxCiphertextLen)
	}
	return &Conn{
		transport: transport,
		config:    config,
		provider:  config.provider(),
		isClient:  isClient,
		readBuf:   readBuf,
		writeBuf:  writeBuf,
	}
}

// Handshake runs the TLS handshake if it has not run yet. It is invoked
// implicitly by the first Read or Write.
func (c *Conn) Handshake() error {
	if c.handshakeDone {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	var err error
	if c.isClient {
		err = c.clientHandshake()
	} else {
		err = c.serverHandshake()
	}
	if err != nil {
		return c.fail(err)
	}
	c.handshakeDone = true
	return nil
}

// ConnectionState reports negotiated parameters once the handshake is
// done.
type ConnectionState struct {
	Suite           suite.ID
	PeerCertificate *x509.Certificate
	ResumedWithPSK  bool
}

func (c *Conn) ConnectionState() ConnectionState {
	st := ConnectionState{ResumedWithPSK: c.resumedWithPSK}
	if c.cs != nil {
		st.Suite = c.cs.ID
	}
	if c.peer != nil {
		st.PeerCertificate = c.peer.Certificate
	}
	return st
}

// record plumbing

// readRecord returns the plaintext and true content type of the next
// record, silently dropping middlebox ChangeCipherSpec records.
func (c *Conn) readRecord() ([]byte, record.ContentType, error) {
	for {
		h, payload, err := record.ReadFrom(c.transport, c.readBuf)
		if err != nil {
			return nil, 0, mapDecodeError(err)
		}
		if record.IsChangeCipherSpec(h, payload) {
			log.Trace(1, "dropping middlebox change_cipher_spec")
			continue
		}
		if h.Type == record.TypeChangeCipherSpec {
			return nil, 0, alert.Fatal(alert.UnexpectedMessage)
		}
		pt, inner, err := c.in.Open(h, payload)
		if err != nil {
			return nil, 0, err
		}
		return pt, inner, nil
	}
}

// nextRawHandshake returns the wire bytes of the next complete handshake
// message, pulling records as needed. The returned slice stays valid
// until the next call.
func (c *Conn) nextRawHandshake() ([]byte, error) {
	if c.hsConsumed > 0 {
		c.hsBuf = append(c.hsBuf[:0], c.hsBuf[c.hsConsumed:]...)
		c.hsConsumed = 0
	}
	for {
		if len(c.hsBuf) >= 4 {
			n := int(c.hsBuf[1])<<16 | int(c.hsBuf[2])<<8 | int(c.hsBuf[3])
			if 4+n <= len(c.hsBuf) {
				c.hsConsumed = 4 + n
				return c.hsBuf[:4+n], nil
			}
		}
		pt, inner, err := c.readRecord()
		if err != nil {
			return nil, err
		}
		switch inner {
		case record.TypeHandshake:
			if len(pt) == 0 {
				return nil, ErrInvalidHandshake
			}
			c.hsBuf = append(c.hsBuf, pt...)
		case record.TypeAlert:
			return nil, c.alertToError(pt)
		default:
			return nil, alert.Fatal(alert.UnexpectedMessage)
		}
	}
}

// hsResidue reports buffered handshake bytes beyond the last returned
// message. Key rotations must land on a message boundary: leftover bytes
// at a rotation point mean the peer straddled a protection change.
func (c *Conn) hsResidue() int {
	return len(c.hsBuf) - c.hsConsumed
}

// nextMessage reads one transcript-tracked handshake message.
func (c *Conn) nextMessage() (handshake.Message, error) {
	raw, err := c.nextRawHandshake()
	if err != nil {
		return nil, err
	}
	msg, err := handshake.ReadMessage(packet.NewReader(raw), c.transcript)
	if err != nil {
		return nil, mapDecodeError(err)
	}
	return msg, nil
}

func (c *Conn) alertToError(payload []byte) error {
	a, err := alert.Parse(packet.NewReader(payload))
	if err != nil {
		return ErrDecodeError
	}
	return &AlertError{a}
}

// writeRecord frames, optionally seals, and sends one record whose
// payload is produced by body.
func (c *Conn) writeRecord(inner record.ContentType, body func(*packet.Writer) error) error {
	w := packet.NewWriter(c.writeBuf)
	if err := w.Advance(record.HeaderLen); err != nil {
		return mapEncodeError(err)
	}
	if err := body(w); err != nil {
		return mapEncodeError(err)
	}
	if err := c.out.Seal(w, inner, 0); err != nil {
		return mapEncodeError(err)
	}
	if _, err := c.transport.Write(w.Bytes()); err != nil {
		return errors.Wrap(err, "tls: transport write")
	}
	return nil
}

// sendHandshake encodes one handshake message, lets patch rewrite the
// serialized bytes (PSK binders), feeds the final form to the
// transcript, and sends it under the current write keys.
func (c *Conn) sendHandshake(encode func(*packet.Writer) error, patch func(raw []byte) error) error {
	return c.writeHandshake(encode, patch, true)
}

// sendPostHandshake is sendHandshake for messages after the handshake,
// which are never part of the transcript.
func (c *Conn) sendPostHandshake(encode func(*packet.Writer) error) error {
	return c.writeHandshake(encode, nil, false)
}

func (c *Conn) writeHandshake(encode func(*packet.Writer) error, patch func(raw []byte) error, feed bool) error {
	w := packet.NewWriter(c.writeBuf)
	if err := w.Advance(record.HeaderLen); err != nil {
		return mapEncodeError(err)
	}
	if err := encode(w); err != nil {
		return mapEncodeError(err)
	}
	raw := w.Bytes()[record.HeaderLen:]
	if patch != nil {
		if err := patch(raw); err != nil {
			return err
		}
	}
	if feed {
		c.transcript.Update(raw)
	}
	if err := c.out.Seal(w, record.TypeHandshake, 0); err != nil {
		return mapEncodeError(err)
	}
	if _, err := c.transport.Write(w.Bytes()); err != nil {
		return errors.Wrap(err, "tls: transport write")
	}
	return nil
}

func (c *Conn) sendAlert(a alert.Alert) {
	// Best effort; the connection is usually on its way down.
	_ = c.writeRecord(record.TypeAlert, a.EncodeTo)
}

// fail records the first error, emits a fatal alert when the peer does
// not already know, and makes the error sticky.
func (c *Conn) fail(err error) error {
	if c.err != nil {
		return c.err
	}
	err = mapDecodeError(err)
	var remote *AlertError
	if !errors.As(err, &remote) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		c.sendAlert(alertFor(err))
	}
	c.err = err
	log.Error("connection failed: %v", err)
	return err
}

// rotation helpers

func (c *Conn) rekeyRead(secret []byte) error {
	c.ks.Read.SetTraffic(c.cs, secret)
	return c.in.Rekey(c.cs, &c.ks.Read)
}

func (c *Conn) rekeyWrite(secret []byte) error {
	c.ks.Write.SetTraffic(c.cs, secret)
	return c.out.Rekey(c.cs, &c.ks.Write)
}

// application data

func (c *Conn) Read(p []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	if c.err != nil {
		return 0, c.err
	}
	if c.closed {
		return 0, ErrConnectionClosed
	}
	for len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		pt, inner, err := c.readRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.eof = true
				return 0, io.EOF
			}
			return 0, c.fail(err)
		}
		switch inner {
		case record.TypeApplicationData:
			c.pending = pt
		case record.TypeHandshake:
			if err := c.handlePostHandshake(pt); err != nil {
				return 0, c.fail(err)
			}
		case record.TypeAlert:
			a, err := alert.Parse(packet.NewReader(pt))
			if err != nil {
				return 0, c.fail(ErrDecodeError)
			}
			if a.Description == alert.CloseNotify {
				// Drain what we have, then report EOF.
				c.eof = true
				continue
			}
			return 0, c.fail(&AlertError{a})
		default:
			return 0, c.fail(alert.Fatal(alert.UnexpectedMessage))
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	if c.err != nil {
		return 0, c.err
	}
	if c.closed {
		return 0, ErrConnectionClosed
	}

	// Per-record ceiling: what the write buffer can hold after header,
	// inner type byte, and AEAD expansion, capped by the protocol limit.
	chunk := len(c.writeBuf) - record.HeaderLen - 1 - maxAEADOverhead
	if chunk > record.MaxPlaintextLen {
		chunk = record.MaxPlaintextLen
	}

	var total int
	for len(p) > 0 {
		n := len(p)
		if n > chunk {
			n = chunk
		}
		err := c.writeRecord(record.TypeApplicationData, func(w *packet.Writer) error {
			return w.Append(p[:n])
		})
		if err != nil {
			return total, c.fail(err)
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

const maxAEADOverhead = 16

// Close sends close_notify and closes the transport if it can be
// closed. Pending inbound plaintext is discarded.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.err == nil && c.handshakeDone {
		c.sendAlert(alert.Alert{Level: alert.LevelWarning, Description: alert.CloseNotify})
	}
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// post-handshake messages

func (c *Conn) handlePostHandshake(pt []byte) error {
	r := packet.NewReader(pt)
	for !r.IsEmpty() {
		start := r.Offset()
		if _, err := r.ReadUint8(); err != nil {
			return ErrInvalidHandshake
		}
		n, err := r.ReadUint24()
		if err != nil {
			return ErrInvalidHandshake
		}
		if _, err := r.ReadSlice(int(n)); err != nil {
			return ErrInvalidHandshake
		}
		msg, err := handshake.ParseMessage(r.Window(start, r.Offset()))
		if err != nil {
			return mapDecodeError(err)
		}
		switch m := msg.(type) {
		case *handshake.NewSessionTicket:
			if err := c.storeSessionTicket(m); err != nil {
				return err
			}
		case *handshake.KeyUpdate:
			if err := c.handleKeyUpdate(m); err != nil {
				return err
			}
		default:
			return alert.Fatal(alert.UnexpectedMessage)
		}
	}
	return nil
}

func (c *Conn) storeSessionTicket(m *handshake.NewSessionTicket) error {
	if !c.isClient {
		return alert.Fatal(alert.UnexpectedMessage)
	}
	if c.config.TicketCache == nil || c.config.ServerName == "" {
		log.Debug("discarding session ticket (no cache configured)")
		return nil
	}
	psk := keys.ResumptionPSK(c.cs, c.resumptionMaster, m.Nonce)
	c.config.TicketCache.put(c.config.ServerName, &sessionTicket{
		ticket:     append([]byte(nil), m.Ticket...),
		psk:        psk,
		suiteID:    c.cs.ID,
		ageAdd:     m.AgeAdd,
		lifetime:   m.Lifetime,
		receivedAt: c.config.now(),
	})
	log.Debug("cached session ticket for %q", c.config.ServerName)
	return nil
}

func (c *Conn) handleKeyUpdate(m *handshake.KeyUpdate) error {
	c.ks.Read.Update()
	if err := c.in.Rekey(c.cs, &c.ks.Read); err != nil {
		return err
	}
	if m.UpdateRequested {
		// Answer under the old write keys, then rotate our own.
		ku := handshake.KeyUpdate{UpdateRequested: false}
		if err := c.sendPostHandshake(ku.Encode); err != nil {
			return err
		}
		c.ks.Write.Update()
		if err := c.out.Rekey(c.cs, &c.ks.Write); err != nil {
			return err
		}
	}
	return nil
}

// SendKeyUpdate rotates our write keys, optionally asking the peer to
// rotate theirs too. The update message goes out under the old keys.
func (c *Conn) SendKeyUpdate(requestUpdate bool) error {
	if err := c.Handshake(); err != nil {
		return err
	}
	ku := handshake.KeyUpdate{UpdateRequested: requestUpdate}
	if err := c.sendPostHandshake(ku.Encode); err != nil {
		return c.fail(err)
	}
	c.ks.Write.Update()
	if err := c.out.Rekey(c.cs, &c.ks.Write); err != nil {
		return c.fail(err)
	}
	return nil
}

// signatureMessage builds the CertificateVerify input: 64 spaces, the
// context string, a zero byte, and the transcript hash (RFC 8446,
// section 4.4.3).
func signatureMessage(context string, transcriptHash []byte) []byte {
	b := make([]byte, 0, 64+len(context)+1+len(transcriptHash))
	for i := 0; i < 64; i++ {
		b = append(b, 0x20)
	}
	b = append(b, context...)
	b = append(b, 0)
	b = append(b, transcriptHash...)
	return b
}
