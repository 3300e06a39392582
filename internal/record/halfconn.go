package record

import (
	"crypto/cipher"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/keys"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/suite"
)

// HalfConn is the record protection state for one direction. Until the
// first traffic secret is installed the direction is in the clear; every
// install resets the sequence number to zero.
type HalfConn struct {
	encrypted bool
	aead      cipher.AEAD
	iv        [suite.NonceLen]byte
	seq       uint64
}

// Rekey derives key and IV from the half schedule's current traffic
// secret and installs them, resetting the sequence number.
func (hc *HalfConn) Rekey(s *suite.Suite, half *keys.Half) error {
	key, iv, err := half.Keys()
	if err != nil {
		return err
	}
	aead, err := s.NewAEAD(key)
	if err != nil {
		return errors.Wrap(err, "record: rekey")
	}
	hc.aead = aead
	copy(hc.iv[:], iv)
	hc.seq = 0
	hc.encrypted = true
	log.Debug("traffic keys installed, sequence reset")
	return nil
}

func (hc *HalfConn) Encrypted() bool {
	return hc.encrypted
}

func (hc *HalfConn) Seq() uint64 {
	return hc.seq
}

// nonceFor is iv XOR be64(seq), left-padded to the nonce length
// (RFC 8446, section 5.3).
func (hc *HalfConn) nonceFor(seq uint64) [suite.NonceLen]byte {
	nonce := hc.iv
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i, b := range seqBytes {
		nonce[suite.NonceLen-8+i] ^= b
	}
	return nonce
}

// Seal finishes the record that begins at offset start in w. The caller
// has already reserved HeaderLen bytes at start and written the payload
// after them. In the clear the true content type goes on the wire; in an
// encrypted epoch the inner type byte is appended, the payload is sealed
// in place, and the outer type is always application_data.
func (hc *HalfConn) Seal(w *packet.Writer, inner ContentType, start int) error {
	if !hc.encrypted {
		n := w.Len() - start - HeaderLen
		if n > MaxPlaintextLen {
			return alert.Fatal(alert.RecordOverflow)
		}
		Header{inner, clearVersion(inner), n}.Encode(w.Bytes()[start:])
		hc.seq++
		return nil
	}

	if err := w.WriteUint8(uint8(inner)); err != nil {
		return err
	}
	ptLen := w.Len() - start - HeaderLen
	if ptLen > MaxPlaintextLen+1 {
		return alert.Fatal(alert.RecordOverflow)
	}
	overhead := hc.aead.Overhead()
	if err := w.Advance(overhead); err != nil {
		return err
	}

	hdr := w.Bytes()[start : start+HeaderLen]
	Header{TypeApplicationData, 0x0303, ptLen + overhead}.Encode(hdr)

	payload := w.Bytes()[start+HeaderLen:]
	nonce := hc.nonceFor(hc.seq)
	hc.aead.Seal(payload[:0], nonce[:], payload[:ptLen], hdr)
	hc.seq++
	log.Trace(2, "tx record inner=%d pt=%d seq=%d", inner, ptLen, hc.seq-1)
	return nil
}

// Open recovers the plaintext and true content type of a received
// record. Unprotected records pass through; protected records are
// decrypted in place, their zero padding trimmed, and the trailing
// inner type byte extracted.
func (hc *HalfConn) Open(h Header, payload []byte) ([]byte, ContentType, error) {
	if !hc.encrypted || h.Type != TypeApplicationData {
		hc.seq++
		return payload, h.Type, nil
	}

	var hdr [HeaderLen]byte
	h.Encode(hdr[:])
	nonce := hc.nonceFor(hc.seq)
	pt, err := hc.aead.Open(payload[:0], nonce[:], payload, hdr[:])
	if err != nil {
		return nil, 0, alert.Fatal(alert.BadRecordMAC)
	}
	hc.seq++

	// The inner content type is the last non-zero byte; everything after
	// it is padding.
	i := len(pt) - 1
	for i >= 0 && pt[i] == 0 {
		i--
	}
	if i < 0 {
		// A protected record with no content type is forbidden.
		return nil, 0, alert.Fatal(alert.UnexpectedMessage)
	}
	inner := ContentType(pt[i])
	if !validContentType(inner) || inner == TypeInvalid || inner == TypeChangeCipherSpec {
		return nil, 0, alert.Fatal(alert.UnexpectedMessage)
	}
	return pt[:i], inner, nil
}
