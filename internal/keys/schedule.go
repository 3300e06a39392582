// Package keys implements the TLS 1.3 key schedule (RFC 8446, section
// 7.1): the Extract ladder from early through handshake to master, and
// the per-direction traffic secrets hanging off it. The schedule is split
// into a read half and a write half because the two directions rotate at
// different transcript points.
package keys

import (
	"crypto/hmac"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/suite"
)

// Stage tracks how far down the ladder the schedule has moved.
type Stage int

const (
	StageInitial Stage = iota
	StageEarly
	StageHandshake
	StageMaster
)

// Half is one direction of the schedule. It owns the current traffic
// secret for that direction and derives the record-layer key material
// and the Finished key from it.
type Half struct {
	s       *suite.Suite
	traffic []byte
}

// SetTraffic installs a new traffic secret for this direction.
func (h *Half) SetTraffic(s *suite.Suite, secret []byte) {
	h.s = s
	h.traffic = secret
}

// Keys derives the AEAD key and IV from the current traffic secret
// (RFC 8446, section 7.3).
func (h *Half) Keys() (key, iv []byte, err error) {
	if h.traffic == nil {
		return nil, nil, errors.New("keys: no traffic secret installed")
	}
	key = expandLabel(h.s.Hash, h.traffic, "key", nil, h.s.KeyLen)
	iv = expandLabel(h.s.Hash, h.traffic, "iv", nil, suite.NonceLen)
	return key, iv, nil
}

// FinishedKey derives the HMAC key for the Finished message sent (or
// verified) under this direction's current traffic secret.
func (h *Half) FinishedKey() []byte {
	return expandLabel(h.s.Hash, h.traffic, "finished", nil, h.s.Hash.Size())
}

// VerifyData computes HMAC(finished_key, transcript).
func (h *Half) VerifyData(transcriptHash []byte) []byte {
	mac := hmac.New(h.s.Hash.New, h.FinishedKey())
	mac.Write(transcriptHash)
	return mac.Sum(nil)
}

// Update rotates the traffic secret per RFC 8446, section 7.2.
func (h *Half) Update() {
	h.traffic = expandLabel(h.s.Hash, h.traffic, "traffic upd", nil, h.s.Hash.Size())
}

// Schedule is the shared Extract ladder plus the two halves.
type Schedule struct {
	s     *suite.Suite
	stage Stage

	early     []byte
	handshake []byte
	master    []byte

	Read  Half
	Write Half
}

func NewSchedule(s *suite.Suite) *Schedule {
	return &Schedule{s: s}
}

func (ks *Schedule) Suite() *suite.Suite {
	return ks.s
}

func (ks *Schedule) Stage() Stage {
	return ks.stage
}

func (ks *Schedule) zeros() []byte {
	return make([]byte, ks.s.Hash.Size())
}

// InitEarly computes the early secret. psk is nil when no PSK is in
// play, in which case a string of hash-length zeros stands in.
func (ks *Schedule) InitEarly(psk []byte) error {
	if ks.stage != StageInitial {
		return errors.Errorf("keys: early secret requested at stage %d", ks.stage)
	}
	if psk == nil {
		psk = ks.zeros()
	}
	ks.early = extract(ks.s.Hash, psk, nil)
	ks.stage = StageEarly
	return nil
}

// BinderKey derives the PSK binder key from the early secret. external
// selects the "ext binder" label; resumption PSKs use "res binder".
func (ks *Schedule) BinderKey(external bool) ([]byte, error) {
	if ks.stage != StageEarly {
		return nil, errors.Errorf("keys: binder key requested at stage %d", ks.stage)
	}
	label := "res binder"
	if external {
		label = "ext binder"
	}
	base := deriveSecret(ks.s.Hash, ks.early, label, emptyHash(ks.s.Hash))
	return expandLabel(ks.s.Hash, base, "finished", nil, ks.s.Hash.Size()), nil
}

// ToHandshake moves the ladder past the (EC)DHE contribution. A nil
// shared secret (pure-PSK handshake) contributes zeros.
func (ks *Schedule) ToHandshake(sharedSecret []byte) error {
	if ks.stage == StageInitial {
		if err := ks.InitEarly(nil); err != nil {
			return err
		}
	}
	if ks.stage != StageEarly {
		return errors.Errorf("keys: handshake secret requested at stage %d", ks.stage)
	}
	if sharedSecret == nil {
		sharedSecret = ks.zeros()
	}
	derived := deriveSecret(ks.s.Hash, ks.early, "derived", emptyHash(ks.s.Hash))
	ks.handshake = extract(ks.s.Hash, sharedSecret, derived)
	ks.stage = StageHandshake
	return nil
}

// HandshakeTrafficSecrets binds the handshake traffic secrets to the
// transcript hash at the ServerHello boundary.
func (ks *Schedule) HandshakeTrafficSecrets(transcriptHash []byte) (client, server []byte, err error) {
	if ks.stage != StageHandshake {
		return nil, nil, errors.Errorf("keys: handshake traffic requested at stage %d", ks.stage)
	}
	client = deriveSecret(ks.s.Hash, ks.handshake, "c hs traffic", transcriptHash)
	server = deriveSecret(ks.s.Hash, ks.handshake, "s hs traffic", transcriptHash)
	return client, server, nil
}

// ToMaster finishes the Extract ladder.
func (ks *Schedule) ToMaster() error {
	if ks.stage != StageHandshake {
		return errors.Errorf("keys: master secret requested at stage %d", ks.stage)
	}
	derived := deriveSecret(ks.s.Hash, ks.handshake, "derived", emptyHash(ks.s.Hash))
	ks.master = extract(ks.s.Hash, ks.zeros(), derived)
	ks.stage = StageMaster
	return nil
}

// ApplicationTrafficSecrets binds the application traffic secrets to the
// transcript at the server Finished boundary.
func (ks *Schedule) ApplicationTrafficSecrets(transcriptHash []byte) (client, server []byte, err error) {
	if ks.stage != StageMaster {
		return nil, nil, errors.Errorf("keys: application traffic requested at stage %d", ks.stage)
	}
	client = deriveSecret(ks.s.Hash, ks.master, "c ap traffic", transcriptHash)
	server = deriveSecret(ks.s.Hash, ks.master, "s ap traffic", transcriptHash)
	return client, server, nil
}

// ExporterMaster derives the exporter master secret over the transcript
// at the server Finished boundary.
func (ks *Schedule) ExporterMaster(transcriptHash []byte) ([]byte, error) {
	if ks.stage != StageMaster {
		return nil, errors.Errorf("keys: exporter secret requested at stage %d", ks.stage)
	}
	return deriveSecret(ks.s.Hash, ks.master, "exp master", transcriptHash), nil
}

// ResumptionMaster derives the resumption master secret over the
// transcript at the client Finished boundary.
func (ks *Schedule) ResumptionMaster(transcriptHash []byte) ([]byte, error) {
	if ks.stage != StageMaster {
		return nil, errors.Errorf("keys: resumption secret requested at stage %d", ks.stage)
	}
	return deriveSecret(ks.s.Hash, ks.master, "res master", transcriptHash), nil
}

// BinderKeyFor derives the binder finished key for one offered PSK,
// standalone: binder computation happens per offer before any connection
// schedule exists.
func BinderKeyFor(s *suite.Suite, psk []byte, external bool) []byte {
	ks := NewSchedule(s)
	// Both calls only fail on stage misuse, which a fresh schedule
	// cannot hit.
	if err := ks.InitEarly(psk); err != nil {
		panic(err)
	}
	bk, err := ks.BinderKey(external)
	if err != nil {
		panic(err)
	}
	return bk
}

// FinishedMAC is HMAC(key, transcriptHash) with the suite hash; it
// computes both Finished verify_data and PSK binder values.
func FinishedMAC(s *suite.Suite, key, transcriptHash []byte) []byte {
	mac := hmac.New(s.Hash.New, key)
	mac.Write(transcriptHash)
	return mac.Sum(nil)
}

// ResumptionPSK turns a resumption master secret and a ticket nonce into
// the PSK offered when the ticket is redeemed (RFC 8446, section 4.6.1).
func ResumptionPSK(s *suite.Suite, resumptionMaster, ticketNonce []byte) []byte {
	return expandLabel(s.Hash, resumptionMaster, "resumption", ticketNonce, s.Hash.Size())
}
