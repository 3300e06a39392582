package extension

import (
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// PskKeyExchangeMode from RFC 8446, section 4.2.9.
type PskKeyExchangeMode uint8

const (
	PskKe    PskKeyExchangeMode = 0
	PskDheKe PskKeyExchangeMode = 1
)

func ParsePskKeyExchangeMode(r *packet.Reader) (PskKeyExchangeMode, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	switch PskKeyExchangeMode(v) {
	case PskKe, PskDheKe:
		return PskKeyExchangeMode(v), nil
	}
	return 0, packet.ErrInvalidData
}

func EncodePskKeyExchangeMode(w *packet.Writer, m PskKeyExchangeMode) error {
	return w.WriteUint8(uint8(m))
}

// PskKeyExchangeModesList is the psk_key_exchange_modes extension body.
type PskKeyExchangeModesList struct {
	Modes wire.ListView[PskKeyExchangeMode]
}

func (PskKeyExchangeModesList) extensionBody() {}

func (l PskKeyExchangeModesList) Contains(m PskKeyExchangeMode) bool {
	for mode := range l.Modes.All() {
		if mode == m {
			return true
		}
	}
	return false
}

func parsePskModesBody(r *packet.Reader, _ Message) (Body, error) {
	v, err := wire.ParseList8(r, ParsePskKeyExchangeMode)
	if err != nil {
		return nil, err
	}
	return PskKeyExchangeModesList{v}, nil
}

func EncodePskKeyExchangeModes(w *packet.Writer, modes []PskKeyExchangeMode) error {
	return Encode(w, TypePskKeyExchangeModes, func(w *packet.Writer) error {
		return wire.EncodeList8(w, wire.SliceBuilder(EncodePskKeyExchangeMode, modes))
	})
}
