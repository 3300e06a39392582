package extension

import (
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// PskIdentity names one offered pre-shared key. Externally established
// identities carry an obfuscated ticket age of zero.
type PskIdentity struct {
	Identity            []byte
	ObfuscatedTicketAge uint32
}

func ParsePskIdentity(r *packet.Reader) (PskIdentity, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return PskIdentity{}, err
	}
	if n == 0 {
		return PskIdentity{}, packet.ErrInvalidData
	}
	identity, err := r.ReadSlice(int(n))
	if err != nil {
		return PskIdentity{}, err
	}
	age, err := r.ReadUint32()
	if err != nil {
		return PskIdentity{}, err
	}
	return PskIdentity{identity, age}, nil
}

func EncodePskIdentity(w *packet.Writer, id PskIdentity) error {
	if err := w.WithLen16(func(w *packet.Writer) error {
		return w.Append(id.Identity)
	}); err != nil {
		return err
	}
	return w.WriteUint32(id.ObfuscatedTicketAge)
}

// PreSharedKeyClientHello is the pre_shared_key body in a ClientHello.
// The identity and binder lists must have equal length.
type PreSharedKeyClientHello struct {
	Identities wire.ListView[PskIdentity]
	Binders    wire.ListView[wire.SliceU8]
}

func (PreSharedKeyClientHello) extensionBody() {}

// PreSharedKeySelected is the pre_shared_key body in a ServerHello.
type PreSharedKeySelected struct {
	Identity uint16
}

func (PreSharedKeySelected) extensionBody() {}

func parsePreSharedKeyBody(r *packet.Reader, msg Message) (Body, error) {
	if msg == InServerHello {
		idx, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return PreSharedKeySelected{idx}, nil
	}

	identities, err := wire.ParseList16(r, ParsePskIdentity)
	if err != nil {
		return nil, err
	}
	binders, err := wire.ParseList16(r, wire.ParseSliceU8)
	if err != nil {
		return nil, err
	}
	psk := PreSharedKeyClientHello{identities, binders}
	if psk.Identities.Len() != psk.Binders.Len() {
		return nil, packet.ErrInvalidData
	}
	return psk, nil
}

// EncodePreSharedKeyClientHello writes the identities followed by
// zero-filled binder placeholders of the given lengths. The caller
// back-patches the binder bytes once the transcript prefix is known;
// BinderListLen locates the region.
func EncodePreSharedKeyClientHello(w *packet.Writer, identities []PskIdentity, binderLens []int) error {
	return Encode(w, TypePreSharedKey, func(w *packet.Writer) error {
		if err := wire.EncodeList16(w, wire.SliceBuilder(EncodePskIdentity, identities)); err != nil {
			return err
		}
		return w.WithLen16(func(w *packet.Writer) error {
			for _, n := range binderLens {
				if err := w.WriteUint8(uint8(n)); err != nil {
					return err
				}
				if err := w.ZeroPad(n); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// BinderListLen returns the encoded size of a binder list with the given
// per-binder lengths: the u16 list prefix plus one length byte per
// binder plus the binder bytes. The pre_shared_key extension always
// sits last in the ClientHello, so the binder list is the suffix of the
// serialized message and this size locates where the placeholders begin.
func BinderListLen(binderLens []int) int {
	n := 2
	for _, l := range binderLens {
		n += 1 + l
	}
	return n
}

func EncodePreSharedKeySelected(w *packet.Writer, identity uint16) error {
	return Encode(w, TypePreSharedKey, func(w *packet.Writer) error {
		return w.WriteUint16(identity)
	})
}
