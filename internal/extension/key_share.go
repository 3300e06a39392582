package extension

import (
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// KeyShareEntry is one offered or selected key exchange.
type KeyShareEntry struct {
	Group       NamedGroup
	KeyExchange []byte
}

func ParseKeyShareEntry(r *packet.Reader) (KeyShareEntry, error) {
	group, err := ParseNamedGroup(r)
	if err != nil {
		return KeyShareEntry{}, err
	}
	n, err := r.ReadUint16()
	if err != nil {
		return KeyShareEntry{}, err
	}
	opaque, err := r.ReadSlice(int(n))
	if err != nil {
		return KeyShareEntry{}, err
	}
	return KeyShareEntry{group, opaque}, nil
}

func EncodeKeyShareEntry(w *packet.Writer, e KeyShareEntry) error {
	if err := EncodeNamedGroup(w, e.Group); err != nil {
		return err
	}
	return w.WithLen16(func(w *packet.Writer) error {
		return w.Append(e.KeyExchange)
	})
}

// KeyShareClientHello is the key_share body in a ClientHello: a list of
// entries, one per offered group.
type KeyShareClientHello struct {
	Entries wire.ListView[KeyShareEntry]
}

func (KeyShareClientHello) extensionBody() {}

// KeyShareServerHello is the key_share body in a ServerHello: the single
// selected entry.
type KeyShareServerHello struct {
	Entry KeyShareEntry
}

func (KeyShareServerHello) extensionBody() {}

// KeyShareHelloRetryRequest is the key_share body in a
// HelloRetryRequest: the group the client is asked to retry with.
type KeyShareHelloRetryRequest struct {
	SelectedGroup NamedGroup
}

func (KeyShareHelloRetryRequest) extensionBody() {}

func parseKeyShareBody(r *packet.Reader, msg Message) (Body, error) {
	switch msg {
	case InServerHello:
		entry, err := ParseKeyShareEntry(r)
		if err != nil {
			return nil, err
		}
		return KeyShareServerHello{entry}, nil
	case InHelloRetryRequest:
		group, err := ParseNamedGroup(r)
		if err != nil {
			return nil, err
		}
		return KeyShareHelloRetryRequest{group}, nil
	default:
		v, err := wire.ParseList16(r, ParseKeyShareEntry)
		if err != nil {
			return nil, err
		}
		return KeyShareClientHello{v}, nil
	}
}

func EncodeKeyShareClientHello(w *packet.Writer, entries []KeyShareEntry) error {
	return Encode(w, TypeKeyShare, func(w *packet.Writer) error {
		return wire.EncodeList16(w, wire.SliceBuilder(EncodeKeyShareEntry, entries))
	})
}

func EncodeKeyShareServerHello(w *packet.Writer, e KeyShareEntry) error {
	return Encode(w, TypeKeyShare, func(w *packet.Writer) error {
		return EncodeKeyShareEntry(w, e)
	})
}

func EncodeKeyShareHelloRetryRequest(w *packet.Writer, g NamedGroup) error {
	return Encode(w, TypeKeyShare, func(w *packet.Writer) error {
		return EncodeNamedGroup(w, g)
	})
}
