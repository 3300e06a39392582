package extension

import (
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// VersionTLS13 is the only protocol version this stack negotiates.
const VersionTLS13 uint16 = 0x0304

// SupportedVersionsList is the supported_versions body in a ClientHello.
type SupportedVersionsList struct {
	Versions wire.ListView[uint16]
}

func (SupportedVersionsList) extensionBody() {}

// ContainsTLS13 reports whether 0x0304 was offered.
func (l SupportedVersionsList) ContainsTLS13() bool {
	for v := range l.Versions.All() {
		if v == VersionTLS13 {
			return true
		}
	}
	return false
}

// SelectedVersion is the supported_versions body in a ServerHello or
// HelloRetryRequest.
type SelectedVersion struct {
	Version uint16
}

func (SelectedVersion) extensionBody() {}

func parseSupportedVersionsBody(r *packet.Reader, msg Message) (Body, error) {
	if msg == InServerHello || msg == InHelloRetryRequest {
		v, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return SelectedVersion{v}, nil
	}
	v, err := wire.ParseList8(r, wire.ParseUint16)
	if err != nil {
		return nil, err
	}
	if v.IsEmpty() {
		return nil, packet.ErrInvalidData
	}
	return SupportedVersionsList{v}, nil
}

func EncodeSupportedVersionsClientHello(w *packet.Writer, versions []uint16) error {
	return Encode(w, TypeSupportedVersions, func(w *packet.Writer) error {
		return wire.EncodeList8(w, wire.SliceBuilder(wire.EncodeUint16, versions))
	})
}

func EncodeSelectedVersion(w *packet.Writer, version uint16) error {
	return Encode(w, TypeSupportedVersions, func(w *packet.Writer) error {
		return w.WriteUint16(version)
	})
}
