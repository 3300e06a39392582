package extension

import (
	"fmt"

	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// NamedGroup is a key-exchange group codepoint (RFC 8446 section 4.2.7,
// plus the post-quantum hybrid codepoints).
type NamedGroup uint16

const (
	// Elliptic curve groups (ECDHE).
	Secp256r1 NamedGroup = 0x0017
	Secp384r1 NamedGroup = 0x0018
	Secp521r1 NamedGroup = 0x0019
	X25519    NamedGroup = 0x001D
	X448      NamedGroup = 0x001E

	// Finite field groups (DHE).
	Ffdhe2048 NamedGroup = 0x0100
	Ffdhe3072 NamedGroup = 0x0101
	Ffdhe4096 NamedGroup = 0x0102
	Ffdhe6144 NamedGroup = 0x0103
	Ffdhe8192 NamedGroup = 0x0104

	// Post-quantum hybrid groups.
	SecP256r1MLKEM768  NamedGroup = 0x11EB
	X25519MLKEM768     NamedGroup = 0x11EC
	SecP384r1MLKEM1024 NamedGroup = 0x11ED
)

var knownGroups = map[NamedGroup]string{
	Secp256r1:          "secp256r1",
	Secp384r1:          "secp384r1",
	Secp521r1:          "secp521r1",
	X25519:             "x25519",
	X448:               "x448",
	Ffdhe2048:          "ffdhe2048",
	Ffdhe3072:          "ffdhe3072",
	Ffdhe4096:          "ffdhe4096",
	Ffdhe6144:          "ffdhe6144",
	Ffdhe8192:          "ffdhe8192",
	SecP256r1MLKEM768:  "secp256r1mlkem768",
	X25519MLKEM768:     "x25519mlkem768",
	SecP384r1MLKEM1024: "secp384r1mlkem1024",
}

func (g NamedGroup) String() string {
	if name, ok := knownGroups[g]; ok {
		return name
	}
	return fmt.Sprintf("group(%#04x)", uint16(g))
}

func ParseNamedGroup(r *packet.Reader) (NamedGroup, error) {
	v, err := r.ReadUint16()
	if err != nil {
		return 0, err
	}
	g := NamedGroup(v)
	if _, ok := knownGroups[g]; !ok {
		return 0, packet.ErrInvalidData
	}
	return g, nil
}

func EncodeNamedGroup(w *packet.Writer, g NamedGroup) error {
	return w.WriteUint16(uint16(g))
}

// SupportedGroupsList is the supported_groups extension body.
type SupportedGroupsList struct {
	Groups wire.ListView[NamedGroup]
}

func (SupportedGroupsList) extensionBody() {}

func parseSupportedGroupsBody(r *packet.Reader, _ Message) (Body, error) {
	v, err := wire.ParseList16(r, ParseNamedGroup)
	if err != nil {
		return nil, err
	}
	return SupportedGroupsList{v}, nil
}

func EncodeSupportedGroups(w *packet.Writer, groups []NamedGroup) error {
	return Encode(w, TypeSupportedGroups, func(w *packet.Writer) error {
		return wire.EncodeList16(w, wire.SliceBuilder(EncodeNamedGroup, groups))
	})
}
