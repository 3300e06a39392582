package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/packet"
)

func TestKeyShareEntryParse(t *testing.T) {
	raw := []byte{0x00, 0x17, 0x00, 0x02, 0xAA, 0xBB}
	e, err := ParseKeyShareEntry(packet.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, Secp256r1, e.Group)
	assert.Equal(t, []byte{0xAA, 0xBB}, e.KeyExchange)

	var buf [8]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodeKeyShareEntry(w, e))
	assert.Equal(t, raw, w.Bytes())
}

func TestKeyShareEntryEmptyKeyExchange(t *testing.T) {
	e, err := ParseKeyShareEntry(packet.NewReader([]byte{0x00, 0x17, 0x00, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, Secp256r1, e.Group)
	assert.Empty(t, e.KeyExchange)
}

func TestKeyShareEntryUnknownGroup(t *testing.T) {
	_, err := ParseKeyShareEntry(packet.NewReader([]byte{0x12, 0x34, 0x00, 0x00}))
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestServerNameRoundTrip(t *testing.T) {
	want := []byte{
		0x00,       // host_name
		0x00, 0x0B, // length
		'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm',
	}
	var buf [32]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodeServerName(w, ServerName{"example.com"}))
	assert.Equal(t, want, w.Bytes())

	n, err := ParseServerName(packet.NewReader(want))
	require.NoError(t, err)
	assert.Equal(t, "example.com", n.Name)
}

func TestServerNameRejectsNonASCII(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x04, 'b', 0xC3, 0xA4, 'd'}
	_, err := ParseServerName(packet.NewReader(raw))
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestServerNameRejectsTrailingDot(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x04, 'e', 'x', '.', '.'}
	_, err := ParseServerName(packet.NewReader(raw))
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestSupportedVersionsEncode(t *testing.T) {
	var buf [16]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodeSupportedVersionsClientHello(w, []uint16{VersionTLS13}))
	// type(43) || len || u8-list
	assert.Equal(t, []byte{0x00, 0x2B, 0x00, 0x03, 0x02, 0x03, 0x04}, w.Bytes())
}

func TestSupportedVersionsEmptyListInvalid(t *testing.T) {
	_, err := parseSupportedVersionsBody(packet.NewReader([]byte{0x00}), InClientHello)
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestPskKeyExchangeMode(t *testing.T) {
	m, err := ParsePskKeyExchangeMode(packet.NewReader([]byte{0x00}))
	require.NoError(t, err)
	assert.Equal(t, PskKe, m)

	m, err = ParsePskKeyExchangeMode(packet.NewReader([]byte{0x01}))
	require.NoError(t, err)
	assert.Equal(t, PskDheKe, m)

	_, err = ParsePskKeyExchangeMode(packet.NewReader([]byte{0x02}))
	assert.Equal(t, packet.ErrInvalidData, err)
}

// A well-formed extension of a type outside the supported set must be
// skipped, leaving the rest of the vector intact.
func TestParseVectorSkipsUnknownType(t *testing.T) {
	var buf [64]byte
	w := packet.NewWriter(buf[:])
	err := w.WithLen16(func(w *packet.Writer) error {
		// Unknown codepoint 0xfe0d with a 3-byte body.
		if err := Encode(w, Type(0xfe0d), func(w *packet.Writer) error {
			return w.Append([]byte{1, 2, 3})
		}); err != nil {
			return err
		}
		return EncodeSupportedGroups(w, []NamedGroup{X25519})
	})
	require.NoError(t, err)

	exts, err := ParseVector(packet.NewReader(w.Bytes()), InClientHello, 8)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, TypeSupportedGroups, exts[0].Type)
}

// A recognized extension in a message where it is not permitted must
// abort with a fatal illegal_parameter (RFC 8446, section 4.2).
func TestMisplacedExtensionAborts(t *testing.T) {
	var buf [64]byte
	w := packet.NewWriter(buf[:])
	err := w.WithLen16(func(w *packet.Writer) error {
		return EncodeKeyShareClientHello(w, []KeyShareEntry{{X25519, []byte{0xAA}}})
	})
	require.NoError(t, err)

	_, err = ParseVector(packet.NewReader(w.Bytes()), InEncryptedExtensions, 8)
	var abort *alert.Abort
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, alert.LevelFatal, abort.Level)
	assert.Equal(t, alert.IllegalParameter, abort.Description)
}

func TestParseVectorCapsExtensionCount(t *testing.T) {
	var buf [64]byte
	w := packet.NewWriter(buf[:])
	err := w.WithLen16(func(w *packet.Writer) error {
		for i := 0; i < 3; i++ {
			if err := EncodeSupportedGroups(w, []NamedGroup{X25519}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = ParseVector(packet.NewReader(w.Bytes()), InClientHello, 2)
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestPreSharedKeyBinderMismatch(t *testing.T) {
	var buf [128]byte
	w := packet.NewWriter(buf[:])
	// Two identities, one binder.
	err := w.WithLen16(func(w *packet.Writer) error {
		for _, id := range []string{"alpha", "beta"} {
			if err := EncodePskIdentity(w, PskIdentity{Identity: []byte(id)}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	err = w.WithLen16(func(w *packet.Writer) error {
		if err := w.WriteUint8(32); err != nil {
			return err
		}
		return w.ZeroPad(32)
	})
	require.NoError(t, err)

	_, err = parsePreSharedKeyBody(packet.NewReader(w.Bytes()), InClientHello)
	assert.Equal(t, packet.ErrInvalidData, err)
}

func TestPreSharedKeyRoundTrip(t *testing.T) {
	identities := []PskIdentity{{Identity: []byte("ticket-1"), ObfuscatedTicketAge: 7}}
	var buf [128]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodePreSharedKeyClientHello(w, identities, []int{32}))

	r := packet.NewReader(w.Bytes())
	typ, _ := r.ReadUint16()
	assert.Equal(t, uint16(TypePreSharedKey), typ)
	n, _ := r.ReadUint16()
	body, err := r.Slice(int(n))
	require.NoError(t, err)

	parsed, err := parsePreSharedKeyBody(body, InClientHello)
	require.NoError(t, err)
	psk := parsed.(PreSharedKeyClientHello)
	assert.Equal(t, 1, psk.Identities.Len())
	for id := range psk.Identities.All() {
		assert.Equal(t, []byte("ticket-1"), id.Identity)
		assert.Equal(t, uint32(7), id.ObfuscatedTicketAge)
	}
	for b := range psk.Binders.All() {
		assert.Equal(t, make([]byte, 32), b.B)
	}

	// The binder list must be exactly the suffix the back-patcher expects.
	assert.Equal(t, BinderListLen([]int{32}), 2+1+32)
}

func TestKeyShareHelloRetryRequestForm(t *testing.T) {
	var buf [16]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodeKeyShareHelloRetryRequest(w, X25519))

	r := packet.NewReader(w.Bytes())
	typ, _ := r.ReadUint16()
	require.Equal(t, uint16(TypeKeyShare), typ)
	n, _ := r.ReadUint16()
	body, err := r.Slice(int(n))
	require.NoError(t, err)
	parsed, err := parseKeyShareBody(body, InHelloRetryRequest)
	require.NoError(t, err)
	assert.Equal(t, KeyShareHelloRetryRequest{X25519}, parsed)
}

func TestMaxFragmentLengthRoundTrip(t *testing.T) {
	var buf [16]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, EncodeMaxFragmentLength(w, MaxFragment2048))

	exts, err := wrapAndParse(t, w.Bytes(), InClientHello)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	m := exts[0].Body.(MaxFragmentLength)
	assert.Equal(t, 2048, m.Bytes())

	_, err = parseMaxFragmentLengthBody(packet.NewReader([]byte{5}), InClientHello)
	assert.Equal(t, packet.ErrInvalidData, err)
}

// wrapAndParse frames one encoded extension in a vector and parses it.
func wrapAndParse(t *testing.T, ext []byte, msg Message) ([]Extension, error) {
	t.Helper()
	var buf [64]byte
	w := packet.NewWriter(buf[:])
	require.NoError(t, w.WithLen16(func(w *packet.Writer) error {
		return w.Append(ext)
	}))
	return ParseVector(packet.NewReader(w.Bytes()), msg, 8)
}

func TestFind(t *testing.T) {
	exts := []Extension{
		{TypeSupportedGroups, SupportedGroupsList{}},
		{TypeCookie, Cookie{[]byte{1}}},
	}
	e, ok := Find(exts, TypeCookie)
	assert.True(t, ok)
	assert.Equal(t, TypeCookie, e.Type)
	_, ok = Find(exts, TypeKeyShare)
	assert.False(t, ok)
}
