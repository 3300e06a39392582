package handshake

import (
	"crypto"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/suite"
)

func TestClientHelloRoundTrip(t *testing.T) {
	var params ClientHelloParams
	frand.Read(params.Random[:])
	params.SessionID = frand.Bytes(32)
	params.CipherSuites = []suite.ID{suite.TLS_AES_128_GCM_SHA256}
	params.ServerName = "example.com"
	params.Groups = []extension.NamedGroup{extension.X25519, extension.Secp256r1}
	params.KeyShares = []extension.KeyShareEntry{{Group: extension.X25519, KeyExchange: frand.Bytes(32)}}
	params.SignatureSchemes = []extension.SignatureScheme{extension.EcdsaSecp256r1Sha256}

	buf := make([]byte, 4096)
	w := packet.NewWriter(buf)
	require.NoError(t, params.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	ch := msg.(*ClientHello)

	assert.Equal(t, params.Random[:], ch.Random)
	assert.Equal(t, params.SessionID, ch.SessionID)
	assert.Equal(t, params.CipherSuites, ch.CipherSuites())

	e, ok := extension.Find(ch.Extensions, extension.TypeServerName)
	require.True(t, ok)
	names := e.Body.(extension.ServerNameList)
	for n := range names.Names.All() {
		assert.Equal(t, "example.com", n.Name)
	}

	_, ok = ch.PskOffer()
	assert.False(t, ok)
}

func TestClientHelloPskIsLastAndPatchable(t *testing.T) {
	var params ClientHelloParams
	params.CipherSuites = []suite.ID{suite.TLS_AES_128_GCM_SHA256}
	params.Groups = []extension.NamedGroup{extension.X25519}
	params.KeyShares = []extension.KeyShareEntry{{Group: extension.X25519, KeyExchange: frand.Bytes(32)}}
	params.SignatureSchemes = []extension.SignatureScheme{extension.EcdsaSecp256r1Sha256}
	params.PskModes = []extension.PskKeyExchangeMode{extension.PskDheKe}
	params.PskIdentities = []extension.PskIdentity{{Identity: []byte("psk-id")}}
	params.BinderLens = []int{32}

	buf := make([]byte, 4096)
	w := packet.NewWriter(buf)
	require.NoError(t, params.Encode(w))
	raw := w.Bytes()

	suffix := params.BinderSuffixLen()
	require.Equal(t, 2+1+32, suffix)

	// The reserved binder bytes are the zeroed tail of the message.
	binders := raw[len(raw)-suffix:]
	assert.Equal(t, make([]byte, 32), binders[3:])

	// Patching the tail yields a well-formed offer with the binder bytes.
	copy(binders[3:], frand.Bytes(32))
	msg, err := parseMessage(packet.NewReader(raw))
	require.NoError(t, err)
	psk, ok := msg.(*ClientHello).PskOffer()
	require.True(t, ok)
	assert.Equal(t, 1, psk.Identities.Len())
	for b := range psk.Binders.All() {
		assert.Equal(t, binders[3:], b.B)
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	params := ServerHelloParams{
		SessionIDEcho: frand.Bytes(32),
		Suite:         suite.TLS_AES_128_GCM_SHA256,
		KeyShare:      extension.KeyShareEntry{Group: extension.X25519, KeyExchange: frand.Bytes(32)},
		SelectedPsk:   -1,
	}
	frand.Read(params.Random[:])

	buf := make([]byte, 1024)
	w := packet.NewWriter(buf)
	require.NoError(t, params.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	sh := msg.(*ServerHello)
	assert.False(t, sh.IsHelloRetry)
	assert.Equal(t, suite.TLS_AES_128_GCM_SHA256, sh.Suite)

	v, ok := sh.SelectedVersion()
	require.True(t, ok)
	assert.Equal(t, extension.VersionTLS13, v)

	ks, ok := sh.KeyShare()
	require.True(t, ok)
	assert.Equal(t, params.KeyShare, ks)

	_, ok = sh.SelectedPsk()
	assert.False(t, ok)
}

func TestHelloRetryRequestDetection(t *testing.T) {
	params := ServerHelloParams{
		SessionIDEcho: frand.Bytes(8),
		Suite:         suite.TLS_AES_128_GCM_SHA256,
		HelloRetry:    true,
		RetryGroup:    extension.X25519,
		Cookie:        []byte("come back with x25519"),
	}

	buf := make([]byte, 1024)
	w := packet.NewWriter(buf)
	require.NoError(t, params.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	sh := msg.(*ServerHello)
	require.True(t, sh.IsHelloRetry)

	g, ok := sh.RetryGroup()
	require.True(t, ok)
	assert.Equal(t, extension.X25519, g)

	cookie, ok := sh.RetryCookie()
	require.True(t, ok)
	assert.Equal(t, []byte("come back with x25519"), cookie)
}

func TestCertificateRoundTrip(t *testing.T) {
	leaf := frand.Bytes(120)
	inter := frand.Bytes(90)
	params := CertificateParams{Chain: [][]byte{leaf, inter}}

	buf := make([]byte, 2048)
	w := packet.NewWriter(buf)
	require.NoError(t, params.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	cert := msg.(*Certificate)
	assert.Empty(t, cert.Context)

	got, ok := cert.Leaf()
	require.True(t, ok)
	assert.Equal(t, leaf, got)
	assert.Equal(t, 2, cert.Entries.Len())
}

func TestCertificateVerifyRoundTrip(t *testing.T) {
	cv := &CertificateVerify{
		Scheme:    extension.EcdsaSecp256r1Sha256,
		Signature: frand.Bytes(70),
	}
	buf := make([]byte, 256)
	w := packet.NewWriter(buf)
	require.NoError(t, cv.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, cv, msg)
}

func TestNewSessionTicketRoundTrip(t *testing.T) {
	nst := &NewSessionTicket{
		Lifetime: 7200,
		AgeAdd:   0xdeadbeef,
		Nonce:    []byte{0, 1},
		Ticket:   frand.Bytes(48),
	}
	buf := make([]byte, 512)
	w := packet.NewWriter(buf)
	require.NoError(t, nst.Encode(w))

	msg, err := parseMessage(packet.NewReader(w.Bytes()))
	require.NoError(t, err)
	got := msg.(*NewSessionTicket)
	assert.Equal(t, nst.Lifetime, got.Lifetime)
	assert.Equal(t, nst.AgeAdd, got.AgeAdd)
	assert.Equal(t, nst.Nonce, got.Nonce)
	assert.Equal(t, nst.Ticket, got.Ticket)
}

func TestReadMessageFeedsTranscript(t *testing.T) {
	tr := NewTranscript(crypto.SHA256)

	f := &Finished{VerifyData: frand.Bytes(32)}
	buf := make([]byte, 256)
	w := packet.NewWriter(buf)
	require.NoError(t, f.Encode(w))
	raw := w.Bytes()

	before := tr.Sum()
	msg, err := ReadMessage(packet.NewReader(raw), tr)
	require.NoError(t, err)

	fin := msg.(*Finished)
	// Finished keeps the pre-message snapshot...
	assert.Equal(t, before, fin.TranscriptBefore)
	// ...and the transcript now covers exactly the wire bytes.
	want := sha256.Sum256(raw)
	assert.Equal(t, want[:], tr.Sum())
}

func TestTranscriptSumWithDoesNotPerturb(t *testing.T) {
	tr := NewTranscript(crypto.SHA256)
	tr.Update([]byte("one"))
	s1 := tr.Sum()

	peek := tr.SumWith([]byte("two"))
	assert.Equal(t, s1, tr.Sum())

	tr.Update([]byte("two"))
	assert.Equal(t, peek, tr.Sum())
}

func TestTranscriptMessageHashSubstitution(t *testing.T) {
	tr := NewTranscript(crypto.SHA256)
	ch1 := frand.Bytes(180)
	tr.Update(ch1)

	tr.ReplaceWithMessageHash()

	h := sha256.Sum256(ch1)
	manual := sha256.New()
	manual.Write([]byte{254, 0, 0, 32})
	manual.Write(h[:])
	assert.Equal(t, manual.Sum(nil), tr.Sum())
}

func TestUnimplementedType(t *testing.T) {
	// end_of_early_data, valid shape but not processed.
	raw := []byte{byte(TypeEndOfEarlyData), 0, 0, 0}
	_, err := parseMessage(packet.NewReader(raw))
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestTrailingGarbageRejected(t *testing.T) {
	ku := &KeyUpdate{}
	buf := make([]byte, 16)
	w := packet.NewWriter(buf)
	require.NoError(t, ku.Encode(w))
	raw := w.Bytes()
	// Grow the declared body by one and fill it with a garbage byte.
	raw[3]++
	_, err := parseMessage(packet.NewReader(append(raw, 0xcc)))
	assert.Error(t, err)
}
