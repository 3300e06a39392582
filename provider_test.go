package embertls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/suite"
)

func TestKeyExchangeAgreement(t *testing.T) {
	p := StdProvider{}
	for _, group := range []extension.NamedGroup{
		extension.X25519,
		extension.Secp256r1,
		extension.Secp384r1,
	} {
		a, err := p.NewKeyExchange(group)
		require.NoError(t, err, group.String())
		b, err := p.NewKeyExchange(group)
		require.NoError(t, err, group.String())

		ab, err := a.SharedSecret(b.PublicBytes())
		require.NoError(t, err, group.String())
		ba, err := b.SharedSecret(a.PublicBytes())
		require.NoError(t, err, group.String())
		assert.Equal(t, ab, ba, group.String())
		assert.NotEmpty(t, ab)
	}
}

func TestKeyExchangeRejectsBadPeerKey(t *testing.T) {
	p := StdProvider{}
	kx, err := p.NewKeyExchange(extension.Secp256r1)
	require.NoError(t, err)
	_, err = kx.SharedSecret([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	chain, err := GenerateSelfSigned("signer")
	require.NoError(t, err)

	p := StdProvider{}
	scheme, err := schemeForSigner(chain.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, extension.EcdsaSecp256r1Sha256, scheme)

	message := frand.Bytes(100)
	sig, err := p.Sign(scheme, chain.PrivateKey, message)
	require.NoError(t, err)

	leaf, err := p.ParseCertificate(chain.Chain[0])
	require.NoError(t, err)
	assert.NoError(t, p.VerifySignature(scheme, leaf.PublicKey, message, sig))

	message[0] ^= 1
	assert.Error(t, p.VerifySignature(scheme, leaf.PublicKey, message, sig))
}

func TestSelectCipherSuite(t *testing.T) {
	p := StdProvider{}
	cs, err := p.SelectCipherSuite([]suite.ID{suite.TLS_CHACHA20_POLY1305_SHA256, suite.TLS_AES_128_GCM_SHA256})
	require.NoError(t, err)
	assert.Equal(t, suite.TLS_AES_128_GCM_SHA256, cs.ID)

	_, err = p.SelectCipherSuite([]suite.ID{0x1399})
	assert.Equal(t, ErrInvalidCipherSuite, err)
}
