package embertls

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	chain, err := GenerateSelfSigned("unit.test")
	require.NoError(t, err)
	require.True(t, chain.isSet())

	cert, err := x509.ParseCertificate(chain.Chain[0])
	require.NoError(t, err)
	assert.Equal(t, "unit.test", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "unit.test")
	_, ok := chain.PrivateKey.(*ecdsa.PrivateKey)
	assert.True(t, ok)
}

func TestLoadX509KeyPair(t *testing.T) {
	chain, err := GenerateSelfSigned("pem.test")
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: chain.Chain[0]})
	keyDER, err := x509.MarshalPKCS8PrivateKey(chain.PrivateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	loaded, err := LoadX509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	assert.Equal(t, chain.Chain, loaded.Chain)
	require.NotNil(t, loaded.PrivateKey)

	_, err = LoadX509KeyPair([]byte("not pem"), keyPEM)
	assert.Error(t, err)
	_, err = LoadX509KeyPair(certPEM, []byte("not pem"))
	assert.Error(t, err)
}
