package embertls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// LoadX509KeyPair assembles a CertificateChain from PEM-encoded
// certificate and key data. Every CERTIFICATE block contributes to the
// chain, leaf first.
func LoadX509KeyPair(certPEM, keyPEM []byte) (CertificateChain, error) {
	var chain [][]byte
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return CertificateChain{}, errors.New("tls: no certificate blocks in PEM data")
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return CertificateChain{}, errors.New("tls: no key block in PEM data")
	}
	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return CertificateChain{}, err
	}
	return CertificateChain{Chain: chain, PrivateKey: signer}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, errors.New("tls: private key does not implement crypto.Signer")
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("tls: unparsable private key")
}

// GenerateSelfSigned creates an ECDSA P-256 certificate for the given
// name, valid for 30 days. Meant for tests and the demo daemon, not for
// production identities.
func GenerateSelfSigned(commonName string) (CertificateChain, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return CertificateChain{}, errors.Wrap(err, "tls: generate key")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return CertificateChain{}, errors.Wrap(err, "tls: serial number")
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serialNumber,
		Subject:            pkix.Name{CommonName: commonName},
		DNSNames:           []string{commonName},
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(30 * 24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return CertificateChain{}, errors.Wrap(err, "tls: create certificate")
	}
	return CertificateChain{Chain: [][]byte{der}, PrivateKey: key}, nil
}
