package embertls

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"

	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/suite"
)

// KeyExchange is one ephemeral key share: the public half goes on the
// wire, the private half stays inside the provider.
type KeyExchange interface {
	Group() extension.NamedGroup
	PublicBytes() []byte
	SharedSecret(peerPublic []byte) ([]byte, error)
}

// VerifiedLeaf is what ParseCertificate hands back: the leaf public key,
// plus the parsed certificate for callers that inspect it. Chain
// validation is the provider's concern, not the core's.
type VerifiedLeaf struct {
	PublicKey   crypto.PublicKey
	Certificate *x509.Certificate
}

// CryptoProvider supplies every cryptographic primitive the handshake
// consumes. It is borrowed for the duration of one handshake and must
// not be shared across goroutines while in use.
type CryptoProvider interface {
	FillRandom(p []byte) error
	SelectCipherSuite(offered []suite.ID) (*suite.Suite, error)
	NewKeyExchange(group extension.NamedGroup) (KeyExchange, error)
	VerifySignature(scheme extension.SignatureScheme, pub crypto.PublicKey, message, signature []byte) error
	Sign(scheme extension.SignatureScheme, signer crypto.Signer, message []byte) ([]byte, error)
	ParseCertificate(der []byte) (*VerifiedLeaf, error)
}

// StdProvider is the default provider: stdlib crypto plus x/crypto for
// X25519. It parses certificates without validating chains; wrap it or
// replace ParseCertificate to enforce a trust policy.
type StdProvider struct{}

func (StdProvider) FillRandom(p []byte) error {
	_, err := rand.Read(p)
	return errors.Wrap(err, "provider: rng")
}

func (StdProvider) SelectCipherSuite(offered []suite.ID) (*suite.Suite, error) {
	for _, pref := range suite.Default {
		for _, id := range offered {
			if id == pref {
				return suite.ByID(id), nil
			}
		}
	}
	return nil, ErrInvalidCipherSuite
}

type x25519KeyExchange struct {
	private [32]byte
	public  [32]byte
}

func (kx *x25519KeyExchange) Group() extension.NamedGroup { return extension.X25519 }
func (kx *x25519KeyExchange) PublicBytes() []byte         { return kx.public[:] }

func (kx *x25519KeyExchange) SharedSecret(peerPublic []byte) ([]byte, error) {
	shared, err := curve25519.X25519(kx.private[:], peerPublic)
	if err != nil {
		return nil, errors.Wrap(err, "provider: x25519")
	}
	return shared, nil
}

type ecdhKeyExchange struct {
	group   extension.NamedGroup
	private *ecdh.PrivateKey
}

func (kx *ecdhKeyExchange) Group() extension.NamedGroup { return kx.group }
func (kx *ecdhKeyExchange) PublicBytes() []byte         { return kx.private.PublicKey().Bytes() }

func (kx *ecdhKeyExchange) SharedSecret(peerPublic []byte) ([]byte, error) {
	peer, err := kx.private.Curve().NewPublicKey(peerPublic)
	if err != nil {
		return nil, errors.Wrap(err, "provider: peer public key")
	}
	shared, err := kx.private.ECDH(peer)
	return shared, errors.Wrap(err, "provider: ecdh")
}

func (p StdProvider) NewKeyExchange(group extension.NamedGroup) (KeyExchange, error) {
	switch group {
	case extension.X25519:
		kx := new(x25519KeyExchange)
		if err := p.FillRandom(kx.private[:]); err != nil {
			return nil, err
		}
		public, err := curve25519.X25519(kx.private[:], curve25519.Basepoint)
		if err != nil {
			return nil, errors.Wrap(err, "provider: x25519 keygen")
		}
		copy(kx.public[:], public)
		return kx, nil
	case extension.Secp256r1, extension.Secp384r1, extension.Secp521r1:
		curve := ecdh.P256()
		switch group {
		case extension.Secp384r1:
			curve = ecdh.P384()
		case extension.Secp521r1:
			curve = ecdh.P521()
		}
		private, err := curve.GenerateKey(rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "provider: ecdh keygen")
		}
		return &ecdhKeyExchange{group, private}, nil
	}
	return nil, errors.Errorf("provider: unsupported group %s", group)
}

func (StdProvider) VerifySignature(scheme extension.SignatureScheme, pub crypto.PublicKey, message, signature []byte) error {
	switch scheme {
	case extension.EcdsaSecp256r1Sha256, extension.EcdsaSecp384r1Sha384, extension.EcdsaSecp521r1Sha512:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("provider: public key is not ECDSA")
		}
		h := schemeHash(scheme).New()
		h.Write(message)
		if !ecdsa.VerifyASN1(key, h.Sum(nil), signature) {
			return errors.New("provider: ECDSA verification failed")
		}
		return nil
	case extension.RsaPssRsaeSha256, extension.RsaPssRsaeSha384, extension.RsaPssRsaeSha512:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return errors.New("provider: public key is not RSA")
		}
		alg := schemeHash(scheme)
		h := alg.New()
		h.Write(message)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: alg}
		return errors.Wrap(rsa.VerifyPSS(key, alg, h.Sum(nil), signature, opts), "provider")
	case extension.Ed25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return errors.New("provider: public key is not Ed25519")
		}
		if !ed25519.Verify(key, message, signature) {
			return errors.New("provider: Ed25519 verification failed")
		}
		return nil
	}
	return errors.Errorf("provider: unsupported signature scheme %s", scheme)
}

func (StdProvider) Sign(scheme extension.SignatureScheme, signer crypto.Signer, message []byte) ([]byte, error) {
	switch scheme {
	case extension.EcdsaSecp256r1Sha256, extension.EcdsaSecp384r1Sha384, extension.EcdsaSecp521r1Sha512:
		alg := schemeHash(scheme)
		h := alg.New()
		h.Write(message)
		sig, err := signer.Sign(rand.Reader, h.Sum(nil), alg)
		return sig, errors.Wrap(err, "provider: sign")
	case extension.RsaPssRsaeSha256, extension.RsaPssRsaeSha384, extension.RsaPssRsaeSha512:
		alg := schemeHash(scheme)
		h := alg.New()
		h.Write(message)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: alg}
		sig, err := signer.Sign(rand.Reader, h.Sum(nil), opts)
		return sig, errors.Wrap(err, "provider: sign")
	case extension.Ed25519:
		sig, err := signer.Sign(rand.Reader, message, crypto.Hash(0))
		return sig, errors.Wrap(err, "provider: sign")
	}
	return nil, errors.Errorf("provider: unsupported signature scheme %s", scheme)
}

func (StdProvider) ParseCertificate(der []byte) (*VerifiedLeaf, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "provider: certificate")
	}
	return &VerifiedLeaf{PublicKey: cert.PublicKey, Certificate: cert}, nil
}

func schemeHash(scheme extension.SignatureScheme) crypto.Hash {
	switch scheme {
	case extension.EcdsaSecp384r1Sha384, extension.RsaPssRsaeSha384:
		return crypto.SHA384
	case extension.EcdsaSecp521r1Sha512, extension.RsaPssRsaeSha512:
		return crypto.SHA512
	}
	return crypto.SHA256
}

// schemeForSigner picks the signature scheme matching a private key.
func schemeForSigner(signer crypto.Signer) (extension.SignatureScheme, error) {
	switch pub := signer.Public().(type) {
	case *ecdsa.PublicKey:
		switch pub.Curve.Params().BitSize {
		case 256:
			return extension.EcdsaSecp256r1Sha256, nil
		case 384:
			return extension.EcdsaSecp384r1Sha384, nil
		case 521:
			return extension.EcdsaSecp521r1Sha512, nil
		}
	case *rsa.PublicKey:
		return extension.RsaPssRsaeSha256, nil
	case ed25519.PublicKey:
		return extension.Ed25519, nil
	}
	return 0, errors.New("tls: unsupported private key type")
}
