package extension

import (
	"fmt"

	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// SignatureScheme is a signature algorithm codepoint (RFC 8446,
// section 4.2.3).
type SignatureScheme uint16

const (
	RsaPkcs1Sha256 SignatureScheme = 0x0401
	RsaPkcs1Sha384 SignatureScheme = 0x0501
	RsaPkcs1Sha512 SignatureScheme = 0x0601

	EcdsaSecp256r1Sha256 SignatureScheme = 0x0403
	EcdsaSecp384r1Sha384 SignatureScheme = 0x0503
	EcdsaSecp521r1Sha512 SignatureScheme = 0x0603

	RsaPssRsaeSha256 SignatureScheme = 0x0804
	RsaPssRsaeSha384 SignatureScheme = 0x0805
	RsaPssRsaeSha512 SignatureScheme = 0x0806

	Ed25519 SignatureScheme = 0x0807
	Ed448   SignatureScheme = 0x0808

	RsaPssPssSha256 SignatureScheme = 0x0809
	RsaPssPssSha384 SignatureScheme = 0x080a
	RsaPssPssSha512 SignatureScheme = 0x080b

	// Legacy algorithms, accepted on the wire only.
	RsaPkcs1Sha1 SignatureScheme = 0x0201
	EcdsaSha1    SignatureScheme = 0x0203
)

var knownSchemes = map[SignatureScheme]string{
	RsaPkcs1Sha256:       "rsa_pkcs1_sha256",
	RsaPkcs1Sha384:       "rsa_pkcs1_sha384",
	RsaPkcs1Sha512:       "rsa_pkcs1_sha512",
	EcdsaSecp256r1Sha256: "ecdsa_secp256r1_sha256",
	EcdsaSecp384r1Sha384: "ecdsa_secp384r1_sha384",
	EcdsaSecp521r1Sha512: "ecdsa_secp521r1_sha512",
	RsaPssRsaeSha256:     "rsa_pss_rsae_sha256",
	RsaPssRsaeSha384:     "rsa_pss_rsae_sha384",
	RsaPssRsaeSha512:     "rsa_pss_rsae_sha512",
	Ed25519:              "ed25519",
	Ed448:                "ed448",
	RsaPssPssSha256:      "rsa_pss_pss_sha256",
	RsaPssPssSha384:      "rsa_pss_pss_sha384",
	RsaPssPssSha512:      "rsa_pss_pss_sha512",
	RsaPkcs1Sha1:         "rsa_pkcs1_sha1",
	EcdsaSha1:            "ecdsa_sha1",
}

func (s SignatureScheme) String() string {
	if name, ok := knownSchemes[s]; ok {
		return name
	}
	return fmt.Sprintf("scheme(%#04x)", uint16(s))
}

func ParseSignatureScheme(r *packet.Reader) (SignatureScheme, error) {
	v, err := r.ReadUint16()
	if err != nil {
		return 0, err
	}
	s := SignatureScheme(v)
	if _, ok := knownSchemes[s]; !ok {
		return 0, packet.ErrInvalidData
	}
	return s, nil
}

func EncodeSignatureScheme(w *packet.Writer, s SignatureScheme) error {
	return w.WriteUint16(uint16(s))
}

// SignatureAlgorithmsList is the signature_algorithms extension body.
type SignatureAlgorithmsList struct {
	Schemes wire.ListView[SignatureScheme]
}

func (SignatureAlgorithmsList) extensionBody() {}

// Contains reports whether the peer offered the given scheme.
func (l SignatureAlgorithmsList) Contains(s SignatureScheme) bool {
	for offered := range l.Schemes.All() {
		if offered == s {
			return true
		}
	}
	return false
}

// SignatureAlgorithmsCertList is the signature_algorithms_cert body; it
// shares the scheme list wire form.
type SignatureAlgorithmsCertList struct {
	Schemes wire.ListView[SignatureScheme]
}

func (SignatureAlgorithmsCertList) extensionBody() {}

func parseSignatureAlgorithmsBody(r *packet.Reader, _ Message) (Body, error) {
	v, err := wire.ParseList16(r, ParseSignatureScheme)
	if err != nil {
		return nil, err
	}
	return SignatureAlgorithmsList{v}, nil
}

func parseSignatureAlgorithmsCertBody(r *packet.Reader, _ Message) (Body, error) {
	v, err := wire.ParseList16(r, ParseSignatureScheme)
	if err != nil {
		return nil, err
	}
	return SignatureAlgorithmsCertList{v}, nil
}

func EncodeSignatureAlgorithms(w *packet.Writer, schemes []SignatureScheme) error {
	return Encode(w, TypeSignatureAlgorithms, func(w *packet.Writer) error {
		return wire.EncodeList16(w, wire.SliceBuilder(EncodeSignatureScheme, schemes))
	})
}

func EncodeSignatureAlgorithmsCert(w *packet.Writer, schemes []SignatureScheme) error {
	return Encode(w, TypeSignatureAlgorithmsCert, func(w *packet.Writer) error {
		return wire.EncodeList16(w, wire.SliceBuilder(EncodeSignatureScheme, schemes))
	})
}
