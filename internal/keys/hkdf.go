package keys

import (
	"crypto"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// expandLabel implements HKDF-Expand-Label from RFC 8446, section 7.1.
func expandLabel(h crypto.Hash, secret []byte, label string, context []byte, length int) []byte {
	var hkdfLabel cryptobyte.Builder
	hkdfLabel.AddUint16(uint16(length))
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 "))
		b.AddBytes([]byte(label))
	})
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	hkdfLabelBytes, err := hkdfLabel.Bytes()
	if err != nil {
		// The builder only fails on its own length limits, which the
		// fixed label set never reaches.
		panic("keys: failed to construct HKDF label: " + err.Error())
	}
	out := make([]byte, length)
	n, err := hkdf.Expand(h.New, secret, hkdfLabelBytes).Read(out)
	if err != nil || n != length {
		panic("keys: HKDF-Expand-Label invocation failed unexpectedly")
	}
	return out
}

// extract implements HKDF-Extract with the suite hash. A nil salt is a
// string of hash-length zeros.
func extract(h crypto.Hash, newSecret, salt []byte) []byte {
	return hkdf.Extract(h.New, newSecret, salt)
}

// deriveSecret is Derive-Secret from RFC 8446, section 7.1: expandLabel
// over a transcript hash.
func deriveSecret(h crypto.Hash, secret []byte, label string, transcriptHash []byte) []byte {
	return expandLabel(h, secret, label, transcriptHash, h.Size())
}

// emptyHash is Hash("").
func emptyHash(h crypto.Hash) []byte {
	hh := h.New()
	return hh.Sum(nil)
}
