// Package suite holds the TLS 1.3 cipher suite table: an AEAD paired
// with the hash that drives the transcript and the key schedule.
package suite

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"golang.org/x/crypto/chacha20poly1305"
)

type ID uint16

const (
	TLS_AES_128_GCM_SHA256       ID = 0x1301
	TLS_AES_256_GCM_SHA384       ID = 0x1302
	TLS_CHACHA20_POLY1305_SHA256 ID = 0x1303
)

func (id ID) String() string {
	switch id {
	case TLS_AES_128_GCM_SHA256:
		return "TLS_AES_128_GCM_SHA256"
	case TLS_AES_256_GCM_SHA384:
		return "TLS_AES_256_GCM_SHA384"
	case TLS_CHACHA20_POLY1305_SHA256:
		return "TLS_CHACHA20_POLY1305_SHA256"
	}
	return "TLS_UNKNOWN_SUITE"
}

// NonceLen is the AEAD nonce length shared by every TLS 1.3 suite.
const NonceLen = 12

type Suite struct {
	ID      ID
	Hash    crypto.Hash
	KeyLen  int
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var suites = map[ID]*Suite{
	TLS_AES_128_GCM_SHA256: {
		ID:      TLS_AES_128_GCM_SHA256,
		Hash:    crypto.SHA256,
		KeyLen:  16,
		NewAEAD: newGCM,
	},
	TLS_AES_256_GCM_SHA384: {
		ID:      TLS_AES_256_GCM_SHA384,
		Hash:    crypto.SHA384,
		KeyLen:  32,
		NewAEAD: newGCM,
	},
	TLS_CHACHA20_POLY1305_SHA256: {
		ID:      TLS_CHACHA20_POLY1305_SHA256,
		Hash:    crypto.SHA256,
		KeyLen:  chacha20poly1305.KeySize,
		NewAEAD: chacha20poly1305.New,
	},
}

// ByID returns the suite parameters, or nil for an unknown codepoint.
func ByID(id ID) *Suite {
	return suites[id]
}

// Default is the preference order offered by a client that has not
// configured its own.
var Default = []ID{
	TLS_AES_128_GCM_SHA256,
	TLS_AES_256_GCM_SHA384,
	TLS_CHACHA20_POLY1305_SHA256,
}
