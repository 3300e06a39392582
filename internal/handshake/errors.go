package handshake

import "github.com/pkg/errors"

var (
	ErrInvalidSessionID   = errors.New("handshake: invalid legacy session id")
	ErrInvalidCipherSuite = errors.New("handshake: invalid cipher suite field")
)
