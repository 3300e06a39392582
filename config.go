package embertls

import (
	"crypto"
	"time"

	"github.com/embertls/embertls/internal/suite"
)

// PSK is one externally established pre-shared key.
type PSK struct {
	Identity []byte
	Key      []byte

	// Suite fixes the hash the PSK is bound to; zero means
	// TLS_AES_128_GCM_SHA256.
	Suite suite.ID
}

func (p PSK) suiteID() suite.ID {
	if p.Suite == 0 {
		return suite.TLS_AES_128_GCM_SHA256
	}
	return p.Suite
}

// Config carries the per-connection settings. The zero value is a
// usable client config for an unauthenticated test peer; servers must
// set Certificate.
type Config struct {
	// ServerName is sent by clients in the server_name extension and
	// keys the client-side ticket cache.
	ServerName string

	// CipherSuites overrides the offered/accepted suite preference.
	CipherSuites []suite.ID

	// Certificate is the local certificate chain and key, required for
	// servers and used by clients when the server requests
	// authentication.
	Certificate CertificateChain

	// PSKs are externally established pre-shared keys, offered by
	// clients and accepted by servers. All configured PSKs must share
	// one hash.
	PSKs []PSK

	// RequestClientCert makes a server ask the client to authenticate.
	RequestClientCert bool

	// SessionTickets makes a server issue a resumption ticket after the
	// handshake. TicketStore must be set.
	SessionTickets bool

	// TicketCache stores tickets a client receives, keyed by server
	// name; when set, cached tickets are offered for resumption.
	TicketCache *TicketCache

	// TicketStore is the server-side table of issued tickets.
	TicketStore *TicketStore

	// Provider supplies the cryptographic primitives. Nil means
	// StdProvider.
	Provider CryptoProvider

	// Time is the clock used for ticket ages; nil means time.Now.
	Time func() time.Time

	// ReadBuffer and WriteBuffer are the caller-provided record
	// buffers. Nil buffers are allocated at the maximum record size.
	ReadBuffer  []byte
	WriteBuffer []byte
}

func (c *Config) provider() CryptoProvider {
	if c.Provider != nil {
		return c.Provider
	}
	return StdProvider{}
}

func (c *Config) now() time.Time {
	if c.Time != nil {
		return c.Time()
	}
	return time.Now()
}

func (c *Config) suites() []suite.ID {
	if len(c.CipherSuites) > 0 {
		return c.CipherSuites
	}
	return suite.Default
}

// CertificateChain is a DER certificate chain, leaf first, with the
// leaf's private key.
type CertificateChain struct {
	Chain      [][]byte
	PrivateKey crypto.Signer
}

func (cc CertificateChain) isSet() bool {
	return len(cc.Chain) > 0 && cc.PrivateKey != nil
}
