package embertls

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/embertls/embertls/internal/suite"
)

// tcpPair returns the two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (clientSide, serverSide net.Conn) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientSide, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverSide, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})
	return clientSide, serverSide
}

func serverConfig(t *testing.T) *Config {
	t.Helper()
	chain, err := GenerateSelfSigned("localhost")
	require.NoError(t, err)
	return &Config{Certificate: chain}
}

// runServer drives srv in a goroutine: handshake, expect want, answer
// "pong", then wait for the client's close_notify.
func runServer(t *testing.T, srv *Conn, want string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := srv.Handshake(); err != nil {
			done <- err
			return
		}
		buf := make([]byte, len(want))
		if _, err := io.ReadFull(srv, buf); err != nil {
			done <- err
			return
		}
		if string(buf) != want {
			done <- io.ErrUnexpectedEOF
			return
		}
		if _, err := srv.Write([]byte("pong")); err != nil {
			done <- err
			return
		}
		if _, err := srv.Read(buf); err != io.EOF {
			done <- err
			return
		}
	}()
	return done
}

func pingPong(t *testing.T, cli *Conn, done <-chan error) {
	t.Helper()
	_, err := cli.Write([]byte("ping"))
	require.NoError(t, err)

	reply := make([]byte, 4)
	_, err = io.ReadFull(cli, reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))

	require.NoError(t, cli.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}
}

func TestHandshakeAndEcho(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverConfig(t))
	cli := Client(clientSide, &Config{ServerName: "localhost"})

	done := runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())

	st := cli.ConnectionState()
	assert.Equal(t, suite.TLS_AES_128_GCM_SHA256, st.Suite)
	require.NotNil(t, st.PeerCertificate)
	assert.Equal(t, "localhost", st.PeerCertificate.Subject.CommonName)
	assert.False(t, st.ResumedWithPSK)

	pingPong(t, cli, done)
}

func TestLargeTransfer(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverConfig(t))
	cli := Client(clientSide, &Config{ServerName: "localhost"})

	// Spans multiple records in both directions.
	payload := make([]byte, 70_000)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(srv, buf); err != nil {
			done <- err
			return
		}
		if _, err := srv.Write(buf); err != nil {
			done <- err
		}
	}()

	_, err := cli.Write(payload)
	require.NoError(t, err)
	echo := make([]byte, len(payload))
	_, err = io.ReadFull(cli, echo)
	require.NoError(t, err)
	assert.Equal(t, payload, echo)

	require.NoError(t, <-done)
}

func TestCloseNotifyDrainsPending(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverConfig(t))
	cli := Client(clientSide, &Config{ServerName: "localhost"})

	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := srv.Handshake(); err != nil {
			done <- err
			return
		}
		if _, err := srv.Write([]byte("last words")); err != nil {
			done <- err
			return
		}
		if err := srv.Close(); err != nil {
			done <- err
		}
	}()

	require.NoError(t, cli.Handshake())

	// The peer's data must be readable before the close_notify turns
	// into EOF.
	buf := make([]byte, 10)
	_, err := io.ReadFull(cli, buf)
	require.NoError(t, err)
	assert.Equal(t, "last words", string(buf))

	_, err = cli.Read(buf)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, <-done)
}

func TestExternalPSKHandshake(t *testing.T) {
	psk := PSK{Identity: []byte("device-7"), Key: []byte("0123456789abcdef0123456789abcdef")}
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, &Config{PSKs: []PSK{psk}})
	cli := Client(clientSide, &Config{ServerName: "localhost", PSKs: []PSK{psk}})

	done := runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())
	assert.True(t, cli.ConnectionState().ResumedWithPSK)
	assert.Nil(t, cli.ConnectionState().PeerCertificate)
	pingPong(t, cli, done)
}

func TestPSKBinderMismatchAborts(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, &Config{PSKs: []PSK{{
		Identity: []byte("device-7"),
		Key:      []byte("server thinks the key is this..."),
	}}})
	cli := Client(clientSide, &Config{ServerName: "localhost", PSKs: []PSK{{
		Identity: []byte("device-7"),
		Key:      []byte("client thinks the key is that..."),
	}}})

	done := make(chan error, 1)
	go func() {
		done <- srv.Handshake()
	}()
	clientErr := cli.Handshake()
	serverErr := <-done

	require.Error(t, serverErr)
	require.Error(t, clientErr)
	var remote *AlertError
	assert.ErrorAs(t, clientErr, &remote)

	// The first error is sticky.
	_, err := cli.Write([]byte("x"))
	assert.Equal(t, clientErr, err)
}

func TestSessionResumption(t *testing.T) {
	cache := NewTicketCache(4)
	store := NewTicketStore(16)
	chain, err := GenerateSelfSigned("localhost")
	require.NoError(t, err)

	serverCfg := func() *Config {
		return &Config{Certificate: chain, SessionTickets: true, TicketStore: store}
	}
	clientCfg := func() *Config {
		return &Config{ServerName: "localhost", TicketCache: cache}
	}

	// First connection: full handshake; the ticket arrives alongside
	// the application data.
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverCfg())
	cli := Client(clientSide, clientCfg())
	done := runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())
	assert.False(t, cli.ConnectionState().ResumedWithPSK)
	pingPong(t, cli, done)

	// Second connection: the cached ticket resumes.
	clientSide, serverSide = tcpPair(t)
	srv = Server(serverSide, serverCfg())
	cli = Client(clientSide, clientCfg())
	done = runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())
	assert.True(t, cli.ConnectionState().ResumedWithPSK)
	assert.True(t, srv.ConnectionState().ResumedWithPSK)
	pingPong(t, cli, done)
}

func TestClientAuthentication(t *testing.T) {
	serverChain, err := GenerateSelfSigned("localhost")
	require.NoError(t, err)
	clientChain, err := GenerateSelfSigned("client-device")
	require.NoError(t, err)

	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, &Config{Certificate: serverChain, RequestClientCert: true})
	cli := Client(clientSide, &Config{ServerName: "localhost", Certificate: clientChain})

	done := runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())
	pingPong(t, cli, done)

	peer := srv.ConnectionState().PeerCertificate
	require.NotNil(t, peer)
	assert.Equal(t, "client-device", peer.Subject.CommonName)
}

func TestKeyUpdate(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverConfig(t))
	cli := Client(clientSide, &Config{ServerName: "localhost"})

	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := srv.Handshake(); err != nil {
			done <- err
			return
		}
		buf := make([]byte, 6)
		for _, want := range []string{"before", "after!"} {
			if _, err := io.ReadFull(srv, buf); err != nil {
				done <- err
				return
			}
			if string(buf) != want {
				done <- io.ErrUnexpectedEOF
				return
			}
		}
		if _, err := srv.Write([]byte("done")); err != nil {
			done <- err
		}
	}()

	require.NoError(t, cli.Handshake())
	_, err := cli.Write([]byte("before"))
	require.NoError(t, err)

	// Rotate our write keys; the server follows the update message.
	require.NoError(t, cli.SendKeyUpdate(false))
	_, err = cli.Write([]byte("after!"))
	require.NoError(t, err)

	reply := make([]byte, 4)
	_, err = io.ReadFull(cli, reply)
	require.NoError(t, err)
	assert.Equal(t, "done", string(reply))

	require.NoError(t, <-done)
}

func TestServerRequiresCredentials(t *testing.T) {
	_, serverSide := tcpPair(t)
	srv := Server(serverSide, &Config{})
	assert.Error(t, srv.Handshake())
}

func TestCallerProvidedBuffers(t *testing.T) {
	clientSide, serverSide := tcpPair(t)
	srv := Server(serverSide, serverConfig(t))
	cli := Client(clientSide, &Config{
		ServerName:  "localhost",
		ReadBuffer:  make([]byte, 17*1024),
		WriteBuffer: make([]byte, 17*1024),
	})

	done := runServer(t, srv, "ping")
	require.NoError(t, cli.Handshake())
	pingPong(t, cli, done)
}

var _ io.ReadWriteCloser = (*Conn)(nil)
