package embertls

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/handshake"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/record"
)

var (
	// ErrEncodeError reports that an outbound message did not fit the
	// write buffer or a length prefix.
	ErrEncodeError = errors.New("tls: encode error")

	// ErrDecodeError reports malformed inbound data.
	ErrDecodeError = errors.New("tls: decode error")

	// ErrInvalidRecord reports a record header that does not parse.
	ErrInvalidRecord = errors.New("tls: invalid record")

	// ErrInvalidHandshake reports a malformed handshake message.
	ErrInvalidHandshake = errors.New("tls: invalid handshake")

	// ErrInvalidCipherSuite reports that no offered suite is acceptable.
	ErrInvalidCipherSuite = errors.New("tls: invalid cipher suite")

	// ErrUnimplemented reports a valid message this stack does not
	// process.
	ErrUnimplemented = errors.New("tls: unimplemented")

	// ErrConnectionClosed is returned by operations on a connection
	// after Close.
	ErrConnectionClosed = errors.New("tls: connection closed")
)

// AlertError is a fatal alert received from the peer.
type AlertError struct {
	Alert alert.Alert
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("tls: remote alert: %s (%s)", e.Alert.Description, e.Alert.Level)
}

// mapDecodeError folds the internal parse taxonomy into the public one.
// Protocol aborts pass through untouched so the driver can emit them.
func mapDecodeError(err error) error {
	var abort *alert.Abort
	switch {
	case err == nil:
		return nil
	case errors.As(err, &abort):
		return err
	case errors.Is(err, handshake.ErrUnimplemented):
		return ErrUnimplemented
	case errors.Is(err, handshake.ErrInvalidSessionID),
		errors.Is(err, handshake.ErrInvalid):
		return ErrInvalidHandshake
	case errors.Is(err, handshake.ErrInvalidCipherSuite):
		return ErrInvalidCipherSuite
	case errors.Is(err, record.ErrInvalidRecord):
		return ErrInvalidRecord
	case errors.Is(err, packet.ErrShortBuffer),
		errors.Is(err, packet.ErrInvalidData),
		errors.Is(err, packet.ErrLengthOverflow):
		return ErrDecodeError
	}
	return err
}

// mapEncodeError is the outbound counterpart: buffer exhaustion while
// composing a record is an encode error.
func mapEncodeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, packet.ErrShortBuffer),
		errors.Is(err, packet.ErrLengthOverflow):
		return ErrEncodeError
	}
	return err
}

// alertFor picks the alert emitted when the handshake dies with err.
func alertFor(err error) alert.Alert {
	var abort *alert.Abort
	if errors.As(err, &abort) {
		return abort.Alert()
	}
	switch {
	case errors.Is(err, ErrDecodeError),
		errors.Is(err, ErrInvalidHandshake),
		errors.Is(err, ErrInvalidRecord):
		return alert.Alert{Level: alert.LevelFatal, Description: alert.DecodeError}
	case errors.Is(err, ErrInvalidCipherSuite):
		return alert.Alert{Level: alert.LevelFatal, Description: alert.HandshakeFailure}
	}
	return alert.Alert{Level: alert.LevelFatal, Description: alert.InternalError}
}
