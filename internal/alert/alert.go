// Package alert implements the TLS alert protocol (RFC 8446, section 6)
// and the abort error that carries an alert through the handshake code
// back to the connection driver.
package alert

import (
	"fmt"

	"github.com/embertls/embertls/internal/packet"
)

type Level uint8

const (
	LevelWarning Level = 1
	LevelFatal   Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelFatal:
		return "fatal"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

type Description uint8

const (
	CloseNotify                  Description = 0
	UnexpectedMessage            Description = 10
	BadRecordMAC                 Description = 20
	RecordOverflow               Description = 22
	HandshakeFailure             Description = 40
	BadCertificate               Description = 42
	UnsupportedCertificate       Description = 43
	CertificateRevoked           Description = 44
	CertificateExpired           Description = 45
	CertificateUnknown           Description = 46
	IllegalParameter             Description = 47
	UnknownCA                    Description = 48
	AccessDenied                 Description = 49
	DecodeError                  Description = 50
	DecryptError                 Description = 51
	ProtocolVersion              Description = 70
	InsufficientSecurity         Description = 71
	InternalError                Description = 80
	InappropriateFallback        Description = 86
	UserCanceled                 Description = 90
	MissingExtension             Description = 109
	UnsupportedExtension         Description = 110
	UnrecognizedName             Description = 112
	BadCertificateStatusResponse Description = 113
	UnknownPSKIdentity           Description = 115
	CertificateRequired          Description = 116
	NoApplicationProtocol        Description = 120
)

func (d Description) String() string {
	switch d {
	case CloseNotify:
		return "close_notify"
	case UnexpectedMessage:
		return "unexpected_message"
	case BadRecordMAC:
		return "bad_record_mac"
	case RecordOverflow:
		return "record_overflow"
	case HandshakeFailure:
		return "handshake_failure"
	case IllegalParameter:
		return "illegal_parameter"
	case DecodeError:
		return "decode_error"
	case DecryptError:
		return "decrypt_error"
	case MissingExtension:
		return "missing_extension"
	case UnsupportedExtension:
		return "unsupported_extension"
	case UnknownPSKIdentity:
		return "unknown_psk_identity"
	case InternalError:
		return "internal_error"
	}
	return fmt.Sprintf("alert(%d)", uint8(d))
}

// Alert is the two-byte alert message.
type Alert struct {
	Level       Level
	Description Description
}

func Parse(r *packet.Reader) (Alert, error) {
	level, err := r.ReadUint8()
	if err != nil {
		return Alert{}, err
	}
	desc, err := r.ReadUint8()
	if err != nil {
		return Alert{}, err
	}
	if level != uint8(LevelWarning) && level != uint8(LevelFatal) {
		return Alert{}, packet.ErrInvalidData
	}
	return Alert{Level(level), Description(desc)}, nil
}

func (a Alert) EncodeTo(w *packet.Writer) error {
	if err := w.WriteUint8(uint8(a.Level)); err != nil {
		return err
	}
	return w.WriteUint8(uint8(a.Description))
}

// Abort is an error demanding that the handshake be torn down with the
// given alert. A fatal abort is sent to the peer before the connection
// turns terminal.
type Abort struct {
	Level       Level
	Description Description
}

func (a *Abort) Error() string {
	return fmt.Sprintf("tls: %s alert: %s", a.Level, a.Description)
}

func (a *Abort) Alert() Alert {
	return Alert{a.Level, a.Description}
}

// Fatal builds a fatal abort for the given description.
func Fatal(d Description) *Abort {
	return &Abort{LevelFatal, d}
}
