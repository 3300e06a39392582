package extension

import (
	"strings"

	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/wire"
)

// NameType from RFC 6066; host_name is the only registered value.
const nameTypeHostName = 0

// ServerName is one entry of the server_name extension. The name is
// ASCII with no trailing dot (RFC 6066, section 3).
type ServerName struct {
	Name string
}

func ParseServerName(r *packet.Reader) (ServerName, error) {
	typ, err := r.ReadUint8()
	if err != nil {
		return ServerName{}, err
	}
	if typ != nameTypeHostName {
		return ServerName{}, packet.ErrInvalidData
	}
	n, err := r.ReadUint16()
	if err != nil {
		return ServerName{}, err
	}
	name, err := r.ReadSlice(int(n))
	if err != nil {
		return ServerName{}, err
	}
	for _, b := range name {
		if b >= 0x80 {
			return ServerName{}, packet.ErrInvalidData
		}
	}
	if len(name) == 0 || name[len(name)-1] == '.' {
		return ServerName{}, packet.ErrInvalidData
	}
	return ServerName{string(name)}, nil
}

func EncodeServerName(w *packet.Writer, n ServerName) error {
	if strings.HasSuffix(n.Name, ".") {
		return packet.ErrInvalidData
	}
	if err := w.WriteUint8(nameTypeHostName); err != nil {
		return err
	}
	return w.WithLen16(func(w *packet.Writer) error {
		return w.Append([]byte(n.Name))
	})
}

// ServerNameList is the server_name body in a ClientHello.
type ServerNameList struct {
	Names wire.ListView[ServerName]
}

func (ServerNameList) extensionBody() {}

// ServerNameResponse is the empty server_name acknowledgment the server
// places in EncryptedExtensions.
type ServerNameResponse struct{}

func (ServerNameResponse) extensionBody() {}

func parseServerNameBody(r *packet.Reader, msg Message) (Body, error) {
	if msg == InEncryptedExtensions {
		if !r.IsEmpty() {
			return nil, packet.ErrInvalidData
		}
		return ServerNameResponse{}, nil
	}
	v, err := wire.ParseList16(r, ParseServerName)
	if err != nil {
		return nil, err
	}
	return ServerNameList{v}, nil
}

func EncodeServerNameList(w *packet.Writer, names []ServerName) error {
	return Encode(w, TypeServerName, func(w *packet.Writer) error {
		return wire.EncodeList16(w, wire.SliceBuilder(EncodeServerName, names))
	})
}
