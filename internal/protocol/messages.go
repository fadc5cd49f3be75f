package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Strings are encoded as a 2-byte big-endian length followed by UTF-8 bytes.

func putString(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

func getString(buf []byte, offset int, field string) (string, int, error) {
	if offset+2 > len(buf) {
		return "", 0, fmt.Errorf("%w: %s length missing", ErrInvalidFrame, field)
	}
	n := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2
	if offset+n > len(buf) {
		return "", 0, fmt.Errorf("%w: %s truncated", ErrInvalidFrame, field)
	}
	return string(buf[offset : offset+n]), offset + n, nil
}

// clampString bounds a string to the u16 length prefix.
func clampString(s string) string {
	if len(s) > 65535 {
		return s[:65535]
	}
	return s
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// AuthPayload is the payload for AUTH frames.
type AuthPayload struct {
	Token    string
	Instance uuid.UUID
	Reverse  bool
}

// Encode serializes AuthPayload to bytes.
func (a *AuthPayload) Encode() []byte {
	token := clampString(a.Token)
	buf := make([]byte, 2+len(token)+16+1)
	offset := putString(buf, 0, token)

	copy(buf[offset:], a.Instance[:])
	offset += 16

	buf[offset] = boolByte(a.Reverse)

	return buf
}

// DecodeAuth deserializes AuthPayload from bytes.
func DecodeAuth(buf []byte) (*AuthPayload, error) {
	a := &AuthPayload{}

	token, offset, err := getString(buf, 0, "Auth token")
	if err != nil {
		return nil, err
	}
	a.Token = token

	if offset+17 > len(buf) {
		return nil, fmt.Errorf("%w: Auth too short", ErrInvalidFrame)
	}
	copy(a.Instance[:], buf[offset:offset+16])
	offset += 16

	a.Reverse = buf[offset] != 0

	return a, nil
}

// AuthResponsePayload is the payload for AUTH_RESPONSE frames.
type AuthResponsePayload struct {
	Success bool
	Error   string
}

// Encode serializes AuthResponsePayload to bytes.
func (a *AuthResponsePayload) Encode() []byte {
	msg := clampString(a.Error)
	buf := make([]byte, 1+2+len(msg))
	buf[0] = boolByte(a.Success)
	putString(buf, 1, msg)
	return buf
}

// DecodeAuthResponse deserializes AuthResponsePayload from bytes.
func DecodeAuthResponse(buf []byte) (*AuthResponsePayload, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: AuthResponse too short", ErrInvalidFrame)
	}

	a := &AuthResponsePayload{Success: buf[0] != 0}

	msg, _, err := getString(buf, 1, "AuthResponse error")
	if err != nil {
		return nil, err
	}
	a.Error = msg

	return a, nil
}

// ConnectPayload is the payload for CONNECT frames.
type ConnectPayload struct {
	Protocol uint8
	Address  string
	Port     uint16
}

// Encode serializes ConnectPayload to bytes.
func (c *ConnectPayload) Encode() []byte {
	addr := clampString(c.Address)
	buf := make([]byte, 1+2+len(addr)+2)
	buf[0] = c.Protocol
	offset := putString(buf, 1, addr)
	binary.BigEndian.PutUint16(buf[offset:], c.Port)
	return buf
}

// DecodeConnect deserializes ConnectPayload from bytes.
func DecodeConnect(buf []byte) (*ConnectPayload, error) {
	if len(buf) < 5 { // protocol + empty addr + port
		return nil, fmt.Errorf("%w: Connect too short", ErrInvalidFrame)
	}

	c := &ConnectPayload{Protocol: buf[0]}

	if c.Protocol != ProtocolTCP && c.Protocol != ProtocolUDP {
		return nil, fmt.Errorf("%w: Connect unknown protocol %d", ErrInvalidFrame, c.Protocol)
	}

	addr, offset, err := getString(buf, 1, "Connect address")
	if err != nil {
		return nil, err
	}
	c.Address = addr

	if offset+2 > len(buf) {
		return nil, fmt.Errorf("%w: Connect port missing", ErrInvalidFrame)
	}
	c.Port = binary.BigEndian.Uint16(buf[offset:])

	return c, nil
}

// ConnectResponsePayload is the payload for CONNECT_RESPONSE frames.
type ConnectResponsePayload struct {
	Success bool
	Error   string
}

// Encode serializes ConnectResponsePayload to bytes.
func (c *ConnectResponsePayload) Encode() []byte {
	msg := clampString(c.Error)
	buf := make([]byte, 1+2+len(msg))
	buf[0] = boolByte(c.Success)
	putString(buf, 1, msg)
	return buf
}

// DecodeConnectResponse deserializes ConnectResponsePayload from bytes.
func DecodeConnectResponse(buf []byte) (*ConnectResponsePayload, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: ConnectResponse too short", ErrInvalidFrame)
	}

	c := &ConnectResponsePayload{Success: buf[0] != 0}

	msg, _, err := getString(buf, 1, "ConnectResponse error")
	if err != nil {
		return nil, err
	}
	c.Error = msg

	return c, nil
}

// DataPayload is the payload for DATA frames. Address and Port identify the
// datagram peer for UDP channels and are empty for TCP channels.
type DataPayload struct {
	Protocol    uint8
	Compression uint8
	Address     string
	Port        uint16
	Data        []byte
}

// Encode serializes DataPayload to bytes.
func (d *DataPayload) Encode() []byte {
	addr := clampString(d.Address)
	buf := make([]byte, 1+1+2+len(addr)+2+len(d.Data))
	buf[0] = d.Protocol
	buf[1] = d.Compression
	offset := putString(buf, 2, addr)
	binary.BigEndian.PutUint16(buf[offset:], d.Port)
	offset += 2
	copy(buf[offset:], d.Data)
	return buf
}

// DecodeData deserializes DataPayload from bytes.
func DecodeData(buf []byte) (*DataPayload, error) {
	if len(buf) < 6 { // protocol + compression + empty addr + port
		return nil, fmt.Errorf("%w: Data too short", ErrInvalidFrame)
	}

	d := &DataPayload{Protocol: buf[0], Compression: buf[1]}

	addr, offset, err := getString(buf, 2, "Data address")
	if err != nil {
		return nil, err
	}
	d.Address = addr

	if offset+2 > len(buf) {
		return nil, fmt.Errorf("%w: Data port missing", ErrInvalidFrame)
	}
	d.Port = binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	d.Data = make([]byte, len(buf)-offset)
	copy(d.Data, buf[offset:])

	return d, nil
}

// ConnectorPayload is the payload for CONNECTOR frames.
type ConnectorPayload struct {
	Operation uint8
	Token     string
}

// Encode serializes ConnectorPayload to bytes.
func (c *ConnectorPayload) Encode() []byte {
	token := clampString(c.Token)
	buf := make([]byte, 1+2+len(token))
	buf[0] = c.Operation
	putString(buf, 1, token)
	return buf
}

// DecodeConnector deserializes ConnectorPayload from bytes.
func DecodeConnector(buf []byte) (*ConnectorPayload, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: Connector too short", ErrInvalidFrame)
	}

	c := &ConnectorPayload{Operation: buf[0]}

	if c.Operation != ConnectorAdd && c.Operation != ConnectorRemove {
		return nil, fmt.Errorf("%w: Connector unknown operation %d", ErrInvalidFrame, c.Operation)
	}

	token, _, err := getString(buf, 1, "Connector token")
	if err != nil {
		return nil, err
	}
	c.Token = token

	return c, nil
}

// ConnectorResponsePayload is the payload for CONNECTOR_RESPONSE frames.
type ConnectorResponsePayload struct {
	Success bool
	Token   string
	Error   string
}

// Encode serializes ConnectorResponsePayload to bytes.
func (c *ConnectorResponsePayload) Encode() []byte {
	token := clampString(c.Token)
	msg := clampString(c.Error)
	buf := make([]byte, 1+2+len(token)+2+len(msg))
	buf[0] = boolByte(c.Success)
	offset := putString(buf, 1, token)
	putString(buf, offset, msg)
	return buf
}

// DecodeConnectorResponse deserializes ConnectorResponsePayload from bytes.
func DecodeConnectorResponse(buf []byte) (*ConnectorResponsePayload, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("%w: ConnectorResponse too short", ErrInvalidFrame)
	}

	c := &ConnectorResponsePayload{Success: buf[0] != 0}

	token, offset, err := getString(buf, 1, "ConnectorResponse token")
	if err != nil {
		return nil, err
	}
	c.Token = token

	msg, _, err := getString(buf, offset, "ConnectorResponse error")
	if err != nil {
		return nil, err
	}
	c.Error = msg

	return c, nil
}

// LogPayload is the payload for LOG frames.
type LogPayload struct {
	Level   uint8
	Message string
}

// Encode serializes LogPayload to bytes.
func (l *LogPayload) Encode() []byte {
	msg := clampString(l.Message)
	buf := make([]byte, 1+2+len(msg))
	buf[0] = l.Level
	putString(buf, 1, msg)
	return buf
}

// DecodeLog deserializes LogPayload from bytes.
func DecodeLog(buf []byte) (*LogPayload, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: Log too short", ErrInvalidFrame)
	}

	l := &LogPayload{Level: buf[0]}

	msg, _, err := getString(buf, 1, "Log message")
	if err != nil {
		return nil, err
	}
	l.Message = msg

	return l, nil
}

// PartnersPayload is the payload for PARTNERS frames.
type PartnersPayload struct {
	Count uint32
}

// Encode serializes PartnersPayload to bytes.
func (p *PartnersPayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.Count)
	return buf
}

// DecodePartners deserializes PartnersPayload from bytes.
func DecodePartners(buf []byte) (*PartnersPayload, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: Partners too short", ErrInvalidFrame)
	}
	return &PartnersPayload{
		Count: binary.BigEndian.Uint32(buf),
	}, nil
}
