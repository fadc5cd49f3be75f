package proxy

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// SOCKS5 protocol constants per RFC 1928.
const (
	socks5Version = 0x05

	authMethodNoAuth       = 0x00
	authMethodUserPass     = 0x02
	authMethodNoAcceptable = 0xFF

	cmdConnect = 0x01

	addrTypeIPv4   = 0x01
	addrTypeDomain = 0x03
	addrTypeIPv6   = 0x04
)

// replyMessage maps SOCKS5 reply codes to text per RFC 1928.
func replyMessage(code byte) string {
	switch code {
	case 0x01:
		return "general server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return fmt.Sprintf("reply code %d", code)
	}
}

// handshakeSOCKS5 negotiates a SOCKS5 CONNECT to address:port. The target
// is always sent as a domain-name address so the proxy performs name
// resolution.
func (d *Dialer) handshakeSOCKS5(conn net.Conn, address string, port uint16) error {
	greeting := []byte{socks5Version, 0x01, authMethodNoAuth}
	if d.cfg.hasAuth() {
		greeting = []byte{socks5Version, 0x02, authMethodNoAuth, authMethodUserPass}
	}
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("%w: write greeting: %v", ErrHandshakeFailed, err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("%w: read method selection: %v", ErrHandshakeFailed, err)
	}
	if reply[0] != socks5Version {
		return fmt.Errorf("%w: unexpected version %d", ErrHandshakeFailed, reply[0])
	}

	switch reply[1] {
	case authMethodNoAuth:
	case authMethodUserPass:
		if !d.cfg.hasAuth() {
			return fmt.Errorf("%w: proxy requires credentials", ErrHandshakeFailed)
		}
		if err := d.socks5Auth(conn); err != nil {
			return err
		}
	case authMethodNoAcceptable:
		return fmt.Errorf("%w: no acceptable authentication method", ErrHandshakeFailed)
	default:
		return fmt.Errorf("%w: unsupported authentication method %d", ErrHandshakeFailed, reply[1])
	}

	return d.socks5Connect(conn, address, port)
}

// socks5Auth performs username/password subnegotiation per RFC 1929.
func (d *Dialer) socks5Auth(conn net.Conn) error {
	req := make([]byte, 0, 3+len(d.cfg.Username)+len(d.cfg.Password))
	req = append(req, 0x01)
	req = append(req, byte(len(d.cfg.Username)))
	req = append(req, d.cfg.Username...)
	req = append(req, byte(len(d.cfg.Password)))
	req = append(req, d.cfg.Password...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: write credentials: %v", ErrHandshakeFailed, err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("%w: read auth status: %v", ErrHandshakeFailed, err)
	}
	if reply[1] != 0x00 {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, reply[1])
	}
	return nil
}

// socks5Connect issues the CONNECT request and consumes the full reply,
// including the bound address the proxy reports.
func (d *Dialer) socks5Connect(conn net.Conn, address string, port uint16) error {
	if len(address) > 255 {
		return fmt.Errorf("%w: target address exceeds 255 bytes", ErrHandshakeFailed)
	}

	req := make([]byte, 0, 7+len(address))
	req = append(req, socks5Version, cmdConnect, 0x00, addrTypeDomain, byte(len(address)))
	req = append(req, address...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	req = append(req, portBytes...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: write connect request: %v", ErrHandshakeFailed, err)
	}

	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("%w: read connect reply: %v", ErrHandshakeFailed, err)
	}
	if reply[0] != socks5Version {
		return fmt.Errorf("%w: unexpected version %d", ErrHandshakeFailed, reply[0])
	}
	if reply[1] != 0x00 {
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, replyMessage(reply[1]))
	}

	var skip int
	switch reply[3] {
	case addrTypeIPv4:
		skip = 4 + 2
	case addrTypeIPv6:
		skip = 16 + 2
	case addrTypeDomain:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenByte); err != nil {
			return fmt.Errorf("%w: read bound address: %v", ErrHandshakeFailed, err)
		}
		skip = int(lenByte[0]) + 2
	default:
		return fmt.Errorf("%w: unsupported bound address type %d", ErrHandshakeFailed, reply[3])
	}
	if _, err := io.ReadFull(conn, make([]byte, skip)); err != nil {
		return fmt.Errorf("%w: read bound address: %v", ErrHandshakeFailed, err)
	}

	return nil
}
