package proxy

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// maxConnectResponse bounds how many response header bytes a proxy may
// send before the handshake is abandoned.
const maxConnectResponse = 8192

// handshakeHTTP issues an HTTP CONNECT request and waits for the response
// headers. The response is read one byte at a time so nothing beyond the
// header terminator is consumed; bytes after it belong to the tunnel.
func (d *Dialer) handshakeHTTP(conn net.Conn, address string, port uint16) error {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&req, "Host: %s\r\n", target)
	if d.cfg.hasAuth() {
		cred := base64.StdEncoding.EncodeToString([]byte(d.cfg.Username + ":" + d.cfg.Password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return fmt.Errorf("%w: write connect request: %v", ErrHandshakeFailed, err)
	}

	response := make([]byte, 0, 256)
	b := make([]byte, 1)
	for !bytes.HasSuffix(response, []byte("\r\n\r\n")) {
		if len(response) >= maxConnectResponse {
			return fmt.Errorf("%w: response headers too large", ErrHandshakeFailed)
		}
		if _, err := io.ReadFull(conn, b); err != nil {
			return fmt.Errorf("%w: read connect response: %v", ErrHandshakeFailed, err)
		}
		response = append(response, b[0])
	}

	statusLine := response
	if idx := bytes.Index(response, []byte("\r\n")); idx >= 0 {
		statusLine = response[:idx]
	}
	if !bytes.Contains(statusLine, []byte("200")) {
		return fmt.Errorf("%w: proxy returned %q", ErrHandshakeFailed, statusLine)
	}
	return nil
}
