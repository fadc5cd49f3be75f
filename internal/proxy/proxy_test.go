package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"socks5", Config{Address: "127.0.0.1:1080", Type: TypeSOCKS5}, false},
		{"http", Config{Address: "127.0.0.1:8080", Type: TypeHTTP}, false},
		{"default type", Config{Address: "proxy.local:1080"}, false},
		{"with credentials", Config{Address: "127.0.0.1:1080", Username: "u", Password: "p"}, false},
		{"missing address", Config{Type: TypeSOCKS5}, true},
		{"address without port", Config{Address: "127.0.0.1"}, true},
		{"unknown type", Config{Address: "127.0.0.1:1080", Type: "socks4"}, true},
		{"oversized username", Config{Address: "127.0.0.1:1080", Username: strings.Repeat("a", 256)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDialer_Direct(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	addr := ln.Addr().(*net.TCPAddr)

	d := NewDialer(nil, time.Second)
	conn, err := d.DialContext(context.Background(), addr.IP.String(), uint16(addr.Port))
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q, want %q", buf, "ping")
	}
}

func TestSOCKS5_NoAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	type exchange struct {
		greeting []byte
		connect  []byte
	}
	exchCh := make(chan exchange, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := readGreeting(conn)
		conn.Write([]byte{0x05, 0x00})

		connect := readConnectRequest(conn)
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

		exchCh <- exchange{greeting: greeting, connect: connect}

		// Behave as the target: echo tunneled bytes.
		io.Copy(conn, conn)
	}()

	d := NewDialer(&Config{Address: ln.Addr().String()}, time.Second)
	conn, err := d.DialContext(context.Background(), "example.com", 8080)
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	exch := <-exchCh
	if !bytes.Equal(exch.greeting, []byte{0x05, 0x01, 0x00}) {
		t.Errorf("greeting = %v, want [5 1 0]", exch.greeting)
	}

	wantConnect := []byte{0x05, 0x01, 0x00, 0x03, byte(len("example.com"))}
	wantConnect = append(wantConnect, "example.com"...)
	wantConnect = append(wantConnect, 0x1F, 0x90) // 8080
	if !bytes.Equal(exch.connect, wantConnect) {
		t.Errorf("connect request = %v, want %v", exch.connect, wantConnect)
	}

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q, want %q", buf, "ping")
	}
}

func TestSOCKS5_WithAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	type exchange struct {
		greeting []byte
		username string
		password string
	}
	exchCh := make(chan exchange, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := readGreeting(conn)
		conn.Write([]byte{0x05, 0x02})

		username, password := readAuthRequest(conn)
		conn.Write([]byte{0x01, 0x00})

		readConnectRequest(conn)
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

		exchCh <- exchange{greeting: greeting, username: username, password: password}
	}()

	d := NewDialer(&Config{
		Address:  ln.Addr().String(),
		Username: "alice",
		Password: "secret",
	}, time.Second)

	conn, err := d.DialContext(context.Background(), "example.com", 443)
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	exch := <-exchCh
	if !bytes.Equal(exch.greeting, []byte{0x05, 0x02, 0x00, 0x02}) {
		t.Errorf("greeting = %v, want [5 2 0 2]", exch.greeting)
	}
	if exch.username != "alice" {
		t.Errorf("username = %q, want %q", exch.username, "alice")
	}
	if exch.password != "secret" {
		t.Errorf("password = %q, want %q", exch.password, "secret")
	}
}

func TestSOCKS5_AuthFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	extraCh := make(chan int, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		readGreeting(conn)
		conn.Write([]byte{0x05, 0x02})

		readAuthRequest(conn)
		conn.Write([]byte{0x01, 0x01})

		// The dialer must give up without sending a connect request.
		n, _ := conn.Read(make([]byte, 16))
		extraCh <- n
	}()

	d := NewDialer(&Config{
		Address:  ln.Addr().String(),
		Username: "alice",
		Password: "wrong",
	}, time.Second)

	if _, err := d.DialContext(context.Background(), "example.com", 80); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("DialContext() error = %v, want ErrAuthFailed", err)
	}

	if extra := <-extraCh; extra != 0 {
		t.Errorf("proxy received %d bytes after auth failure, want 0", extra)
	}
}

func TestSOCKS5_NoAcceptableMethod(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readGreeting(conn)
		conn.Write([]byte{0x05, 0xFF})
	}()

	d := NewDialer(&Config{Address: ln.Addr().String()}, time.Second)
	if _, err := d.DialContext(context.Background(), "example.com", 80); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("DialContext() error = %v, want ErrHandshakeFailed", err)
	}
}

func TestSOCKS5_BadVersion(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readGreeting(conn)
		conn.Write([]byte{0x04, 0x00})
	}()

	d := NewDialer(&Config{Address: ln.Addr().String()}, time.Second)
	if _, err := d.DialContext(context.Background(), "example.com", 80); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("DialContext() error = %v, want ErrHandshakeFailed", err)
	}
}

func TestSOCKS5_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		readGreeting(conn)
		conn.Write([]byte{0x05, 0x00})

		readConnectRequest(conn)
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	d := NewDialer(&Config{Address: ln.Addr().String()}, time.Second)
	_, err = d.DialContext(context.Background(), "example.com", 80)
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("DialContext() error = %v, want ErrHandshakeFailed", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %q, want mention of connection refused", err)
	}
}

func TestHTTPConnect_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	reqCh := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reqCh <- readHTTPRequest(conn)

		// Send tunneled bytes in the same segment as the response headers.
		// The handshake must leave them for the channel to read.
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\nserver-first"))
		io.Copy(io.Discard, conn)
	}()

	d := NewDialer(&Config{Address: ln.Addr().String(), Type: TypeHTTP}, time.Second)
	conn, err := d.DialContext(context.Background(), "example.com", 9000)
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	req := <-reqCh
	if !strings.HasPrefix(req, "CONNECT example.com:9000 HTTP/1.1\r\n") {
		t.Errorf("request = %q, want CONNECT example.com:9000 first line", req)
	}
	if !strings.Contains(req, "Host: example.com:9000\r\n") {
		t.Errorf("request missing Host header: %q", req)
	}
	if strings.Contains(req, "Proxy-Authorization") {
		t.Errorf("request has Proxy-Authorization without credentials: %q", req)
	}

	buf := make([]byte, len("server-first"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf) != "server-first" {
		t.Errorf("tunneled bytes = %q, want %q", buf, "server-first")
	}
}

func TestHTTPConnect_WithAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	reqCh := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reqCh <- readHTTPRequest(conn)
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	d := NewDialer(&Config{
		Address:  ln.Addr().String(),
		Type:     TypeHTTP,
		Username: "alice",
		Password: "secret",
	}, time.Second)

	conn, err := d.DialContext(context.Background(), "example.com", 443)
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	want := "Proxy-Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret")) + "\r\n"
	if req := <-reqCh; !strings.Contains(req, want) {
		t.Errorf("request missing %q: %q", want, req)
	}
}

func TestHTTPConnect_Rejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readHTTPRequest(conn)
		conn.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	}()

	d := NewDialer(&Config{Address: ln.Addr().String(), Type: TypeHTTP}, time.Second)
	if _, err := d.DialContext(context.Background(), "example.com", 80); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("DialContext() error = %v, want ErrHandshakeFailed", err)
	}
}

// readGreeting consumes a SOCKS5 method-selection greeting.
func readGreeting(conn net.Conn) []byte {
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return nil
	}
	methods := make([]byte, int(head[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return nil
	}
	return append(head, methods...)
}

// readAuthRequest consumes an RFC 1929 subnegotiation request.
func readAuthRequest(conn net.Conn) (username, password string) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return "", ""
	}
	user := make([]byte, int(head[1]))
	if _, err := io.ReadFull(conn, user); err != nil {
		return "", ""
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(conn, plen); err != nil {
		return "", ""
	}
	pass := make([]byte, int(plen[0]))
	if _, err := io.ReadFull(conn, pass); err != nil {
		return "", ""
	}
	return string(user), string(pass)
}

// readConnectRequest consumes a SOCKS5 CONNECT request with a domain target.
func readConnectRequest(conn net.Conn) []byte {
	head := make([]byte, 5)
	if _, err := io.ReadFull(conn, head); err != nil {
		return nil
	}
	rest := make([]byte, int(head[4])+2)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return nil
	}
	return append(head, rest...)
}

// readHTTPRequest consumes request bytes until the header terminator.
func readHTTPRequest(conn net.Conn) string {
	var req []byte
	b := make([]byte, 1)
	for !bytes.HasSuffix(req, []byte("\r\n\r\n")) {
		if _, err := io.ReadFull(conn, b); err != nil {
			return string(req)
		}
		req = append(req, b[0])
	}
	return string(req)
}
