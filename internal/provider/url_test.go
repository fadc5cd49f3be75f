package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
)

func TestDeriveRelayURL(t *testing.T) {
	tokenHash := func(token string) string {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}

	tests := []struct {
		name       string
		base       string
		token      string
		wantScheme string
		wantHost   string
		wantPath   string
	}{
		{"http becomes ws", "http://relay.example.com", "tok", "ws", "relay.example.com", "/socket"},
		{"https becomes wss", "https://relay.example.com", "tok", "wss", "relay.example.com", "/socket"},
		{"ws kept", "ws://relay.example.com", "tok", "ws", "relay.example.com", "/socket"},
		{"wss kept", "wss://relay.example.com", "tok", "wss", "relay.example.com", "/socket"},
		{"port kept", "https://relay.example.com:8443", "tok", "wss", "relay.example.com:8443", "/socket"},
		{"root path replaced", "https://relay.example.com/", "tok", "wss", "relay.example.com", "/socket"},
		{"custom path kept", "https://relay.example.com/gateway", "tok", "wss", "relay.example.com", "/gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := deriveRelayURL(tt.base, tt.token)
			if err != nil {
				t.Fatalf("deriveRelayURL(%q) error: %v", tt.base, err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("derived URL %q does not parse: %v", got, err)
			}
			if u.Scheme != tt.wantScheme {
				t.Errorf("scheme = %q, want %q", u.Scheme, tt.wantScheme)
			}
			if u.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", u.Host, tt.wantHost)
			}
			if u.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", u.Path, tt.wantPath)
			}
			q := u.Query()
			if q.Get("token") != tokenHash(tt.token) {
				t.Errorf("token query = %q, want sha256 of raw token", q.Get("token"))
			}
			if q.Get("reverse") != "true" {
				t.Errorf("reverse query = %q, want %q", q.Get("reverse"), "true")
			}
		})
	}
}

func TestDeriveRelayURL_RawTokenNeverAppears(t *testing.T) {
	const token = "super-secret-value"
	got, err := deriveRelayURL("https://relay.example.com", token)
	if err != nil {
		t.Fatalf("deriveRelayURL error: %v", err)
	}
	if strings.Contains(got, token) {
		t.Fatalf("derived URL %q leaks the raw token", got)
	}
}

func TestDeriveRelayURL_Errors(t *testing.T) {
	tests := []struct {
		name string
		base string
	}{
		{"unsupported scheme", "ftp://relay.example.com"},
		{"no scheme", "relay.example.com"},
		{"empty host", "https://"},
		{"garbage", "://nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := deriveRelayURL(tt.base, "tok"); err == nil {
				t.Fatalf("deriveRelayURL(%q) = nil error, want failure", tt.base)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateAuthenticating, "AUTHENTICATING"},
		{StateReady, "READY"},
		{StateClosing, "CLOSING"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
