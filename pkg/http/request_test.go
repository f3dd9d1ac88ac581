package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	trusted := pkghttp.ParseTrustedProxies([]string{"10.0.0.0/8", "not-a-cidr", "fd00::/8"})

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		cfg        *pkghttp.IPConfig
		want       string
	}{
		{"direct connection ignores headers", "203.0.113.7:4242", "1.2.3.4", "5.6.7.8", trusted, "203.0.113.7"},
		{"trusted proxy uses first forwarded", "10.1.2.3:80", "198.51.100.9, 10.1.2.3", "", trusted, "198.51.100.9"},
		{"trusted proxy ignores junk left of the client", "10.1.2.3:80", "garbage, 198.51.100.10", "", trusted, "198.51.100.10"},
		{"client supplied hops are ignored", "10.1.2.3:80", "6.6.6.6, 7.7.7.7, 198.51.100.12", "", trusted, "198.51.100.12"},
		{"trusted hops are skipped from the right", "10.1.2.3:80", "6.6.6.6, 198.51.100.14, 10.0.0.9, 10.0.0.8", "", trusted, "198.51.100.14"},
		{"all hops trusted", "10.1.2.3:80", "10.0.0.5, 10.0.0.6", "", trusted, "10.0.0.5"},
		{"junk stops the walk", "10.1.2.3:80", "198.51.100.13, junk, 10.0.0.7", "", trusted, "10.0.0.7"},
		{"trusted proxy falls back to real ip", "10.1.2.3:80", "", "198.51.100.11", trusted, "198.51.100.11"},
		{"ipv6 trusted proxy", "[fd00::1]:443", "2001:db8::5", "", trusted, "2001:db8::5"},
		{"no config", "10.1.2.3:80", "198.51.100.9", "", nil, "10.1.2.3"},
		{"localhost spoof", "127.0.0.1:5000", "10.0.0.1", "", trusted, "127.0.0.1"},
		{"remote without port", "192.0.2.1", "", "", trusted, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			assert.Equal(t, tt.want, pkghttp.ClientIP(req, tt.cfg))
		})
	}
}

func TestParseTrustedProxies_SkipsInvalid(t *testing.T) {
	cfg := pkghttp.ParseTrustedProxies([]string{"bad", " 10.0.0.0/8 "})
	assert.Len(t, cfg.TrustedProxies, 1)
}
