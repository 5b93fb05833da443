package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newIPRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGetClientIPDirect(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "plain remote addr",
			remoteAddr: "203.0.113.5:54321",
			want:       "203.0.113.5",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.5",
			want:       "203.0.113.5",
		},
		{
			name:       "forwarded header ignored when proxy untrusted",
			remoteAddr: "203.0.113.5:54321",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:       "203.0.113.5",
		},
		{
			name:       "real-ip header ignored when proxy untrusted",
			remoteAddr: "203.0.113.5:54321",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "203.0.113.5",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newIPRequest(tt.remoteAddr, tt.headers)
			if got := GetClientIP(r, false, 0); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetClientIPBehindProxy(t *testing.T) {
	tests := []struct {
		name              string
		trustedProxyCount int
		headers           map[string]string
		want              string
	}{
		{
			name:    "single hop forwarded",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:    "198.51.100.1",
		},
		{
			name:    "client plus one trusted proxy",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"},
			want:    "198.51.100.1",
		},
		{
			name:              "two trusted proxies skip spoofed prefix",
			trustedProxyCount: 2,
			headers:           map[string]string{"X-Forwarded-For": "6.6.6.6, 198.51.100.1, 10.0.0.1, 10.0.0.2"},
			want:              "198.51.100.1",
		},
		{
			name:              "chain shorter than trusted count falls back to leftmost",
			trustedProxyCount: 5,
			headers:           map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"},
			want:              "198.51.100.1",
		},
		{
			name:    "whitespace around entries",
			headers: map[string]string{"X-Forwarded-For": "  198.51.100.1  , 10.0.0.1"},
			want:    "198.51.100.1",
		},
		{
			name:    "malformed forwarded value falls back to real-ip",
			headers: map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "real-ip only",
			headers: map[string]string{"X-Real-IP": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "no proxy headers falls back to remote addr",
			headers: nil,
			want:    "192.0.2.9",
		},
		{
			name:    "malformed everything falls back to remote addr",
			headers: map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "also-garbage"},
			want:    "192.0.2.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newIPRequest("192.0.2.9:1234", tt.headers)
			if got := GetClientIP(r, true, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
