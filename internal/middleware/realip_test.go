package middleware

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		cfIP       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"cloudflare header wins", "203.0.113.9", "198.51.100.1", "10.0.0.1:1234", "203.0.113.9"},
		{"first forwarded hop", "", "198.51.100.1, 10.0.0.2", "10.0.0.1:1234", "198.51.100.1"},
		{"forwarded hop trimmed", "", "  198.51.100.1 ,10.0.0.2", "10.0.0.1:1234", "198.51.100.1"},
		{"remote addr fallback", "", "", "192.0.2.4:5678", "192.0.2.4"},
		{"remote addr without port", "", "", "192.0.2.4", "192.0.2.4"},
		{"empty remote addr", "", "", "", "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.cfIP != "" {
				r.Header.Set("CF-Connecting-IP", tt.cfIP)
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"192.168.0.5", true},
		{"172.20.1.1", true},
		{"", true},
		{"203.0.113.9", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := IsPrivateIP(tt.ip); got != tt.want {
			t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
