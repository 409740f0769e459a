package clientip

import (
	"net/http/httptest"
	"testing"
)

func TestRealClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.7:51234", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[::ffff:198.51.100.4]:80", "198.51.100.4"},
		{"198.51.100.9", "198.51.100.9"},
		{"not-an-ip", "not-an-ip"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		r.Header.Set("X-Forwarded-For", "10.0.0.1")
		if got := RealClientIP(r); got != tt.want {
			t.Errorf("RealClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
