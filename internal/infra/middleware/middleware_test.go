package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	Headers(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/errors", nil))

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("Header %s = %q, want %q", header, got, want)
		}
	}
}

func TestHeadersCanBeOverridden(t *testing.T) {
	h := Headers(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Referrer-Policy", "origin")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if got := w.Header().Get("Referrer-Policy"); got != "origin" {
		t.Errorf("Referrer-Policy = %q, want handler value", got)
	}
}

func TestLimiterAllowsBurst(t *testing.T) {
	handler := NewLimiter(1, 5).Wrap(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/reset", nil)
		req.RemoteAddr = "127.0.0.1:50000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest("POST", "/reset", nil)
	req.RemoteAddr = "127.0.0.1:50001"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("got status %d after burst, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestLimiterPerClient(t *testing.T) {
	l := NewLimiter(0.001, 1)
	if !l.Allow("127.0.0.1") {
		t.Fatal("first request from 127.0.0.1 should pass")
	}
	if l.Allow("127.0.0.1") {
		t.Error("second request from 127.0.0.1 should be limited")
	}
	if !l.Allow("::1") {
		t.Error("a different client has its own bucket")
	}
	if got := l.Clients(); got != 2 {
		t.Errorf("Clients() = %d, want 2", got)
	}
}

func TestLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	now = now.Add(staleAfter + 2*time.Minute)
	l.Allow("10.0.0.3")

	if got := l.Clients(); got != 1 {
		t.Errorf("Clients() = %d after idle period, want 1", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"127.0.0.1:5173", "127.0.0.1"},
		{"[::1]:5173", "::1"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
