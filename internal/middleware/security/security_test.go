package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestHeaders(t *testing.T) {
	h := Headers(DefaultHeadersConfig())(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "object-src 'none'") {
		t.Errorf("CSP = %q", w.Header().Get("Content-Security-Policy"))
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS("*", 86400)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api", nil))
	if w.Code != http.StatusOK || called {
		t.Fatalf("preflight code=%d called=%v", w.Code, called)
	}
	if w.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Errorf("Max-Age = %q", w.Header().Get("Access-Control-Max-Age"))
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("origin header missing")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	if !called {
		t.Error("non-preflight requests reach the handler")
	}
}

func TestDetectorInspect(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   string
	}{
		{"clean", http.MethodGet, "/api/v1/dashboard", "Mozilla/5.0", ""},
		{"traversal", http.MethodGet, "/files/../etc", "", "pattern ../"},
		{"dotenv in query", http.MethodGet, "/?f=.env", "", "pattern .env"},
		{"scanner", http.MethodGet, "/", "sqlmap/1.7", "agent sqlmap"},
		{"curl is fine", http.MethodGet, "/healthz", "curl/8.0", ""},
		{"trace", "TRACE", "/", "", "method TRACE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.URL.Path, r.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			r.Header.Set("User-Agent", tt.agent)
			if got := d.Inspect(r); got != tt.want {
				t.Errorf("Inspect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectorMiddleware(t *testing.T) {
	d := NewDetector()
	h := d.Middleware(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.URL.Path = "/a/../b"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("TRACE", "/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("TRACE = %d, want 405", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "nikto")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("scanner agents are logged, not blocked; got %d", w.Code)
	}
	if d.Suspicious() != 3 {
		t.Errorf("Suspicious() = %d, want 3", d.Suspicious())
	}
}

func TestClientIP(t *testing.T) {
	d := NewDetector()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")
	if got := d.ClientIP(r); got != "203.0.113.9" {
		t.Errorf("trusted proxy: got %q", got)
	}

	r.RemoteAddr = "198.51.100.1:999"
	if got := d.ClientIP(r); got != "198.51.100.1" {
		t.Errorf("untrusted peer must not be overridden, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:1"
	r.Header.Set("X-Real-IP", "192.0.2.7")
	if got := d.ClientIP(r); got != "192.0.2.7" {
		t.Errorf("X-Real-IP: got %q", got)
	}

	if err := d.AddTrustedProxy("nonsense"); err == nil {
		t.Error("expected CIDR error")
	}
}
