package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bizdash/internal/core"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		strict  bool
		wantErr bool
	}{
		{"valid", `{"name":"a"}`, true, false},
		{"empty", ``, false, true},
		{"unknown field lenient", `{"name":"a","x":1}`, false, false},
		{"unknown field strict", `{"name":"a","x":1}`, true, true},
		{"trailing data", `{"name":"a"}{"name":"b"}`, false, true},
		{"malformed", `{"name":`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := decodeJSON(r, &p, tt.strict)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  hello  ":        "hello",
		"a\x00b\x07c":      "abc",
		"line\nbreak\ttab": "line\nbreak\ttab",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":           "report.pdf",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\scan.pdf`: "scan.pdf",
		"":                     "document.pdf",
		"dir/":                 "document.pdf",
		"..":                   "document.pdf",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("project p1: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrClientHasProjects, http.StatusConflict},
		{core.ErrProjectNotRemoved, http.StatusConflict},
		{core.ErrNotPDF, http.StatusUnsupportedMediaType},
		{core.ErrEmptyName, http.StatusUnprocessableEntity},
		{core.ErrInvalidStatus, http.StatusUnprocessableEntity},
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorResponseHidesInternalErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeServiceError(rr, r, "test", errors.New("secret dsn"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Errorf("internal error leaked: %s", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}
