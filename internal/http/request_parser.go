package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxJSONBody = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads one JSON document of at most maxJSONBody bytes into v.
// Unknown fields are rejected when strict is set.
func decodeJSON(r *http.Request, v any, strict bool) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected data after JSON document")
	}
	return nil
}

// sanitizeInput trims and removes control characters except tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// sanitizeFilename keeps the base name of an uploaded file.
func sanitizeFilename(name string) string {
	name = sanitizeInput(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "document.pdf"
	}
	return name
}
