package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bizdash/internal/core"
)

// JSONResponse is a small builder for JSON replies.
type JSONResponse struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewJSONResponse() *JSONResponse {
	return &JSONResponse{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponse) Status(code int) *JSONResponse {
	b.statusCode = code
	return b
}

func (b *JSONResponse) Header(name, value string) *JSONResponse {
	b.headers[name] = value
	return b
}

func (b *JSONResponse) Body(v any) *JSONResponse {
	b.body = v
	return b
}

func (b *JSONResponse) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse builds {"error": message} with the given status.
func ErrorResponse(statusCode int, message string) *JSONResponse {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponse {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *JSONResponse {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError() *JSONResponse {
	return ErrorResponse(http.StatusInternalServerError, "internal error")
}

func Success() *JSONResponse {
	return NewJSONResponse().Body(map[string]bool{"success": true})
}

var validationErrors = []error{
	core.ErrInvalidDate,
	core.ErrInvalidAmount,
	core.ErrEmptyName,
	core.ErrEmptyClient,
	core.ErrInvalidDuration,
	core.ErrInvalidStatus,
	core.ErrEmptyCategory,
	core.ErrEmptyComment,
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrClientHasProjects), errors.Is(err, core.ErrProjectNotRemoved):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotPDF):
		return http.StatusUnsupportedMediaType
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError replies with the mapped status. Internal errors are
// logged and their text is not exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "operation", op, "error", err)
		InternalServerError().Write(w)
		return
	}
	slog.DebugContext(r.Context(), "Request rejected", "operation", op, "status", status, "error", err)
	ErrorResponse(status, err.Error()).Write(w)
}
