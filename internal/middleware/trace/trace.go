package trace

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	applog "bizdash/internal/log"
	"bizdash/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"

	maxIncomingIDLength = 64
)

// Middleware assigns request ids and records every finished request in the
// log and in the HTTP metrics.
type Middleware struct {
	extractIP func(*http.Request) string
	events    *applog.StructuredLogger
	metrics   *metrics.Metrics

	total    int64
	inFlight int64
}

func NewMiddleware(extractIP func(*http.Request) string, logger *applog.Logger) *Middleware {
	if logger == nil {
		logger = applog.Default(applog.ComponentHTTP)
	}
	return &Middleware{
		extractIP: extractIP,
		events:    applog.NewStructuredLogger(logger),
		metrics:   metrics.Get(),
	}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&m.total, 1)
		atomic.AddInt64(&m.inFlight, 1)
		defer atomic.AddInt64(&m.inFlight, -1)

		id := incomingRequestID(r)
		if id == "" {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), RequestIDKey, id))

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := routePattern(r)

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}
		m.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		m.events.LogHTTPEnd(r.Context(), r, route, status, elapsed.Milliseconds(), clientIP)
	})
}

// routePattern is read after the router ran, so it reflects the matched route.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func incomingRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxIncomingIDLength {
		return ""
	}
	for _, c := range id {
		if !(c == '-' || c == '_' || c == '.' ||
			(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return ""
		}
	}
	return id
}

func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDFromRequest is shaped for log.Middleware.
func RequestIDFromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}

type Counters struct {
	Total    int64
	InFlight int64
}

func (m *Middleware) Counters() Counters {
	return Counters{
		Total:    atomic.LoadInt64(&m.total),
		InFlight: atomic.LoadInt64(&m.inFlight),
	}
}
