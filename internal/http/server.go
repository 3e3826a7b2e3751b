package http

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"bizdash/internal/cache"
	"bizdash/internal/config"
	"bizdash/internal/core"
	applog "bizdash/internal/log"
	"bizdash/internal/middleware/ratelimit"
	"bizdash/internal/middleware/security"
	"bizdash/internal/middleware/trace"
	"bizdash/internal/services"
	appweb "bizdash/web"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	dashboardKey        = "dashboard"
	dashboardTTL        = time.Minute
	cacheSweepInterval  = 10 * time.Minute
	preflightMaxAge     = 86400
	staticMaxAge        = 3600
	defaultUploadLimit  = 20 << 20
	multipartMemorySize = 8 << 20
)

type Options struct {
	Addr               string
	CORSOrigin         string
	RateLimitPerMinute int
	MaxUploadBytes     int64
	Logger             *applog.Logger
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:               ":" + cfg.Port,
		CORSOrigin:         cfg.CORSAllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes(),
	}
}

type Server struct {
	http.Server
	svc       *services.ProjectService
	templates *template.Template
	maxUpload int64

	dashboard *cache.LRUCache[services.Dashboard]
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, svc *services.ProjectService) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Default(applog.ComponentHTTP)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultUploadLimit
	}

	limitCfg := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		limitCfg.RequestsPerMinute = opts.RateLimitPerMinute
	}

	s := &Server{
		svc:       svc,
		maxUpload: opts.MaxUploadBytes,
		dashboard: cache.NewLRUCache[services.Dashboard]("dashboard", 4, dashboardTTL),
		caches:    cache.NewManager(),
		limiter:   ratelimit.NewLimiter(limitCfg),
		detector:  security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ClientIP, logger)

	s.caches.Register(s.dashboard)
	s.caches.StartCleanup(context.Background(), cacheSweepInterval)
	svc.OnChange(s.dashboard.Purge)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	} else {
		s.templates = t
	}

	s.Handler = s.routes(logger, opts.CORSOrigin)
	s.Addr = opts.Addr
	s.ReadHeaderTimeout = 10 * time.Second
	return s
}

func (s *Server) routes(logger *applog.Logger, corsOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(applog.Middleware(logger, trace.RequestIDFromRequest))
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Middleware)
	r.Use(security.CORS(corsOrigin, preflightMaxAge))
	r.Use(s.limiter.Middleware(s.detector.ClientIP, rateLimited,
		http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete))

	r.Get("/", s.handleIndex)
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/files/{id}", s.handleServeFile)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssets(staticMaxAge)).Handle("/static/*", static)
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	r.Get("/api", s.handleLegacyGet)
	r.Post("/api", s.handleLegacyPost)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/stats", s.handleStats)
		r.Get("/statuses", handleStatuses)
		r.Get("/expense-categories", handleExpenseCategories)

		r.Post("/projects", s.handleCreateProject)
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Patch("/", s.handleUpdateProject)
			r.Delete("/", s.handleDeleteProject)
			r.Put("/status", s.handleUpdateStatus)
			r.Post("/restore", s.handleRestoreProject)
			r.Delete("/permanent", s.handlePurgeProject)
			r.Get("/financials", s.handleFinancials)
			r.Post("/expenses", s.handleCreateExpense)
			r.Put("/expenses", s.handleSetCategoryExpense)
			r.Post("/comments", s.handleAddComment)
			r.Post("/files", s.handleUploadFile)
		})

		r.Patch("/expenses/{id}", s.handleUpdateExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)
		r.Delete("/files/{id}", s.handleRemoveFile)

		r.Get("/clients", s.handleListClients)
		r.Post("/clients/reconcile", s.handleReconcileClients)
		r.Patch("/clients/{id}", s.handleRenameClient)
		r.Delete("/clients/{id}", s.handleDeleteClient)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	return r
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	slog.WarnContext(r.Context(), "Rate limit exceeded", "method", r.Method, "path", r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
}

// loadDashboard serves the snapshot from cache; every write purges it.
func (s *Server) loadDashboard(ctx context.Context) (services.Dashboard, error) {
	return s.dashboard.GetOrLoad(dashboardKey, func() (services.Dashboard, error) {
		return s.svc.Load(ctx)
	})
}

// Shutdown stops background sweepers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var problems []string
	if err := s.svc.Ping(ctx); err != nil {
		slog.WarnContext(r.Context(), "Readiness check failed", "check", "database", "error", err)
		problems = append(problems, "database")
	}
	if s.templates == nil {
		problems = append(problems, "templates")
	}
	if len(problems) > 0 {
		http.Error(w, "not ready: "+strings.Join(problems, ", "), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var templateFuncs = template.FuncMap{
	"rubles": core.FormatRubles,
	"date": func(d core.Date) string {
		if d.IsZero() {
			return "-"
		}
		return d.Format("02.01.2006")
	},
}
