package http

import (
	"bytes"
	"log/slog"
	"net/http"

	"bizdash/internal/core"
	"bizdash/internal/services"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.loadDashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, "dashboard", err)
		return
	}
	NewJSONResponse().Body(toDashboardDTO(d)).Write(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	d, err := s.loadDashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, "stats", err)
		return
	}
	NewJSONResponse().Body(d.Stats).Write(w)
}

func handleStatuses(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(core.Statuses()).Write(w)
}

func handleExpenseCategories(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(core.ExpenseCategories).Write(w)
}

type projectCard struct {
	Project    core.Project
	Financials core.ProjectFinancials
	Color      string
}

type overviewPage struct {
	Stats        core.DashboardStats
	Projects     []projectCard
	RemovedCount int
	ClientsCount int
}

func buildOverview(d services.Dashboard) overviewPage {
	page := overviewPage{
		Stats:        d.Stats,
		RemovedCount: len(d.RemovedProjects),
		ClientsCount: len(d.Clients),
	}
	for _, p := range d.Projects {
		page.Projects = append(page.Projects, projectCard{
			Project:    p,
			Financials: core.ComputeFinancials(p, d.Expenses),
			Color:      p.Status.Color(),
		})
	}
	return page
}

// handleIndex renders the overview page. Rendering goes through a buffer so
// a template error never leaves a half-written page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "path", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	d, err := s.loadDashboard(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load dashboard", "error", err)
		http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "dashboard.html", buildOverview(d)); err != nil {
		slog.ErrorContext(r.Context(), "Dashboard template execution failed", "error", err, "template", "dashboard.html")
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
