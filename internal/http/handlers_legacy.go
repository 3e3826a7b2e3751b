package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bizdash/internal/core"
)

const invalidRequest = "Invalid request"

var errInvalidLegacy = errors.New("invalid legacy request")

// handleLegacyGet serves GET /api?action=get_all in the original row format.
func (s *Server) handleLegacyGet(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action != "" && action != "get_all" {
		BadRequestError(invalidRequest).Write(w)
		return
	}
	d, err := s.loadDashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, "get_all", err)
		return
	}
	NewJSONResponse().Body(toLegacySnapshot(d.Snapshot)).Write(w)
}

// handleLegacyPost dispatches the {action, data} envelope.
func (s *Server) handleLegacyPost(w http.ResponseWriter, r *http.Request) {
	var env legacyAction
	if err := decodeJSON(r, &env, false); err != nil {
		slog.DebugContext(r.Context(), "Legacy request body rejected", "error", err)
		BadRequestError(invalidRequest).Write(w)
		return
	}

	handlers := map[string]func(context.Context, legacyAction) error{
		"save_project": s.legacySaveProject,
		"save_client":  s.legacySaveClient,
		"save_expense": s.legacySaveExpense,
		"save_comment": s.legacySaveComment,
		"save_file":    s.legacySaveFile,
		"remove_file":  s.legacyRemoveFile,
	}
	handle, ok := handlers[env.Action]
	if !ok {
		BadRequestError(invalidRequest).Write(w)
		return
	}
	err := handle(r.Context(), env)
	switch {
	case errors.Is(err, errInvalidLegacy):
		BadRequestError(invalidRequest).Write(w)
	case err != nil:
		writeServiceError(w, r, env.Action, err)
	default:
		Success().Write(w)
	}
}

// legacyData decodes env.Data and requires a non-empty id.
func legacyData[T any](env legacyAction, id func(T) string) (T, error) {
	var v T
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &v) != nil {
		return v, errInvalidLegacy
	}
	if strings.TrimSpace(id(v)) == "" {
		return v, errInvalidLegacy
	}
	return v, nil
}

func (s *Server) legacySaveProject(ctx context.Context, env legacyAction) error {
	d, err := legacyData(env, func(d legacyProjectData) string { return d.ID })
	if err != nil {
		return err
	}
	p := d.project()
	p.Name = sanitizeInput(p.Name)
	p.Client = sanitizeInput(p.Client)
	return s.svc.SaveProject(ctx, p)
}

func (s *Server) legacySaveClient(ctx context.Context, env legacyAction) error {
	d, err := legacyData(env, func(d legacyClientData) string { return d.ID })
	if err != nil {
		return err
	}
	return s.svc.SaveClient(ctx, core.Client{
		ID:            d.ID,
		Name:          sanitizeInput(d.Name),
		ProjectsCount: d.ProjectsCount,
		TotalRevenue:  d.TotalRevenue,
	})
}

func (s *Server) legacySaveExpense(ctx context.Context, env legacyAction) error {
	d, err := legacyData(env, func(d legacyExpenseData) string { return d.ID })
	if err != nil {
		return err
	}
	return s.svc.SaveExpense(ctx, core.Expense{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Category:  sanitizeInput(d.Category),
		Amount:    d.Amount,
	})
}

func (s *Server) legacySaveComment(ctx context.Context, env legacyAction) error {
	d, err := legacyData(env, func(d legacyCommentData) string { return d.ID })
	if err != nil {
		return err
	}
	return s.svc.SaveComment(ctx, core.Comment{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Text:      sanitizeInput(d.Text),
		Timestamp: d.Timestamp,
	})
}

func (s *Server) legacySaveFile(ctx context.Context, env legacyAction) error {
	d, err := legacyData(env, func(d legacyFileData) string { return d.ID })
	if err != nil {
		return err
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		return errInvalidLegacy
	}
	return s.svc.SaveFile(ctx, core.ProjectFile{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Name:      sanitizeFilename(d.Name),
		Size:      d.Size,
		Timestamp: d.Timestamp,
		URL:       d.URL,
	})
}

func (s *Server) legacyRemoveFile(ctx context.Context, env legacyAction) error {
	if strings.TrimSpace(env.FileID) == "" {
		return errInvalidLegacy
	}
	return s.svc.ClearFile(ctx, env.FileID)
}
