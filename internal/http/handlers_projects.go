package http

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"bizdash/internal/core"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p, err := s.svc.CreateProject(r.Context(), core.NewProjectInput{
		Name:      sanitizeInput(req.Name),
		Client:    sanitizeInput(req.Client),
		StartDate: req.StartDate,
		Duration:  req.Duration,
		TotalCost: req.TotalCost,
	})
	if err != nil {
		writeServiceError(w, r, "create_project", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).
		Header("Location", "/api/v1/projects/"+p.ID).
		Body(toProjectDTO(p)).
		Write(w)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req patchProjectRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		req.Name = &name
	}
	p, err := s.svc.UpdateProject(r.Context(), chi.URLParam(r, "id"), core.ProjectPatch{
		Name:      req.Name,
		StartDate: req.StartDate,
		Duration:  req.Duration,
		TotalCost: req.TotalCost,
	})
	if err != nil {
		writeServiceError(w, r, "update_project", err)
		return
	}
	NewJSONResponse().Body(toProjectDTO(p)).Write(w)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p, err := s.svc.UpdateProjectStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, r, "update_status", err)
		return
	}
	NewJSONResponse().Body(toProjectDTO(p)).Write(w)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "delete_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RestoreProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "restore_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurgeProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.PermanentlyDeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "purge_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinancials(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.ProjectFinancials(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "financials", err)
		return
	}
	NewJSONResponse().Body(f).Write(w)
}

// Expenses

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.CreateExpense(r.Context(), chi.URLParam(r, "id"), sanitizeInput(req.Category), req.Amount)
	if err != nil {
		writeServiceError(w, r, "create_expense", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toExpenseDTO(e)).Write(w)
}

// handleSetCategoryExpense upserts the project's expense for one category.
func (s *Server) handleSetCategoryExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.SetCategoryExpense(r.Context(), chi.URLParam(r, "id"), sanitizeInput(req.Category), req.Amount)
	if err != nil {
		writeServiceError(w, r, "set_category_expense", err)
		return
	}
	NewJSONResponse().Body(toExpenseDTO(e)).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.UpdateExpenseAmount(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeServiceError(w, r, "update_expense", err)
		return
	}
	NewJSONResponse().Body(toExpenseDTO(e)).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "delete_expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Comments and files

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, err := s.svc.AddComment(r.Context(), chi.URLParam(r, "id"), sanitizeInput(req.Text))
	if err != nil {
		writeServiceError(w, r, "add_comment", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toCommentDTO(c)).Write(w)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemorySize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, "file is too large").Write(w)
			return
		}
		BadRequestError("expected multipart form with a file field").Write(w)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequestError("missing file field").Write(w)
		return
	}
	defer file.Close()

	f, err := s.svc.AddFile(r.Context(), chi.URLParam(r, "id"),
		sanitizeFilename(header.Filename), header.Header.Get("Content-Type"), file)
	if err != nil {
		writeServiceError(w, r, "add_file", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toFileDTO(f)).Write(w)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveFile(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "remove_file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleServeFile streams a stored PDF inline.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	f, body, err := s.svc.OpenFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "open_file", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	if cd := mime.FormatMediaType("inline", map[string]string{"filename": f.Name}); cd != "" {
		w.Header().Set("Content-Disposition", cd)
	}
	slog.DebugContext(r.Context(), "Serving file", "file_id", f.ID, "project_id", f.ProjectID)
	http.ServeContent(w, r, f.Name, f.Timestamp, body)
}
