package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.svc.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, r, "list_clients", err)
		return
	}
	NewJSONResponse().Body(mapSlice(clients, toClientDTO)).Write(w)
}

func (s *Server) handleRenameClient(w http.ResponseWriter, r *http.Request) {
	var req renameClientRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, err := s.svc.RenameClient(r.Context(), chi.URLParam(r, "id"), sanitizeInput(req.Name))
	if err != nil {
		writeServiceError(w, r, "rename_client", err)
		return
	}
	NewJSONResponse().Body(toClientDTO(c)).Write(w)
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteClient(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "delete_client", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconcileClients recomputes client aggregates from the projects.
func (s *Server) handleReconcileClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.svc.ReconcileClients(r.Context())
	if err != nil {
		writeServiceError(w, r, "reconcile_clients", err)
		return
	}
	NewJSONResponse().Body(mapSlice(clients, toClientDTO)).Write(w)
}
