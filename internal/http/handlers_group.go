package http

import (
	"net/http"

	"saldo/internal/core"
)

type groupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Color       string  `json:"color"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request, userID string) {
	groups, err := s.store.ListGroups(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []core.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, userID string) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.store.CreateGroup(r.Context(), core.Group{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request, userID string) {
	var patch core.GroupPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.store.UpdateGroup(r.Context(), userID, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleDeleteGroup removes the group and detaches its expenses.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.store.DeleteGroup(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}
