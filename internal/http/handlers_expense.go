package http

import (
	"net/http"

	"saldo/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request, userID string) {
	page, err := s.store.ListExpenses(r.Context(), userID, parsePage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request, userID string) {
	e, err := s.store.GetExpense(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request, userID string) {
	var patch core.ExpensePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.store.UpdateExpense(r.Context(), userID, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.store.DeleteExpense(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	noContent(w)
}

// handleDeleteAllExpenses removes every expense of the caller, imported or not.
func (s *Server) handleDeleteAllExpenses(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := s.store.DeleteAllExpenses(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
