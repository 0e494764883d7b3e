package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"saldo/internal/core"
)

// amountField accepts an amount as a JSON string ("1,250.00") or number.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = amountField(n.String())
	return nil
}

type incomeRequest struct {
	Description string      `json:"description"`
	Amount      amountField `json:"amount"`
	Currency    string      `json:"currency"`
	Date        string      `json:"date"`
	Category    *string     `json:"category"`
	Source      *string     `json:"source"`
}

func (req incomeRequest) income(userID string) (core.Income, error) {
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return core.Income{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Income{}, err
	}
	return core.Income{
		UserID:      userID,
		Description: req.Description,
		Amount:      amount,
		Currency:    core.NormalizeCurrency(req.Currency),
		Date:        date,
		Category:    req.Category,
		Source:      req.Source,
	}, nil
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request, userID string) {
	page, err := s.store.ListIncomes(r.Context(), userID, parsePage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request, userID string) {
	var req incomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.income(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.store.CreateIncome(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request, userID string) {
	var patch core.IncomePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := s.store.UpdateIncome(r.Context(), userID, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.store.DeleteIncome(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)
	noContent(w)
}
