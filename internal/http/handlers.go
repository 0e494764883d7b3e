package http

import (
	"fmt"
	"net/http"
	"time"

	"saldo/internal/core"
	"saldo/internal/importer"
	"saldo/internal/provider"
)

type credentialsRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request, userID string) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.importer.SaveCredentials(r.Context(), userID, req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}

type fetchRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type candidateView struct {
	Position int `json:"position"`
	core.ImportCandidate
}

type batchCounts struct {
	Candidates      int `json:"candidates"`
	New             int `json:"new"`
	AlreadyImported int `json:"already_imported"`
	Dropped         int `json:"dropped"`
	Ignored         int `json:"ignored"`
}

type batchResponse struct {
	ID         string              `json:"id"`
	FetchedAt  time.Time           `json:"fetched_at"`
	Candidates []candidateView     `json:"candidates"`
	Dropped    []importer.Rejected `json:"dropped"`
	Ignored    []importer.Rejected `json:"ignored"`
	Counts     batchCounts         `json:"counts"`
	Status     importer.Status     `json:"status"`
}

func newBatchResponse(b importer.Batch, st importer.Status) batchResponse {
	views := make([]candidateView, len(b.Candidates))
	for i, c := range b.Candidates {
		views[i] = candidateView{Position: i, ImportCandidate: c}
	}
	fresh := b.NewCount()
	dropped, ignored := b.Dropped, b.Ignored
	if dropped == nil {
		dropped = []importer.Rejected{}
	}
	if ignored == nil {
		ignored = []importer.Rejected{}
	}
	return batchResponse{
		ID:         b.ID,
		FetchedAt:  b.FetchedAt,
		Candidates: views,
		Dropped:    dropped,
		Ignored:    ignored,
		Counts: batchCounts{
			Candidates:      len(b.Candidates),
			New:             fresh,
			AlreadyImported: len(b.Candidates) - fresh,
			Dropped:         len(b.Dropped),
			Ignored:         b.IgnoredCount,
		},
		Status: st,
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, userID string) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var window provider.DateWindow
	var err error
	if window.Start, err = parseOptionalDate(req.StartDate); err != nil {
		writeError(w, r, fmt.Errorf("start_date: %w", err))
		return
	}
	if window.End, err = parseOptionalDate(req.EndDate); err != nil {
		writeError(w, r, fmt.Errorf("end_date: %w", err))
		return
	}
	if window.Start != nil && window.End != nil && window.End.Before(window.Start.Time) {
		writeError(w, r, fmt.Errorf("%w: end_date is before start_date", core.ErrInvalidDate))
		return
	}

	batch, err := s.importer.Fetch(r.Context(), userID, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch, s.importer.Status(userID)))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, userID string) {
	batch, err := s.importer.Batch(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch, s.importer.Status(userID)))
}

type startReviewRequest struct {
	Positions []int `json:"positions"`
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request, userID string) {
	var req startReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.importer.Start(r.Context(), userID, req.Positions); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReview(w, userID, NewResponse())
}

// reviewResponse is the state of the user's review, with the current item
// while one is under review.
type reviewResponse struct {
	Status  importer.Status `json:"status"`
	Current *importer.Item  `json:"current,omitempty"`
	Saved   *core.Expense   `json:"saved,omitempty"`
}

func (s *Server) reviewState(userID string) reviewResponse {
	resp := reviewResponse{Status: s.importer.Status(userID)}
	if item, err := s.importer.Current(userID); err == nil {
		resp.Current = &item
	}
	return resp
}

func (s *Server) writeReview(w http.ResponseWriter, userID string, b *ResponseBuilder) {
	b.JSON(s.reviewState(userID)).Write(w)
}

func (s *Server) handleReviewStatus(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.reviewState(userID))
}

func (s *Server) handleEditCurrent(w http.ResponseWriter, r *http.Request, userID string) {
	var patch importer.CandidatePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.importer.Edit(userID, patch); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReview(w, userID, NewResponse())
}

// advanceRequest names the index the client is acting on. Omitted means
// whatever item is current.
type advanceRequest struct {
	Index *int `json:"index"`
}

func (req advanceRequest) at() int {
	if req.Index == nil {
		return importer.CurrentIndex
	}
	return *req.Index
}

func (s *Server) handleSaveCurrent(w http.ResponseWriter, r *http.Request, userID string) {
	var req advanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.importer.Save(r.Context(), userID, req.at())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaries.Invalidate(userID)

	resp := s.reviewState(userID)
	resp.Status = res.Status
	resp.Saved = &res.Expense
	NewResponse().
		TriggerBatchImportedIfComplete(res.Status).
		JSON(resp).
		Write(w)
}

func (s *Server) handleSkipCurrent(w http.ResponseWriter, r *http.Request, userID string) {
	var req advanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.importer.Skip(r.Context(), userID, req.at())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := s.reviewState(userID)
	resp.Status = st
	NewResponse().
		TriggerBatchImportedIfComplete(st).
		JSON(resp).
		Write(w)
}

func (s *Server) handleCloseReview(w http.ResponseWriter, r *http.Request, userID string) {
	s.importer.Close(r.Context(), userID)
	noContent(w)
}
