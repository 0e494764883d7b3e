// This file holds request decoding helpers and the mapping from domain
// errors to HTTP statuses.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"saldo/internal/core"
	"saldo/internal/importer"
	applog "saldo/internal/log"
	"saldo/internal/provider"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// decodeJSON reads a single JSON object into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}

// parsePage reads ?page and ?size. Invalid values fall back to defaults.
func parsePage(r *http.Request) core.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(strings.TrimSpace(q.Get("page")))
	size, _ := strconv.Atoi(strings.TrimSpace(q.Get("size")))
	return core.PageRequest{Page: page, Size: size}.Normalize()
}

// parseOptionalDate parses a YYYY-MM-DD string. Empty means absent.
func parseOptionalDate(s string) (*core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// statusFor maps an error to an HTTP status and a stable code. Order matters:
// a persistence failure caused by a duplicate is a conflict.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrDuplicateExternalID):
		return http.StatusConflict, "duplicate_external_id"
	case errors.Is(err, importer.ErrReviewInProgress):
		return http.StatusConflict, "review_in_progress"
	case errors.Is(err, importer.ErrAlreadyImported):
		return http.StatusConflict, "already_imported"
	case errors.Is(err, importer.ErrNotReviewing):
		return http.StatusConflict, "not_reviewing"
	case errors.Is(err, importer.ErrStaleIndex):
		return http.StatusConflict, "stale_index"
	case errors.Is(err, importer.ErrNoBatch):
		return http.StatusConflict, "no_batch"
	case errors.Is(err, importer.ErrMissingCredentials):
		return http.StatusPreconditionRequired, "missing_credentials"
	case errors.Is(err, provider.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "provider_auth_failed"
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, importer.ErrEmptySelection),
		errors.Is(err, importer.ErrUnknownCandidate),
		errors.Is(err, importer.ErrMalformedRecord),
		errors.Is(err, importer.ErrEmptyToken),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidCurrency),
		errors.Is(err, core.ErrInvalidExpenseType),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrEmptyGroupName):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, importer.ErrPersistenceFailed):
		return http.StatusInternalServerError, "persistence_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError maps err to a response. Server-side failures are logged and
// their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	logger := applog.FromContext(r.Context())
	if status >= 500 {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.NewFields().
				WithError(err).
				WithUser(userIDFrom(r)).
				ToSlice()...)
		if status == http.StatusInternalServerError {
			msg = "internal error"
			if code == "persistence_failed" {
				msg = importer.ErrPersistenceFailed.Error()
			}
		}
	} else {
		logger.DebugContext(r.Context(), "Request rejected", "error", err, "code", code)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
