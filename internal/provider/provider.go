// Package provider defines the boundary to the external ledger-sharing
// service expenses are imported from.
package provider

import (
	"context"
	"errors"
	"time"

	"saldo/internal/core"
)

var (
	ErrAuthenticationFailed = errors.New("provider authentication failed")
	ErrProviderUnavailable  = errors.New("provider unavailable")
)

// Credentials are passed explicitly on every call; clients keep no token state.
type Credentials struct {
	Token string
}

// DateWindow bounds a fetch by calendar day. Both ends are optional and inclusive.
type DateWindow struct {
	Start *core.Date
	End   *core.Date
}

// Contains reports whether d falls inside the window.
func (w DateWindow) Contains(d core.Date) bool {
	if w.Start != nil && d.Before(w.Start.Time) {
		return false
	}
	if w.End != nil && d.After(w.End.Time) {
		return false
	}
	return true
}

// Bounds returns the first and last instants covered by the window.
// The end runs through 23:59:59.999999 of the last day.
func (w DateWindow) Bounds() (start, end time.Time) {
	if w.Start != nil {
		start = w.Start.Time
	}
	if w.End != nil {
		end = w.End.Time.Add(24*time.Hour - time.Microsecond)
	}
	return start, end
}

// Record is one raw expense as reported by the provider, seen from the
// importing user's side. Amounts are kept as the provider's strings.
type Record struct {
	ID          string
	Description string
	Cost        string
	Currency    string
	Date        string
	Category    string
	PaidShare   string
	OwedShare   string
	Participant bool // the importing user appears on the record
	Payment     bool // settle-up between users, not an expense
	Deleted     bool
}

// Client fetches raw records. An empty result is not an error.
type Client interface {
	FetchExpenses(ctx context.Context, creds Credentials, window DateWindow) ([]Record, error)
}
