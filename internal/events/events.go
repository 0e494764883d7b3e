// Package events carries the "batch imported" signal from a finished review
// session to whatever refreshes the dashboard.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// BatchImported is emitted once when a review session reaches Complete.
type BatchImported struct {
	UserID      string    `json:"user_id"`
	BatchID     string    `json:"batch_id"`
	Total       int       `json:"total"`
	Saved       int       `json:"saved"`
	Skipped     int       `json:"skipped"`
	ExpenseIDs  []string  `json:"expense_ids"`
	CompletedAt time.Time `json:"completed_at"`
}

// ToJSON converts the event to JSON bytes
func (e BatchImported) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// BatchImportedFromJSON decodes an event
func BatchImportedFromJSON(data []byte) (BatchImported, error) {
	var e BatchImported
	if err := json.Unmarshal(data, &e); err != nil {
		return BatchImported{}, err
	}
	return e, nil
}

type Notifier interface {
	Notify(ctx context.Context, e BatchImported) error
}

type NotifierFunc func(ctx context.Context, e BatchImported) error

func (f NotifierFunc) Notify(ctx context.Context, e BatchImported) error {
	return f(ctx, e)
}

// Nop discards events.
var Nop Notifier = NotifierFunc(func(context.Context, BatchImported) error { return nil })

// Multi delivers to every notifier, even after one fails, and joins the errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e BatchImported) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
