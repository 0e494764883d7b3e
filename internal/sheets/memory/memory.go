// Package memory is an in-process exporter used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"saldo/internal/core"
	"saldo/internal/sheets"
)

var _ sheets.ExpenseExporter = (*Exporter)(nil)

type Exporter struct {
	mu   sync.Mutex
	rows [][]any
	// FailNext makes the next n appends fail.
	FailNext int
}

func New() *Exporter {
	return &Exporter{}
}

// AppendExpense records the row and returns a synthetic reference.
func (x *Exporter) AppendExpense(_ context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.FailNext > 0 {
		x.FailNext--
		return "", fmt.Errorf("append %s: exporter unavailable", e.ID)
	}
	x.rows = append(x.rows, sheets.Row(e))
	return fmt.Sprintf("mem!A%d:H%d", len(x.rows), len(x.rows)), nil
}

// Rows returns a copy of every appended row.
func (x *Exporter) Rows() [][]any {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([][]any, len(x.rows))
	copy(out, x.rows)
	return out
}
