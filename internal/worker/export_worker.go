// Package worker mirrors imported expenses to the spreadsheet when a batch
// import completes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"saldo/internal/core"
	"saldo/internal/events"
	applog "saldo/internal/log"
	"saldo/internal/metrics"
	"saldo/internal/sheets"
)

// ExpenseGetter is the slice of the store the worker reads from.
type ExpenseGetter interface {
	GetExpense(ctx context.Context, userID, id string) (core.Expense, error)
}

type ExportWorker struct {
	store    ExpenseGetter
	exporter sheets.ExpenseExporter
	logger   *slog.Logger
}

func NewExportWorker(store ExpenseGetter, exporter sheets.ExpenseExporter, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportWorker{
		store:    store,
		exporter: exporter,
		logger:   logger.With(applog.FieldComponent, applog.ComponentWorker),
	}
}

// HandleBatchImported appends every expense saved by the batch to the sheet.
//
// All expenses are loaded before anything is written, so a store failure can
// be retried without duplicating rows. Expenses deleted since the import are
// skipped. Once some rows are written, append failures are logged and the
// message is acknowledged; an error is returned only if nothing was written.
func (w *ExportWorker) HandleBatchImported(ctx context.Context, ev events.BatchImported) error {
	log := w.logger.With(applog.FieldUserID, ev.UserID, applog.FieldBatchID, ev.BatchID)
	log.InfoContext(ctx, "Processing batch imported message", "expenses", len(ev.ExpenseIDs))

	expenses := make([]core.Expense, 0, len(ev.ExpenseIDs))
	for _, id := range ev.ExpenseIDs {
		e, err := w.store.GetExpense(ctx, ev.UserID, id)
		if errors.Is(err, core.ErrNotFound) {
			metrics.Exports.WithLabelValues("skipped").Inc()
			log.WarnContext(ctx, "Expense no longer exists, skipping", applog.FieldExpenseID, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("get expense %s: %w", id, err)
		}
		expenses = append(expenses, e)
	}

	var (
		written int
		errs    []error
	)
	for _, e := range expenses {
		ref, err := w.exporter.AppendExpense(ctx, e)
		if err != nil {
			metrics.Exports.WithLabelValues("failed").Inc()
			log.ErrorContext(ctx, "Failed to export expense",
				applog.FieldExpenseID, e.ID,
				applog.FieldError, err)
			errs = append(errs, fmt.Errorf("export %s: %w", e.ID, err))
			continue
		}
		written++
		metrics.Exports.WithLabelValues("ok").Inc()
		log.DebugContext(ctx, "Expense exported",
			applog.FieldExpenseID, e.ID,
			applog.FieldExternalID, e.ExternalID,
			applog.FieldSheetsRef, ref)
	}

	log.InfoContext(ctx, "Batch export finished",
		"exported", written,
		"failed", len(errs),
		"skipped", len(ev.ExpenseIDs)-len(expenses))

	if written == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
