package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/provider"
)

// maxListedIgnored caps how many ignored records are itemized in a batch.
// All of them are still counted.
const maxListedIgnored = 50

var (
	ErrMalformedRecord = errors.New("malformed provider record")
	ErrIgnoredRecord   = errors.New("provider record ignored")
)

// RecordError explains why a provider record did not become a candidate.
// It unwraps to ErrMalformedRecord or ErrIgnoredRecord.
type RecordError struct {
	Record provider.Record
	Reason string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q: %s", e.Record.ID, e.Reason)
}

func (e *RecordError) Unwrap() error { return e.Err }

func malformed(rec provider.Record, format string, args ...any) error {
	return &RecordError{Record: rec, Reason: fmt.Sprintf(format, args...), Err: ErrMalformedRecord}
}

func ignored(rec provider.Record, reason string) error {
	return &RecordError{Record: rec, Reason: reason, Err: ErrIgnoredRecord}
}

// Rejected is a record left out of the batch, with the reason.
type Rejected struct {
	ExternalID  string `json:"external_id"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Reason      string `json:"reason"`
}

// Projection is the result of projecting a whole fetch.
type Projection struct {
	Candidates   []core.ImportCandidate
	Dropped      []Rejected // malformed
	Ignored      []Rejected // at most maxListedIgnored entries
	IgnoredCount int
}

// Project turns one provider record into a candidate from the importing
// user's point of view.
//
// With net = paid - owed:
//
//	net > 0   lent      owed share = paid when owed is zero, else cost - owed
//	net < 0   borrowed  owed share = -net (what the user owes)
//	net == 0  personal  owed share = paid
func Project(rec provider.Record) (core.ImportCandidate, error) {
	if rec.Deleted {
		return core.ImportCandidate{}, ignored(rec, "deleted on provider")
	}
	if rec.Payment || strings.EqualFold(strings.TrimSpace(rec.Description), "payment") {
		return core.ImportCandidate{}, ignored(rec, "payment between users")
	}

	cost, err := core.ParseAmount(rec.Cost)
	if err != nil {
		return core.ImportCandidate{}, malformed(rec, "amount: %v", err)
	}
	if cost.IsNegative() {
		return core.ImportCandidate{}, malformed(rec, "amount: negative cost %s", cost)
	}
	date, err := core.ParseDate(rec.Date)
	if err != nil {
		return core.ImportCandidate{}, malformed(rec, "date: %v", err)
	}

	if !rec.Participant {
		return core.ImportCandidate{}, ignored(rec, "user not involved in expense")
	}
	paid, err := parseShare(rec.PaidShare)
	if err != nil {
		return core.ImportCandidate{}, malformed(rec, "paid share: %v", err)
	}
	owed, err := parseShare(rec.OwedShare)
	if err != nil {
		return core.ImportCandidate{}, malformed(rec, "owed share: %v", err)
	}
	if paid.IsZero() && owed.IsZero() {
		return core.ImportCandidate{}, ignored(rec, "no share in expense")
	}

	var (
		typ   core.ExpenseType
		share decimal.Decimal
	)
	net := paid.Sub(owed)
	switch {
	case net.IsPositive():
		typ, share = core.Lent, cost.Sub(owed)
		if owed.IsZero() {
			share = paid
		}
	case net.IsNegative():
		typ, share = core.Borrowed, net.Abs()
	default:
		typ, share = core.Personal, paid
	}

	cand := core.ImportCandidate{
		ExternalID:   strings.TrimSpace(rec.ID),
		Description:  strings.TrimSpace(rec.Description),
		Date:         date,
		Currency:     core.NormalizeCurrency(rec.Currency),
		ExpenseType:  typ,
		TotalExpense: decimal.NewNullDecimal(cost),
		OwedShare:    decimal.NewNullDecimal(share),
		Amount:       cost,
	}
	if c := strings.TrimSpace(rec.Category); c != "" {
		cand.Category = &c
	}
	return cand, nil
}

// parseShare treats a missing share as zero.
func parseShare(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return core.ParseAmount(s)
}

// ProjectBatch projects every record, keeping the order of the valid ones
// and reporting what was dropped or ignored.
func ProjectBatch(records []provider.Record) Projection {
	p := Projection{Candidates: make([]core.ImportCandidate, 0, len(records))}
	for _, rec := range records {
		cand, err := Project(rec)
		if err == nil {
			p.Candidates = append(p.Candidates, cand)
			continue
		}

		rej := Rejected{ExternalID: rec.ID, Description: rec.Description, Date: rec.Date, Reason: err.Error()}
		var recErr *RecordError
		if errors.As(err, &recErr) {
			rej.Reason = recErr.Reason
		}
		if errors.Is(err, ErrIgnoredRecord) {
			p.IgnoredCount++
			if len(p.Ignored) < maxListedIgnored {
				p.Ignored = append(p.Ignored, rej)
			}
			continue
		}
		p.Dropped = append(p.Dropped, rej)
	}
	return p
}
