package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Borrowed ExpenseType = "borrowed"
	Lent     ExpenseType = "lent"
	Personal ExpenseType = "personal"
)

const (
	DateLayout        = "2006-01-02"
	DefaultCurrency   = "USD"
	DefaultGroupColor = "#10b981"

	maxDescriptionLen = 200
)

type (
	ExpenseType string

	Date struct {
		time.Time
	}

	// ImportCandidate is a provider record under review. It is never stored as is.
	ImportCandidate struct {
		ExternalID      string              `json:"external_id"`
		Description     string              `json:"description"`
		Date            Date                `json:"date"`
		Currency        string              `json:"currency"`
		ExpenseType     ExpenseType         `json:"expense_type"`
		TotalExpense    decimal.NullDecimal `json:"total_expense"`
		OwedShare       decimal.NullDecimal `json:"owed_share"`
		Amount          decimal.Decimal     `json:"amount"` // raw provider amount
		Category        *string             `json:"category"`
		GroupID         *string             `json:"group_id"`
		AlreadyImported bool                `json:"already_imported"`
	}

	Expense struct {
		ID           string              `json:"id"`
		UserID       string              `json:"-"`
		Description  string              `json:"description"`
		Amount       decimal.Decimal     `json:"amount"`
		Currency     string              `json:"currency"`
		Date         Date                `json:"date"`
		Category     *string             `json:"category"`
		GroupID      *string             `json:"group_id"`
		GroupName    *string             `json:"group_name"`
		ExpenseType  ExpenseType         `json:"expense_type,omitempty"`
		ExternalID   string              `json:"external_id,omitempty"`
		OwedShare    decimal.NullDecimal `json:"owed_share"`
		TotalExpense decimal.NullDecimal `json:"total_expense"`
		CreatedAt    time.Time           `json:"created_at"`
		UpdatedAt    time.Time           `json:"updated_at"`
	}

	// ExpensePatch holds optional updates. An empty Category or GroupID clears the field.
	ExpensePatch struct {
		Description *string          `json:"description"`
		Amount      *decimal.Decimal `json:"amount"`
		Currency    *string          `json:"currency"`
		Date        *Date            `json:"date"`
		Category    *string          `json:"category"`
		GroupID     *string          `json:"group_id"`
		ExpenseType *ExpenseType     `json:"expense_type"`
	}

	Group struct {
		ID           string    `json:"id"`
		UserID       string    `json:"-"`
		Name         string    `json:"name"`
		Description  *string   `json:"description"`
		Color        string    `json:"color"`
		ExpenseCount int       `json:"expense_count"`
		CreatedAt    time.Time `json:"created_at"`
	}

	GroupPatch struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Color       *string `json:"color"`
	}

	Income struct {
		ID          string          `json:"id"`
		UserID      string          `json:"-"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		Date        Date            `json:"date"`
		Category    *string         `json:"category"`
		Source      *string         `json:"source"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	IncomePatch struct {
		Description *string          `json:"description"`
		Amount      *decimal.Decimal `json:"amount"`
		Currency    *string          `json:"currency"`
		Date        *Date            `json:"date"`
		Category    *string          `json:"category"`
		Source      *string          `json:"source"`
	}
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateExternalID = errors.New("expense with this external id already exists")

	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidExpenseType = errors.New("invalid expense type")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = fmt.Errorf("description too long (max %d characters)", maxDescriptionLen)
	ErrEmptyGroupName     = errors.New("empty group name")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts a plain calendar date or an RFC 3339 timestamp.
// Timestamps keep the calendar day they were written with.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewDate(t.Year(), int(t.Month()), t.Day()), nil
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t ExpenseType) Valid() bool {
	switch t {
	case Borrowed, Lent, Personal:
		return true
	}
	return false
}

// Liability is the amount the candidate is persisted with: the owed share
// when known, the raw provider amount otherwise.
func (c ImportCandidate) Liability() decimal.Decimal {
	if c.OwedShare.Valid {
		return c.OwedShare.Decimal
	}
	return c.Amount
}

// Liability is the amount the expense contributes to the owed total.
func (e Expense) Liability() decimal.Decimal {
	if e.OwedShare.Valid {
		return e.OwedShare.Decimal
	}
	return e.Amount
}

// Imported reports whether the expense came from the provider.
func (e Expense) Imported() bool {
	return e.ExternalID != ""
}

func (e Expense) Validate() error {
	if err := validateDescription(e.Description); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, e.Amount)
	}
	if !ValidCurrency(e.Currency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, e.Currency)
	}
	if e.ExpenseType != "" && !e.ExpenseType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidExpenseType, e.ExpenseType)
	}
	return nil
}

// Apply returns a copy of e with the patch applied. Group names are resolved by the store.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
		// An explicit amount replaces the imported share.
		e.OwedShare = decimal.NullDecimal{}
	}
	if p.Currency != nil {
		e.Currency = NormalizeCurrency(*p.Currency)
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Category != nil {
		e.Category = optional(*p.Category)
	}
	if p.GroupID != nil {
		e.GroupID = optional(*p.GroupID)
		if e.GroupID == nil {
			e.GroupName = nil
		}
	}
	if p.ExpenseType != nil {
		e.ExpenseType = *p.ExpenseType
	}
	return e
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyGroupName
	}
	return nil
}

func (p GroupPatch) Apply(g Group) Group {
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		g.Description = optional(*p.Description)
	}
	if p.Color != nil && strings.TrimSpace(*p.Color) != "" {
		g.Color = strings.TrimSpace(*p.Color)
	}
	return g
}

func (i Income) Validate() error {
	if err := validateDescription(i.Description); err != nil {
		return err
	}
	if err := i.Date.Validate(); err != nil {
		return err
	}
	if !i.Amount.IsPositive() {
		return fmt.Errorf("%w: income must be positive", ErrInvalidAmount)
	}
	if !ValidCurrency(i.Currency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, i.Currency)
	}
	return nil
}

func (p IncomePatch) Apply(i Income) Income {
	if p.Description != nil {
		i.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		i.Amount = *p.Amount
	}
	if p.Currency != nil {
		i.Currency = NormalizeCurrency(*p.Currency)
	}
	if p.Date != nil {
		i.Date = *p.Date
	}
	if p.Category != nil {
		i.Category = optional(*p.Category)
	}
	if p.Source != nil {
		i.Source = optional(*p.Source)
	}
	return i
}

func validateDescription(desc string) error {
	if strings.TrimSpace(desc) == "" {
		return ErrEmptyDescription
	}
	if len(desc) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

// optional turns a blank string into nil.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
