// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals end to end. Display formatting goes
// through go-money so each currency renders with its own grapheme and
// fraction digits.
package core

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a provider or user supplied amount.
//
// Commas are treated as thousands separators, matching the provider's
// formatting ("1,234.50"). Negative values parse; callers decide whether
// they are acceptable.
//
// Examples:
//
//	ParseAmount("42")       -> 42, nil
//	ParseAmount("1,234.50") -> 1234.50, nil
//	ParseAmount("abc")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// NormalizeCurrency upper-cases a currency code, defaulting to USD when blank.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

// ValidCurrency reports whether code looks like an ISO 4217 alphabetic code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// FormatAmount renders d in the given currency, e.g. "$1,234.50" or "€12.00".
func FormatAmount(d decimal.Decimal, currency string) string {
	cur := money.New(0, NormalizeCurrency(currency)).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}
