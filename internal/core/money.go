// Package core provides money parsing and formatting utilities.
//
// Amounts are stored as float64 currency units. Parsing and display go
// through shopspring/decimal so that rounding happens on the decimal value
// rather than on its binary approximation.
package core

import (
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// DefaultCurrencySymbol prefixes every formatted amount.
const DefaultCurrencySymbol = "₺"

// ParseAmount converts user input to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// thousands separators and anything that is not a plain decimal are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,5")  -> 12.5, nil
//	ParseAmount("0")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}

// Amount formats v as "<symbol>1,234.56" with half-even rounding.
func (f Formatter) Amount(v float64) string {
	d := decimal.NewFromFloat(v).RoundBank(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	// IntPart would overflow int64 for very large amounts.
	_, frac, _ := strings.Cut(d.StringFixedBank(2), ".")

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(f.symbol())
	b.WriteString(humanize.BigComma(d.BigInt()))
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func (f Formatter) symbol() string {
	if f.Symbol == "" {
		return DefaultCurrencySymbol
	}
	return f.Symbol
}
