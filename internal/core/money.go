// Package core provides money parsing and handling utilities.
//
// This file contains the lenient amount parser used when ledger amounts are
// summed. Receipts print amounts with thousands separators ("1,250.00") and the
// extraction engine keeps them verbatim, so parsing happens only where a number
// is actually needed.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts an extracted amount string to a decimal.
//
// Commas are treated as thousands separators unless the value contains no
// period and exactly two digits follow the last comma, in which case the comma
// is the decimal separator.
//
// Examples:
//
//	ParseAmount("250.00")   -> 250.00
//	ParseAmount("1,250.50") -> 1250.50
//	ParseAmount("12,50")    -> 12.50
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".,")
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if !strings.Contains(s, ".") {
		if i := strings.LastIndex(s, ","); i >= 0 && len(s)-i-1 == 2 {
			s = s[:i] + "." + s[i+1:]
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
