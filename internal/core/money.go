// Package core holds the donation domain model and money handling.
//
// All amounts are stored in kopecks (minor units). Conversion from major
// units happens exactly once, at intake, so sums and averages never touch
// floating point.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in kopecks.
type Money struct {
	Kopecks int64
}

func (m Money) Validate() error {
	if m.Kopecks <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// InRange checks the amount against the configured donation bounds.
func (m Money) InRange() bool {
	return m.Kopecks >= MinAmountMajor*100 && m.Kopecks <= MaxAmountMajor*100
}

// FromMajor converts whole rubles to Money.
func FromMajor(rubles int64) Money {
	return Money{Kopecks: rubles * 100}
}

// Rubles returns the major-unit value as a float64 for display purposes only.
func (m Money) Rubles() float64 {
	return float64(m.Kopecks) / 100.0
}

// ParseAmount converts a user-entered major-unit string to Money with
// half-up rounding on the third decimal place.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. The
// result is always positive. Returns ErrInvalidAmount for malformed input,
// negative values, or zero.
//
// Examples:
//
//	ParseAmount("500")    -> 50000 kopecks
//	ParseAmount("12,34")  -> 1234 kopecks
//	ParseAmount("12.346") -> 1235 kopecks (rounds up)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return Money{}, ErrInvalidAmount
	}
	// Take first two fractional digits; then half-up rounding on third
	var frac int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		frac = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			frac += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}
	kopecks := iv*100 + frac
	if kopecks <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Kopecks: kopecks}, nil
}
