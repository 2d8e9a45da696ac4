// Package core provides money parsing and currency precision handling.
//
// All monetary values are shopspring decimals. Rounding to a currency's minor
// unit happens once, at the end of a computation, using half-up rounding.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when an earning or user carries no currency code.
const DefaultCurrency = "USD"

// defaultMinorUnits applies to any currency missing from the table.
const defaultMinorUnits = 2

// minorUnits maps ISO 4217 codes to the number of decimal places of their minor unit.
var minorUnits = map[string]int32{
	"USD": 2, "EUR": 2, "GBP": 2, "CAD": 2, "AUD": 2, "NZD": 2, "CHF": 2,
	"SEK": 2, "NOK": 2, "DKK": 2, "PLN": 2, "MXN": 2, "BRL": 2, "INR": 2,
	"SGD": 2, "HKD": 2, "ZAR": 2, "CNY": 2, "PHP": 2, "MMK": 2,
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "HUF": 2,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

// MinorUnits returns the decimal places for a currency code, defaulting to 2.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return places
	}
	return defaultMinorUnits
}

// ValidateCurrency accepts any three-letter alphabetic code.
func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return NewValidationError("currency", ErrUnsupportedCurrency.Error()+" "+currency)
	}
	for _, r := range currency {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return NewValidationError("currency", ErrUnsupportedCurrency.Error()+" "+currency)
		}
	}
	return nil
}

// NormalizeCurrency upper-cases a code and substitutes the default for blanks.
func NormalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

// RoundToCurrency rounds half-up (away from zero) to the currency's minor unit.
func RoundToCurrency(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// PercentOf returns amount * percent / 100 without any rounding.
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Shift(-2)
}

// ParseAmount converts a decimal string to a non-negative decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// exponents and thousands separators are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && (r < '0' || r > '9') {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if s == "." {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with exactly the currency's minor-unit places.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnits(currency))
}
