// Package currencypkg provides common currency related functionality for apps.
package currencypkg

import (
	"github.com/shopspring/decimal"
)

// Constants for all supported currencies.
const (
	USD = "USD"
	EUR = "EUR"
	RMB = "RMB"
)

// SupportedCurrencies holds all the supported currencies.
var SupportedCurrencies = []string{
	USD,
	EUR,
	RMB,
}

// IsSupportedCurrency returns true if the currency is supported.
func IsSupportedCurrency(currency string) bool {
	for _, c := range SupportedCurrencies {
		if c == currency {
			return true
		}
	}

	return false
}

// exponent is the number of minor units in one major unit for all
// supported currencies (cents per dollar).
const exponent = 2

// FormatMinorUnits renders an amount of minor currency units as a decimal
// string in major units, e.g. 12345 -> "123.45".
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -exponent).StringFixed(exponent)
}

// ParseMajorUnits converts a decimal string in major units to minor units,
// e.g. "123.45" -> 12345. It returns false if the string is not a valid
// amount or carries more precision than the currency supports.
func ParseMajorUnits(s string) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}

	shifted := d.Shift(exponent)
	if !shifted.IsInteger() {
		return 0, false
	}

	return shifted.IntPart(), true
}
