package split

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`^[0-9]+\.?[0-9]*$`)

// AmountValid reports whether value is a well-formed non-negative
// decimal amount string such as "10", "10." or "10.25".
func AmountValid(value string) bool {
	return amountPattern.MatchString(value)
}

// MinorUnits converts a decimal amount string to an integer count of
// minor currency units, truncating past the second decimal place.
// Malformed amounts count as zero.
func MinorUnits(value string) int64 {
	d, err := decimal.NewFromString(strings.TrimSuffix(value, "."))
	if err != nil {
		return 0
	}
	return d.Shift(2).Truncate(0).IntPart()
}

// FormatMinorUnits renders a count of minor units back to a two-decimal
// amount string.
func FormatMinorUnits(units int64) string {
	return decimal.New(units, -2).StringFixed(2)
}

// NormalizedAmount renders a valid amount with exactly two decimals;
// invalid input normalizes to "0.00".
func NormalizedAmount(value string) string {
	if !AmountValid(value) {
		return "0.00"
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(value, "."))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
