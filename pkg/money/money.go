package money

import "github.com/shopspring/decimal"

// Precision is the business system's standard money precision. Differences
// that vanish under this precision are treated as zero everywhere in the
// connector.
const Precision = 2

// Round rounds to the standard money precision, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// IsZero reports whether the amount rounds to zero at money precision.
func IsZero(d decimal.Decimal) bool {
	return Round(d).IsZero()
}

// Equal compares two amounts at money precision.
func Equal(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

// Diff returns a-b rounded to money precision.
func Diff(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Sub(b))
}
