// Package money handles the exact-decimal amounts stored on items and
// transactions. Amounts travel as strings ("512.50"); arithmetic happens on
// decimal values, never on binary floats, and results are re-serialized to a
// canonical two-decimal form.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is the canonical zero amount.
const Zero = "0.00"

// Parse reads a stored decimal string. The empty string counts as zero, which
// lets optional valuation fields stay unset without special-casing callers.
func Parse(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", value, err)
	}
	return d, nil
}

// Canonical serializes a decimal to the stored two-decimal form.
func Canonical(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Sum adds stored amounts exactly and returns the canonical total.
func Sum(values ...string) (string, error) {
	total := decimal.Zero
	for _, v := range values {
		d, err := Parse(v)
		if err != nil {
			return "", err
		}
		total = total.Add(d)
	}
	return Canonical(total), nil
}

// IsNegative reports whether a stored amount is below zero.
func IsNegative(value string) (bool, error) {
	d, err := Parse(value)
	if err != nil {
		return false, err
	}
	return d.IsNegative(), nil
}

// ApplyTax computes tax and total for a subtotal and a decimal tax rate
// (e.g. "0.0825"). An empty rate means no tax. The tax is rounded to two
// decimals before being added, so amount == subtotal + tax holds exactly on
// the stored strings.
func ApplyTax(subtotal string, rate string) (tax string, amount string, err error) {
	sub, err := Parse(subtotal)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(rate) == "" {
		return Zero, Canonical(sub), nil
	}
	r, err := Parse(rate)
	if err != nil {
		return "", "", err
	}
	taxed := sub.Mul(r).Round(2)
	return Canonical(taxed), Canonical(sub.Add(taxed)), nil
}
