// Package utils provides formatting and calendar helpers shared by the
// CLI, the API and the profile summary line.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

func prefix(currency string, negative bool) string {
	sym, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		sym = strings.ToUpper(currency) + " "
	}
	if negative {
		return "-" + sym
	}
	return sym
}

// FormatMoney formats an amount with thousands separators and two
// decimals, e.g. $1,234,567.89 or CHF 12.50.
func FormatMoney(amount decimal.Decimal, currency string) string {
	s := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	return prefix(currency, amount.IsNegative()) + group(intPart) + "." + frac
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
	trillion = decimal.NewFromInt(1_000_000_000_000)
)

// FormatCompact formats large amounts with a magnitude suffix,
// e.g. 5200000000 USD -> "$5.20B".
func FormatCompact(amount decimal.Decimal, currency string) string {
	abs := amount.Abs()
	p := prefix(currency, amount.IsNegative())
	switch {
	case abs.GreaterThanOrEqual(trillion):
		return p + abs.Div(trillion).StringFixed(2) + "T"
	case abs.GreaterThanOrEqual(billion):
		return p + abs.Div(billion).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(million):
		return p + abs.Div(million).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return p + abs.Div(thousand).StringFixed(2) + "K"
	default:
		return p + abs.StringFixed(2)
	}
}

// FormatPct formats a ratio as a percentage with one decimal,
// e.g. 0.3077 -> "30.8%".
func FormatPct(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}
