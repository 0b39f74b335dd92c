// Package pricing derives customer-facing rates and charges from base
// catalog records and admin overrides. Everything here is pure.
package pricing

import (
	"strings"

	"smm-store/internal/domain"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every money string.
const Scale = 4

// DefaultMarkup is applied to a base rate when no custom rate exists.
var DefaultMarkup = decimal.RequireFromString("1.4")

// Parse reads a decimal string; anything unparsable counts as zero.
func Parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Format renders d with exactly four fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Normalize re-renders a decimal string with four fractional digits.
func Normalize(s string) string {
	return Format(Parse(s))
}

// ApplyOverrides layers field overrides onto a base record.
func ApplyOverrides(base domain.Service, ov domain.FieldOverride) domain.Service {
	out := base
	if ov.Min != nil {
		out.Min = *ov.Min
	}
	if ov.Max != nil {
		out.Max = *ov.Max
	}
	if ov.Description != nil {
		d := *ov.Description
		out.Description = &d
	}
	return out
}

// EffectiveRate is the custom rate when one is set, else base rate times the
// default markup, always rounded to four digits.
func EffectiveRate(baseRate string, customRate *string) string {
	if customRate != nil {
		return Normalize(*customRate)
	}
	return Format(Parse(baseRate).Mul(DefaultMarkup))
}

// Effective builds the customer-facing view of a base record.
func Effective(base domain.Service, customRate *string, ov domain.FieldOverride) domain.Service {
	out := ApplyOverrides(base, ov)
	out.Rate = EffectiveRate(base.Rate, customRate)
	return out
}

// Charge is the amount debited for quantity units at rate, rounded to four digits.
func Charge(rate string, quantity int64) decimal.Decimal {
	return Parse(rate).Mul(decimal.NewFromInt(quantity)).Round(Scale)
}
