// Package catalog converts upstream panel services into base records.
package catalog

import (
	"smm-store/internal/domain"
	"smm-store/internal/pricing"
	"smm-store/internal/provider"

	"github.com/shopspring/decimal"
)

var (
	// UnitsPerQuote is the quantity upstream rates are quoted for.
	UnitsPerQuote = decimal.NewFromInt(1000)
	// ExchangeRate converts the panel currency into the store currency.
	ExchangeRate = decimal.NewFromInt(110)
	// CatalogMargin is applied once at ingestion and is baked into the base rate.
	CatalogMargin = decimal.RequireFromString("1.5")
)

// BaseRate converts a per-1000 upstream rate into a per-unit base rate in the
// store currency, margin included.
func BaseRate(upstreamRate string) string {
	perUnit := pricing.Parse(upstreamRate).Div(UnitsPerQuote)
	return pricing.Format(perUnit.Mul(ExchangeRate).Mul(CatalogMargin))
}

// Normalize maps one upstream service onto the internal schema. The upstream
// identifier is kept as the primary key.
func Normalize(svc provider.Service) domain.Service {
	out := domain.Service{
		ID:       svc.ID,
		Name:     svc.Name,
		Category: svc.Category,
		Rate:     BaseRate(svc.Rate),
		Min:      svc.Min,
		Max:      svc.Max,
	}
	if svc.Description != nil {
		d := *svc.Description
		out.Description = &d
	}
	return out
}

// NormalizeAll maps a full upstream catalog. Later duplicates of an id win.
func NormalizeAll(services []provider.Service) []domain.Service {
	out := make([]domain.Service, 0, len(services))
	index := make(map[int64]int, len(services))
	for _, svc := range services {
		n := Normalize(svc)
		if i, ok := index[n.ID]; ok {
			out[i] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out
}
