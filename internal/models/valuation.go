package models

import (
	"github.com/shopspring/decimal"
)

// VariantValues splits a value figure by print variant
type VariantValues struct {
	Normal  decimal.Decimal `json:"normal"`
	Reverse decimal.Decimal `json:"reverse"`
	Alt     decimal.Decimal `json:"alt"`
	Total   decimal.Decimal `json:"total"`
}

// Sum recomputes Total from the three components
func (v *VariantValues) Sum() {
	v.Total = v.Normal.Add(v.Reverse).Add(v.Alt)
}

// Add accumulates another breakdown into v
func (v *VariantValues) Add(o VariantValues) {
	v.Normal = v.Normal.Add(o.Normal)
	v.Reverse = v.Reverse.Add(o.Reverse)
	v.Alt = v.Alt.Add(o.Alt)
	v.Sum()
}

// TopCard is one entry of a series' most valuable owned cards
type TopCard struct {
	PrintNumber string          `json:"number"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	PriceText   string          `json:"price_text"`
}

// ValuationResult holds the value figures of one series.
// SetUnique values one copy of every existing variant, OwnedUnique one copy of
// every owned variant and OwnedDuplicates the copies beyond the first.
type ValuationResult struct {
	Slug            string        `json:"slug"`
	Available       bool          `json:"available"`
	SetID           string        `json:"set_id,omitempty"`
	SetUnique       VariantValues `json:"set_unique"`
	OwnedUnique     VariantValues `json:"owned_unique"`
	OwnedDuplicates VariantValues `json:"owned_duplicates"`
	Top10           []TopCard     `json:"top10"`
	Priced          int           `json:"priced"`
	Unpriced        int           `json:"unpriced"`
}

// CollectionValuation aggregates the valuation of every series
type CollectionValuation struct {
	Series          []ValuationResult `json:"series"`
	SetUnique       VariantValues     `json:"set_unique"`
	OwnedUnique     VariantValues     `json:"owned_unique"`
	OwnedDuplicates VariantValues     `json:"owned_duplicates"`
}
