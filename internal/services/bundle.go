package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/poke-collection/internal/models"
)

// ChoosePrice picks the display price of a card: the reverse trend when the
// card has a reverse print and the trend is known, else the normal chain.
// The second result is false when the entry carries no price at all.
func ChoosePrice(e models.PriceEntry, rec models.OwnedCard) (decimal.Decimal, bool) {
	if rec.ReverseExists() {
		if d, ok := priceOf(e.ReverseTrend); ok && !d.IsZero() {
			return d, true
		}
	}
	for _, p := range []*float64{e.Trend, e.Avg30, e.Avg7, e.Low} {
		if d, ok := priceOf(p); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// BuildPriceBundle flattens the chosen price of every owned record into a
// series -> print number map. Records without a set mapping or a catalog
// entry are left out.
func BuildPriceBundle(ctx context.Context, resolver *Resolver, catalogs CatalogAccessor, records []models.OwnedCard) (*models.PriceBundle, error) {
	if catalogs == nil {
		return nil, ErrNilCatalogAccessor
	}

	bundle := &models.PriceBundle{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Cards:       make(map[string]map[string]models.BundleEntry),
	}
	linked := 0

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slug := RecordSlug(rec)
		number := strings.ToUpper(strings.TrimSpace(rec.PrintNumber))
		if slug == "" || number == "" {
			continue
		}
		setID, ok := resolver.ResolveSlug(slug, number)
		if !ok {
			continue
		}
		entry, found := LookupEntry(catalogs.Get(ctx, setID), number)
		if !found {
			continue
		}

		be := models.BundleEntry{
			SetID:        setID,
			Trend:        entry.Trend,
			Avg7:         entry.Avg7,
			Avg30:        entry.Avg30,
			Low:          entry.Low,
			ReverseTrend: entry.ReverseTrend,
			URL:          entry.URL,
			UpdatedAt:    entry.UpdatedAt,
		}
		if price, ok := ChoosePrice(entry, rec); ok {
			be.Price = models.Float(price.InexactFloat64())
			be.PriceText = FormatEUR(price)
		}

		if bundle.Cards[slug] == nil {
			bundle.Cards[slug] = make(map[string]models.BundleEntry)
		}
		bundle.Cards[slug][number] = be
		linked++
	}

	log.Printf("Price bundle: linked %d of %d cards", linked, len(records))
	return bundle, nil
}

// WritePriceBundle writes the bundle document atomically
func WritePriceBundle(path string, bundle *models.PriceBundle) error {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode price bundle: %w", err)
	}
	return writeFileAtomic(path, data)
}
