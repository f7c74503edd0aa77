package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/poke-collection/internal/models"
)

type staticCatalogs struct {
	mu       sync.Mutex
	catalogs map[string]models.PriceCatalog
	requests map[string]int
}

func newStaticCatalogs(catalogs map[string]models.PriceCatalog) *staticCatalogs {
	return &staticCatalogs{catalogs: catalogs, requests: make(map[string]int)}
}

func (s *staticCatalogs) Get(ctx context.Context, setID string) models.PriceCatalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[setID]++
	if c, ok := s.catalogs[setID]; ok {
		return c
	}
	return models.PriceCatalog{}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, field string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", field, got, want)
	}
}

func assertValues(t *testing.T, name string, got models.VariantValues, normal, reverse, alt, total string) {
	t.Helper()
	assertDecimal(t, name+".Normal", got.Normal, normal)
	assertDecimal(t, name+".Reverse", got.Reverse, reverse)
	assertDecimal(t, name+".Alt", got.Alt, alt)
	assertDecimal(t, name+".Total", got.Total, total)
}

func TestValuate_OwnedNormalAndReverse(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {"1": {Trend: models.Float(0.40), ReverseTrend: models.Float(1.10)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{{
		SeriesLabel: "151", PrintNumber: "1/165", Name: "Bulbizarre",
		QuantityNormal: 1, QuantityReverse: 1, QuantityAlternative: 0,
	}}

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatalf("Valuate() error = %v", err)
	}
	if !result.Available || result.SetID != "sv3pt5" {
		t.Fatalf("Valuate() available = %v, setID = %q", result.Available, result.SetID)
	}

	assertValues(t, "SetUnique", result.SetUnique, "0.40", "1.10", "0", "1.50")
	assertValues(t, "OwnedUnique", result.OwnedUnique, "0.40", "1.10", "0", "1.50")
	assertValues(t, "OwnedDuplicates", result.OwnedDuplicates, "0", "0", "0", "0")

	if len(result.Top10) != 1 || result.Top10[0].Name != "Bulbizarre" {
		t.Errorf("Top10 = %+v", result.Top10)
	}
}

func TestValuate_UnmappedSeriesIsUnavailable(t *testing.T) {
	engine := NewValuationEngine(NewResolver(nil), newStaticCatalogs(nil), nil)

	result, err := engine.Valuate(context.Background(), "inconnue", []models.OwnedCard{{SeriesLabel: "Inconnue", PrintNumber: "1/100", QuantityNormal: 1}})
	if err != nil {
		t.Fatalf("Valuate() error = %v", err)
	}
	if result.Available {
		t.Error("expected unavailable result")
	}
	if result.Top10 == nil {
		t.Error("Top10 should be empty, not nil")
	}
}

func TestValuate_MissingLabelMapIsUnavailable(t *testing.T) {
	resolver := LoadResolver(filepath.Join(t.TempDir(), "missing.json"))
	if resolver.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", resolver.Len())
	}
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {"1": {Trend: models.Float(2)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	result, err := engine.Valuate(context.Background(), "151", []models.OwnedCard{{SeriesLabel: "151", PrintNumber: "1/165", QuantityNormal: 1}})
	if err != nil {
		t.Fatalf("Valuate() error = %v", err)
	}
	if result.Available {
		t.Error("expected unavailable result without a label map")
	}
}

func TestValuate_NilAccessor(t *testing.T) {
	engine := NewValuationEngine(NewResolver(nil), nil, nil)
	if _, err := engine.Valuate(context.Background(), "151", nil); err != ErrNilCatalogAccessor {
		t.Errorf("Valuate() error = %v, want ErrNilCatalogAccessor", err)
	}
	if _, err := engine.ValuateCollection(context.Background(), nil); err != ErrNilCatalogAccessor {
		t.Errorf("ValuateCollection() error = %v, want ErrNilCatalogAccessor", err)
	}
}

func TestValuate_GradedExcludedFromOwnedAggregates(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {
			"6": {Trend: models.Float(100), ReverseTrend: models.Float(120)},
			"7": {Trend: models.Float(2)},
		},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{
		{SeriesLabel: "151", PrintNumber: "6/165", QuantityNormal: 3, QuantityReverse: 2, GradedBy: models.GraderPSA},
		{SeriesLabel: "151", PrintNumber: "7/165", QuantityNormal: 1, QuantityReverse: 0},
	}

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatal(err)
	}

	assertValues(t, "SetUnique", result.SetUnique, "102", "122", "0", "224")
	assertValues(t, "OwnedUnique", result.OwnedUnique, "2", "0", "0", "2")
	assertValues(t, "OwnedDuplicates", result.OwnedDuplicates, "0", "0", "0", "0")

	if len(result.Top10) != 2 || result.Top10[0].PrintNumber != "6/165" {
		t.Errorf("graded cards still rank in Top10, got %+v", result.Top10)
	}
}

func TestValuate_Duplicates(t *testing.T) {
	resolver := NewResolver(map[string]string{"Zénith Suprême": "sv7"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv7": {"10": {Trend: models.Float(1.5), ReverseTrend: models.Float(0)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{{
		SeriesLabel: "Zénith Suprême", PrintNumber: "010/175",
		QuantityNormal: 2, QuantityFirstEdition: 1, QuantityReverse: 4,
		Alternative: true, QuantityAlternative: 1,
	}}

	result, err := engine.Valuate(context.Background(), "zenith supreme", records)
	if err != nil {
		t.Fatal(err)
	}

	// reverse trend of zero falls back to normal; alternate mirrors reverse
	assertValues(t, "SetUnique", result.SetUnique, "1.5", "1.5", "1.5", "4.5")
	assertValues(t, "OwnedUnique", result.OwnedUnique, "1.5", "1.5", "1.5", "4.5")
	// normal: 3 copies (2 + first edition), reverse: 4 copies, alternate: 1 copy
	assertValues(t, "OwnedDuplicates", result.OwnedDuplicates, "3", "4.5", "0", "7.5")
}

func TestValuate_VariantExistence(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {
			"200": {Trend: models.Float(50), ReverseTrend: models.Float(60)},
			"201": {Trend: models.Float(5)},
		},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{
		// secret rare: no reverse print
		{SeriesLabel: "151", PrintNumber: "200/165", QuantityNormal: 0, QuantityReverse: models.QuantityAbsent},
		// reverse-only promo, alternate quantity ignored without the flag
		{SeriesLabel: "151", PrintNumber: "201/165", QuantityNormal: models.QuantityAbsent, QuantityReverse: 1, QuantityAlternative: 3},
	}

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatal(err)
	}

	assertValues(t, "SetUnique", result.SetUnique, "50", "5", "0", "55")
	assertValues(t, "OwnedUnique", result.OwnedUnique, "0", "5", "0", "5")
	if len(result.Top10) != 1 || !result.Top10[0].Price.IsZero() {
		t.Errorf("Top10 = %+v, want the reverse-only card priced 0 on normal", result.Top10)
	}
}

func TestValuate_GalleryCardsUseTheirOwnSet(t *testing.T) {
	resolver := NewResolver(map[string]string{"zenith-supreme": "sv7"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv7":   {"5": {Trend: models.Float(0.1)}},
		"sv7gg": {"5": {Trend: models.Float(30)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{
		{SeriesSlug: "zenith-supreme", PrintNumber: "GG05", QuantityNormal: 1, QuantityReverse: models.QuantityAbsent},
		{SeriesSlug: "zenith-supreme", PrintNumber: "5/175", QuantityNormal: 1, QuantityReverse: models.QuantityAbsent},
	}

	result, err := engine.Valuate(context.Background(), "zenith-supreme", records)
	if err != nil {
		t.Fatal(err)
	}

	assertDecimal(t, "SetUnique.Normal", result.SetUnique.Normal, "30.1")
	if catalogs.requests["sv7gg"] != 1 {
		t.Errorf("sv7gg requested %d times, want 1", catalogs.requests["sv7gg"])
	}
}

func TestValuate_SkipsCardsWithoutEntry(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {"1": {Trend: models.Float(1)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{
		{SeriesLabel: "151", PrintNumber: "1/165", QuantityNormal: 1},
		{SeriesLabel: "151", PrintNumber: "99/165", QuantityNormal: 5},
		{SeriesLabel: "Autre", PrintNumber: "1/165", QuantityNormal: 5},
	}

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatal(err)
	}
	if result.Priced != 1 || result.Unpriced != 1 {
		t.Errorf("Priced = %d, Unpriced = %d; want 1, 1", result.Priced, result.Unpriced)
	}
	assertDecimal(t, "OwnedUnique.Total", result.OwnedUnique.Total, "1")
}

func TestValuate_Top10(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	items := models.PriceCatalog{}
	var records []models.OwnedCard
	for n := 1; n <= 14; n++ {
		price := float64(n)
		if n == 13 || n == 14 {
			price = 12 // ties with card 12
		}
		items[fmt.Sprint(n)] = models.PriceEntry{Trend: models.Float(price)}
		qty := 1
		if n == 1 {
			qty = 0
		}
		records = append(records, models.OwnedCard{
			SeriesLabel: "151", PrintNumber: fmt.Sprintf("%d/165", n), Name: fmt.Sprintf("card-%d", n), QuantityNormal: qty,
		})
	}
	engine := NewValuationEngine(resolver, newStaticCatalogs(map[string]models.PriceCatalog{"sv3pt5": items}), nil)

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, c := range result.Top10 {
		names = append(names, c.Name)
	}
	want := "card-12,card-13,card-14,card-11,card-10,card-9,card-8,card-7,card-6,card-5"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("Top10 = %s, want %s", got, want)
	}
	if result.Top10[0].PriceText == "" {
		t.Error("Top10 entries should carry a display price")
	}
}

func TestValuate_PropertiesHoldForAllInputs(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	items := models.PriceCatalog{}
	var records []models.OwnedCard
	for n := 0; n < 60; n++ {
		entry := models.PriceEntry{}
		switch n % 4 {
		case 0:
			entry.Trend = models.Float(float64(n) / 10)
		case 1:
			entry.Avg30 = models.Float(0.3)
			entry.ReverseTrend = models.Float(0.7)
		case 2:
			entry.Low = models.Float(0.05)
		}
		items[fmt.Sprint(n)] = entry
		rec := models.OwnedCard{
			SeriesLabel:         "151",
			PrintNumber:         fmt.Sprintf("%d/165", n),
			QuantityNormal:      n%5 - 1,
			QuantityReverse:     n%3 - 1,
			QuantityAlternative: n % 4,
			Alternative:         n%6 == 0,
		}
		if n%7 == 0 {
			rec.GradedBy = models.GraderPCA
		}
		records = append(records, rec)
	}
	engine := NewValuationEngine(resolver, newStaticCatalogs(map[string]models.PriceCatalog{"sv3pt5": items}), nil)

	result, err := engine.Valuate(context.Background(), "151", records)
	if err != nil {
		t.Fatal(err)
	}

	for name, v := range map[string]models.VariantValues{
		"SetUnique": result.SetUnique, "OwnedUnique": result.OwnedUnique, "OwnedDuplicates": result.OwnedDuplicates,
	} {
		if !v.Total.Equal(v.Normal.Add(v.Reverse).Add(v.Alt)) {
			t.Errorf("%s total %s != %s + %s + %s", name, v.Total, v.Normal, v.Reverse, v.Alt)
		}
	}

	// all graded or all single copies leave no duplicates
	var singles, graded []models.OwnedCard
	for _, r := range records {
		s := r
		s.QuantityNormal = min(s.QuantityNormal, 1)
		s.QuantityFirstEdition = 0
		s.QuantityReverse = min(s.QuantityReverse, 1)
		s.QuantityAlternative = min(s.QuantityAlternative, 1)
		singles = append(singles, s)

		g := r
		g.GradedBy = models.GraderPSA
		graded = append(graded, g)
	}

	res, _ := engine.Valuate(context.Background(), "151", singles)
	assertDecimal(t, "singles OwnedDuplicates.Total", res.OwnedDuplicates.Total, "0")

	res, _ = engine.Valuate(context.Background(), "151", graded)
	assertDecimal(t, "graded OwnedUnique.Total", res.OwnedUnique.Total, "0")
	assertDecimal(t, "graded OwnedDuplicates.Total", res.OwnedDuplicates.Total, "0")
	if !res.SetUnique.Total.Equal(result.SetUnique.Total) {
		t.Error("grading must not change the set value")
	}
}

func TestPriceChains(t *testing.T) {
	tests := []struct {
		name        string
		entry       models.PriceEntry
		wantNormal  string
		wantReverse string
	}{
		{"trend first", models.PriceEntry{Trend: models.Float(1), Avg30: models.Float(2)}, "1", "1"},
		{"avg30 before avg7", models.PriceEntry{Avg30: models.Float(2), Avg7: models.Float(3)}, "2", "2"},
		{"avg7 before low", models.PriceEntry{Avg7: models.Float(3), Low: models.Float(0.5)}, "3", "3"},
		{"low last", models.PriceEntry{Low: models.Float(0.5)}, "0.5", "0.5"},
		{"nothing known", models.PriceEntry{}, "0", "0"},
		{"reverse trend wins", models.PriceEntry{Trend: models.Float(1), ReverseTrend: models.Float(4)}, "1", "4"},
		{"zero reverse falls back", models.PriceEntry{Trend: models.Float(1), ReverseTrend: models.Float(0)}, "1", "1"},
		{"negative reverse falls back", models.PriceEntry{Avg7: models.Float(2), ReverseTrend: models.Float(-1)}, "2", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, "NormalPrice", NormalPrice(tt.entry), tt.wantNormal)
			assertDecimal(t, "ReversePrice", ReversePrice(tt.entry), tt.wantReverse)
			assertDecimal(t, "AlternativePrice", AlternativePrice(tt.entry, nil), tt.wantReverse)
		})
	}
}

func TestAlternativePrice_Policies(t *testing.T) {
	entry := models.PriceEntry{Trend: models.Float(2), ReverseTrend: models.Float(3)}

	assertDecimal(t, "reverse", AlternativePrice(entry, &AltPricePolicy{Mode: AltPriceReverse}), "3")
	assertDecimal(t, "normal", AlternativePrice(entry, &AltPricePolicy{Mode: AltPriceNormal}), "2")
	assertDecimal(t, "multiplier", AlternativePrice(entry, &AltPricePolicy{Mode: AltPriceMultiplier, Factor: 2}), "6")
	assertDecimal(t, "multiplier on normal", AlternativePrice(models.PriceEntry{Trend: models.Float(2)}, &AltPricePolicy{Mode: AltPriceMultiplier, Factor: 1.5}), "3")

	resolver := NewResolver(map[string]string{"151": "sv3pt5"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{"sv3pt5": {"1": entry}})
	engine := NewValuationEngine(resolver, catalogs, map[string]AltPricePolicy{"sv3pt5": {Mode: AltPriceMultiplier, Factor: 2}})

	result, err := engine.Valuate(context.Background(), "151", []models.OwnedCard{
		{SeriesLabel: "151", PrintNumber: "1/165", QuantityReverse: models.QuantityAbsent, Alternative: true, QuantityAlternative: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "OwnedUnique.Alt", result.OwnedUnique.Alt, "6")
}

func TestParseAltPricePolicies(t *testing.T) {
	got, err := ParseAltPricePolicies(" sv7:normal, sv3pt5:multiplier:2 ,")
	if err != nil {
		t.Fatalf("ParseAltPricePolicies() error = %v", err)
	}
	if got["sv7"].Mode != AltPriceNormal || got["sv3pt5"].Factor != 2 {
		t.Errorf("ParseAltPricePolicies() = %+v", got)
	}

	for _, bad := range []string{"sv7", "sv7:double", "sv7:multiplier", "sv7:multiplier:-1", ":normal"} {
		if _, err := ParseAltPricePolicies(bad); err == nil {
			t.Errorf("ParseAltPricePolicies(%q) should fail", bad)
		}
	}
}

func TestFormatEUR(t *testing.T) {
	got := FormatEUR(dec("1.5"))
	if !strings.Contains(got, "1.50") || !strings.Contains(got, "€") {
		t.Errorf("FormatEUR(1.5) = %q", got)
	}
	if got := FormatEUR(dec("0.125")); !strings.Contains(got, "0.13") {
		t.Errorf("FormatEUR(0.125) = %q, want rounding to cents", got)
	}
}

func TestValuateCollection(t *testing.T) {
	resolver := NewResolver(map[string]string{"151": "sv3pt5", "Zénith Suprême": "sv7"})
	catalogs := newStaticCatalogs(map[string]models.PriceCatalog{
		"sv3pt5": {"1": {Trend: models.Float(0.40), ReverseTrend: models.Float(1.10)}},
		"sv7":    {"2": {Trend: models.Float(2)}},
	})
	engine := NewValuationEngine(resolver, catalogs, nil)

	records := []models.OwnedCard{
		{SeriesLabel: "151", PrintNumber: "1/165", QuantityNormal: 1, QuantityReverse: 1},
		{SeriesLabel: "Zénith Suprême", PrintNumber: "2/175", QuantityNormal: 2, QuantityReverse: models.QuantityAbsent},
		{SeriesLabel: "Inconnue", PrintNumber: "1/10", QuantityNormal: 1},
	}

	got, err := engine.ValuateCollection(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Series) != 3 {
		t.Fatalf("Series = %d, want 3", len(got.Series))
	}
	if got.Series[0].Slug != "151" || got.Series[1].Slug != "inconnue" || got.Series[1].Available {
		t.Errorf("unexpected series order or availability: %+v", got.Series)
	}
	assertValues(t, "SetUnique", got.SetUnique, "2.40", "1.10", "0", "3.50")
	assertValues(t, "OwnedDuplicates", got.OwnedDuplicates, "2", "0", "0", "2")
}
