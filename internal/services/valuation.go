package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

// ErrNilCatalogAccessor is returned when the engine has nothing to read prices from
var ErrNilCatalogAccessor = errors.New("valuation engine has no catalog accessor")

const topCardsLimit = 10

// AltPriceMode selects how alternate prints are priced for a set
type AltPriceMode string

const (
	AltPriceReverse    AltPriceMode = "reverse"
	AltPriceNormal     AltPriceMode = "normal"
	AltPriceMultiplier AltPriceMode = "multiplier"
)

// AltPricePolicy overrides the alternate print price of one set
type AltPricePolicy struct {
	Mode   AltPriceMode `json:"mode"`
	Factor float64      `json:"factor,omitempty"`
}

// ParseAltPricePolicies reads "setId:mode[:factor]" items separated by commas,
// e.g. "sv7:normal,sv3pt5:multiplier:2".
func ParseAltPricePolicies(s string) (map[string]AltPricePolicy, error) {
	policies := make(map[string]AltPricePolicy)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid alternate price policy %q", item)
		}

		policy := AltPricePolicy{Mode: AltPriceMode(strings.ToLower(parts[1]))}
		switch policy.Mode {
		case AltPriceReverse, AltPriceNormal:
		case AltPriceMultiplier:
			if len(parts) != 3 {
				return nil, fmt.Errorf("alternate price policy %q needs a factor", item)
			}
			f, err := strconv.ParseFloat(parts[2], 64)
			if err != nil || f <= 0 {
				return nil, fmt.Errorf("invalid factor in alternate price policy %q", item)
			}
			policy.Factor = f
		default:
			return nil, fmt.Errorf("unknown alternate price mode in %q", item)
		}
		policies[parts[0]] = policy
	}
	return policies, nil
}

func priceOf(p *float64) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*p), true
}

// NormalPrice is trend, else 30-day average, else 7-day average, else low, else zero
func NormalPrice(e models.PriceEntry) decimal.Decimal {
	for _, p := range []*float64{e.Trend, e.Avg30, e.Avg7, e.Low} {
		if d, ok := priceOf(p); ok {
			return d
		}
	}
	return decimal.Zero
}

// ReversePrice is the reverse-holo trend when positive, else the normal price.
// Cheap cards often have no reverse market of their own.
func ReversePrice(e models.PriceEntry) decimal.Decimal {
	if d, ok := priceOf(e.ReverseTrend); ok && d.IsPositive() {
		return d
	}
	return NormalPrice(e)
}

// AlternativePrice follows the reverse rule unless the set has a policy.
// A multiplier applies to the reverse price, or to the normal price when
// the reverse one is zero.
func AlternativePrice(e models.PriceEntry, policy *AltPricePolicy) decimal.Decimal {
	if policy == nil {
		return ReversePrice(e)
	}
	switch policy.Mode {
	case AltPriceNormal:
		return NormalPrice(e)
	case AltPriceMultiplier:
		base := ReversePrice(e)
		if base.IsZero() {
			base = NormalPrice(e)
		}
		factor := policy.Factor
		if factor <= 0 {
			factor = 1
		}
		return base.Mul(decimal.NewFromFloat(factor))
	default:
		return ReversePrice(e)
	}
}

// FormatEUR renders an amount for display, e.g. "€1.50"
func FormatEUR(amount decimal.Decimal) string {
	cents := amount.Shift(2).Round(0).IntPart()
	return money.New(cents, money.EUR).Display()
}

// ValuationEngine aggregates owned cards against set catalogs
type ValuationEngine struct {
	resolver    *Resolver
	catalogs    CatalogAccessor
	altPolicies map[string]AltPricePolicy
}

// NewValuationEngine creates an engine. altPolicies may be nil.
func NewValuationEngine(resolver *Resolver, catalogs CatalogAccessor, altPolicies map[string]AltPricePolicy) *ValuationEngine {
	return &ValuationEngine{
		resolver:    resolver,
		catalogs:    catalogs,
		altPolicies: altPolicies,
	}
}

func (v *ValuationEngine) altPolicy(setID string) *AltPricePolicy {
	if p, ok := v.altPolicies[setID]; ok {
		return &p
	}
	return nil
}

// RecordSlug returns the series slug of a record, computing it if missing
func RecordSlug(rec models.OwnedCard) string {
	if rec.SeriesSlug != "" {
		return rec.SeriesSlug
	}
	return Slugify(rec.SeriesLabel)
}

// Valuate computes the value figures of one series. Records belonging to
// other series are ignored. A series with no set mapping is returned as
// unavailable, not as an error.
func (v *ValuationEngine) Valuate(ctx context.Context, seriesSlug string, records []models.OwnedCard) (*models.ValuationResult, error) {
	if v.catalogs == nil {
		return nil, ErrNilCatalogAccessor
	}

	result := &models.ValuationResult{Slug: seriesSlug, Top10: []models.TopCard{}}
	primary, ok := v.resolver.PrimarySetID(seriesSlug)
	if !ok {
		metrics.ValuationsTotal.WithLabelValues("unavailable").Inc()
		return result, nil
	}
	result.Available = true
	result.SetID = primary

	var owned []models.TopCard

	for _, rec := range records {
		if RecordSlug(rec) != seriesSlug {
			continue
		}

		setID, ok := v.resolver.ResolveSlug(seriesSlug, rec.PrintNumber)
		if !ok {
			result.Unpriced++
			continue
		}
		entry, found := LookupEntry(v.catalogs.Get(ctx, setID), rec.PrintNumber)
		if !found {
			result.Unpriced++
			continue
		}
		result.Priced++

		var pNorm, pRev, pAlt decimal.Decimal
		if rec.NormalExists() {
			pNorm = NormalPrice(entry)
			result.SetUnique.Normal = result.SetUnique.Normal.Add(pNorm)
		}
		if rec.ReverseExists() {
			pRev = ReversePrice(entry)
			result.SetUnique.Reverse = result.SetUnique.Reverse.Add(pRev)
		}
		if rec.AlternativeExists() {
			pAlt = AlternativePrice(entry, v.altPolicy(setID))
			result.SetUnique.Alt = result.SetUnique.Alt.Add(pAlt)
		}

		if rec.IsOwned() {
			owned = append(owned, models.TopCard{PrintNumber: rec.PrintNumber, Name: rec.Name, Price: pNorm})
		}

		// graded copies are valued outside this engine
		if rec.IsGraded() {
			continue
		}

		accumulate(&result.OwnedUnique.Normal, &result.OwnedDuplicates.Normal, rec.OwnedNormal(), pNorm)
		accumulate(&result.OwnedUnique.Reverse, &result.OwnedDuplicates.Reverse, rec.OwnedReverse(), pRev)
		accumulate(&result.OwnedUnique.Alt, &result.OwnedDuplicates.Alt, rec.OwnedAlternative(), pAlt)
	}

	result.SetUnique.Sum()
	result.OwnedUnique.Sum()
	result.OwnedDuplicates.Sum()
	result.Top10 = topCards(owned)

	metrics.ValuationsTotal.WithLabelValues("available").Inc()
	return result, nil
}

// accumulate adds one unit to unique and the copies beyond the first to duplicates
func accumulate(unique, duplicates *decimal.Decimal, qty int, price decimal.Decimal) {
	if qty <= 0 {
		return
	}
	*unique = unique.Add(price)
	if qty > 1 {
		*duplicates = duplicates.Add(price.Mul(decimal.NewFromInt(int64(qty - 1))))
	}
}

func topCards(owned []models.TopCard) []models.TopCard {
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].Price.GreaterThan(owned[j].Price)
	})
	if len(owned) > topCardsLimit {
		owned = owned[:topCardsLimit]
	}
	top := make([]models.TopCard, len(owned))
	for i, c := range owned {
		c.PriceText = FormatEUR(c.Price)
		top[i] = c
	}
	return top
}

// ValuateCollection valuates every series present in records. Series are
// valuated concurrently; catalogs shared between them are fetched once by the cache.
func (v *ValuationEngine) ValuateCollection(ctx context.Context, records []models.OwnedCard) (*models.CollectionValuation, error) {
	if v.catalogs == nil {
		return nil, ErrNilCatalogAccessor
	}

	var slugs []string
	seen := make(map[string]bool)
	for _, rec := range records {
		slug := RecordSlug(rec)
		if slug != "" && !seen[slug] {
			seen[slug] = true
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)

	results := make([]models.ValuationResult, len(slugs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			res, err := v.Valuate(gctx, slug, records)
			if err != nil {
				return fmt.Errorf("valuate %s: %w", slug, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &models.CollectionValuation{Series: results}
	unavailable := 0
	for _, r := range results {
		if !r.Available {
			unavailable++
			continue
		}
		out.SetUnique.Add(r.SetUnique)
		out.OwnedUnique.Add(r.OwnedUnique)
		out.OwnedDuplicates.Add(r.OwnedDuplicates)
	}
	out.SetUnique.Sum()
	out.OwnedUnique.Sum()
	out.OwnedDuplicates.Sum()

	if unavailable > 0 {
		log.Printf("Valuation: %d of %d series have no set mapping", unavailable, len(slugs))
	}
	return out, nil
}
