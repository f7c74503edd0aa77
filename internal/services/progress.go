package services

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/codyseavey/poke-collection/internal/models"
)

// ComputeSeriesProgress summarizes completion per series, most complete first.
// Ties are ordered by label using French collation.
func ComputeSeriesProgress(records []models.OwnedCard) []models.SeriesProgress {
	bySlug := make(map[string]*models.SeriesProgress)
	var order []string

	for _, rec := range records {
		slug := RecordSlug(rec)
		if slug == "" {
			continue
		}
		p, ok := bySlug[slug]
		if !ok {
			p = &models.SeriesProgress{
				Slug:               slug,
				Label:              strings.Join(strings.Fields(rec.SeriesLabel), " "),
				MissingNormal:      []models.MissingCard{},
				MissingReverse:     []models.MissingCard{},
				MissingAlternative: []models.MissingCard{},
			}
			bySlug[slug] = p
			order = append(order, slug)
		}

		missing := models.MissingCard{PrintNumber: strings.TrimSpace(rec.PrintNumber), Name: rec.Name}
		if missing.PrintNumber == "" {
			missing.PrintNumber = "—"
		}

		if rec.NormalExists() {
			if _, _, ok := ParseNumDen(rec.PrintNumber); ok {
				p.SizeNumbered++
			} else if _, _, ok := ParseSubsetNumber(rec.PrintNumber); ok {
				p.SizeSubset++
			}

			p.TotalNormal++
			if rec.QuantityNormal > 0 {
				p.OwnedNormal++
			} else {
				p.MissingNormal = append(p.MissingNormal, missing)
			}
		}

		if rec.ReverseExists() {
			p.TotalReverse++
			if rec.QuantityReverse > 0 {
				p.OwnedReverse++
			} else {
				p.MissingReverse = append(p.MissingReverse, missing)
			}
		}

		if rec.AlternativeExists() {
			p.TotalAlternative++
			if rec.QuantityAlternative > 0 {
				p.OwnedAlternative++
			} else {
				p.MissingAlternative = append(p.MissingAlternative, missing)
			}
		}

		switch rec.GradedBy {
		case models.GraderPCA:
			p.GradedTotal++
			p.GradedPCA++
		case models.GraderPSA:
			p.GradedTotal++
			p.GradedPSA++
		}

		p.CopiesTotal += rec.OwnedNormal() + rec.OwnedReverse() + rec.OwnedAlternative()
	}

	out := make([]models.SeriesProgress, 0, len(order))
	for _, slug := range order {
		p := bySlug[slug]
		p.Size = p.SizeNumbered + p.SizeSubset
		p.Done = min(p.OwnedNormal, p.Size)
		if p.Size > 0 {
			p.Completion = float64(p.Done) / float64(p.Size) * 100
		}
		out = append(out, *p)
	}

	col := collate.New(language.French)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Completion != out[j].Completion {
			return out[i].Completion > out[j].Completion
		}
		return col.CompareString(out[i].Label, out[j].Label) < 0
	})
	return out
}
