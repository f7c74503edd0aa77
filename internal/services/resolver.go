package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/codyseavey/poke-collection/internal/models"
)

// SubsetKind classifies a print number into the gallery it belongs to
type SubsetKind int

const (
	SubsetNone SubsetKind = iota
	SubsetGalarianGallery
	SubsetTrainerGallery
	SubsetShinyVault
)

var (
	galarianGalleryRe = regexp.MustCompile(`^GG\d+`)
	trainerGalleryRe  = regexp.MustCompile(`^TG\d+`)
	shinyVaultRe      = regexp.MustCompile(`^(SV\d+|SV\d+/\d+)`)
)

// Suffix is appended to a slug for overrides and to a primary id for derived ids
func (k SubsetKind) Suffix() string {
	switch k {
	case SubsetGalarianGallery:
		return "gg"
	case SubsetTrainerGallery:
		return "tg"
	case SubsetShinyVault:
		return "sv"
	default:
		return ""
	}
}

func (k SubsetKind) String() string {
	if s := k.Suffix(); s != "" {
		return s
	}
	return "none"
}

// ClassifySubset detects gallery print numbers such as GG05, TG12 or SV107
func ClassifySubset(printNumber string) SubsetKind {
	upper := strings.ToUpper(strings.TrimSpace(printNumber))
	switch {
	case galarianGalleryRe.MatchString(upper):
		return SubsetGalarianGallery
	case trainerGalleryRe.MatchString(upper):
		return SubsetTrainerGallery
	case shinyVaultRe.MatchString(upper):
		return SubsetShinyVault
	default:
		return SubsetNone
	}
}

// Slugify canonicalizes a free-text series label: accents stripped,
// lowercased, whitespace collapsed and trimmed.
func Slugify(label string) string {
	s := strings.Join(strings.Fields(norm.NFC.String(label)), " ")
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(stripped)
}

// LoadLabelMap reads the flat label to set identifier JSON map.
// Keys are returned as written; NewResolver slugifies them.
func LoadLabelMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label map: %w", err)
	}

	var labels map[string]string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse label map %s: %w", path, err)
	}
	return labels, nil
}

// LoadResolver builds a resolver from the label map at path. A missing or
// malformed map is logged and yields an empty resolver, so every series
// values as unavailable instead of failing.
func LoadResolver(path string) *Resolver {
	labels, err := LoadLabelMap(path)
	if err != nil {
		log.Printf("Label map unavailable, continuing without series mappings: %v", err)
		return NewResolver(map[string]string{})
	}
	return NewResolver(labels)
}

// Resolver maps series labels and print numbers to set identifiers.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	bySlug map[string]string
}

// NewResolver builds a resolver over a label map. Later keys that slugify to
// an existing key are ignored.
func NewResolver(labels map[string]string) *Resolver {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bySlug := make(map[string]string, len(labels))
	for _, k := range keys {
		id := strings.TrimSpace(labels[k])
		if id == "" {
			continue
		}
		slug := Slugify(k)
		if _, exists := bySlug[slug]; exists {
			continue
		}
		bySlug[slug] = id
	}
	return &Resolver{bySlug: bySlug}
}

// PrimarySetID returns the main set identifier mapped to a slug
func (r *Resolver) PrimarySetID(slug string) (string, bool) {
	id, ok := r.bySlug[slug]
	return id, ok
}

// SubsetSetID resolves a gallery set identifier: an explicit override
// (slug + "-" + suffix) first, then the primary id with the suffix appended.
func (r *Resolver) SubsetSetID(slug string, kind SubsetKind) (string, bool) {
	if kind == SubsetNone {
		return r.PrimarySetID(slug)
	}
	if id, ok := r.bySlug[slug+"-"+kind.Suffix()]; ok {
		return id, true
	}
	if primary, ok := r.PrimarySetID(slug); ok {
		return primary + kind.Suffix(), true
	}
	return "", false
}

// ResolveSlug returns the set identifier pricing a print number within a series
func (r *Resolver) ResolveSlug(slug, printNumber string) (string, bool) {
	return r.SubsetSetID(slug, ClassifySubset(printNumber))
}

// Resolve is ResolveSlug over a raw series label
func (r *Resolver) Resolve(seriesLabel, printNumber string) (string, bool) {
	return r.ResolveSlug(Slugify(seriesLabel), printNumber)
}

// SetIDs lists every mapped identifier, primaries and overrides, sorted
func (r *Resolver) SetIDs() []string {
	seen := make(map[string]bool, len(r.bySlug))
	ids := make([]string, 0, len(r.bySlug))
	for _, id := range r.bySlug {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of mapped slugs
func (r *Resolver) Len() int {
	return len(r.bySlug)
}

// ReferencedSetIDs lists the identifiers the given records actually need:
// the primary of every mapped series plus the galleries whose numbers appear.
func (r *Resolver) ReferencedSetIDs(records []models.OwnedCard) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, rec := range records {
		slug := rec.SeriesSlug
		if slug == "" {
			slug = Slugify(rec.SeriesLabel)
		}
		if primary, ok := r.PrimarySetID(slug); ok {
			add(primary)
		}
		if kind := ClassifySubset(rec.PrintNumber); kind != SubsetNone {
			if id, ok := r.SubsetSetID(slug, kind); ok {
				add(id)
			}
		}
	}

	sort.Strings(ids)
	return ids
}
