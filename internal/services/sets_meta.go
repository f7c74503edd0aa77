package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/codyseavey/poke-collection/internal/models"
)

var (
	ampersandRe    = regexp.MustCompile(`\s*&\s*`)
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9]+`)
	eraPrefixRe    = regexp.MustCompile(`^(sv|swsh|sm|xy|bw|dp|pl|hgss|ex|neo|ecard)`)
	promoSetIDs    = map[string]bool{"svpromos": true, "swshp": true, "xyp": true}
	specialSetIDs  = map[string]bool{"cel25": true, "g1": true, "dc1": true, "pgo": true, "tot23": true}
	eraKeyByPrefix = map[string]string{
		"sv":    "scarlet-violet",
		"swsh":  "sword-shield",
		"sm":    "sun-moon",
		"xy":    "xy",
		"bw":    "black-white",
		"dp":    "diamond-pearl",
		"pl":    "platinum",
		"hgss":  "heartgold-soulsilver",
		"ex":    "ex",
		"neo":   "neo",
		"ecard": "e-card",
	}
)

// French display labels of the eras
var eraLabels = map[string]string{
	"scarlet-violet":       "Écarlate & Violet",
	"sword-shield":         "Épée & Bouclier",
	"sun-moon":             "Soleil & Lune",
	"xy":                   "XY",
	"black-white":          "Noir & Blanc",
	"diamond-pearl":        "Diamant & Perle",
	"platinum":             "Platine",
	"heartgold-soulsilver": "HeartGold & SoulSilver",
	"ex":                   "EX",
	"neo":                  "Néo",
	"e-card":               "e-Card",
	"pop":                  "POP",
	"base":                 "Base",
	"gym":                  "Gym",
	"legendary":            "Legendary",
	"promos":               "Promos",
	"special":              "Hors-série",
}

// SeriesKey turns a series name into a stable key, e.g. "Scarlet & Violet" -> "scarlet-violet"
func SeriesKey(series string) string {
	s, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), strings.ToLower(series))
	if err != nil {
		s = strings.ToLower(series)
	}
	s = ampersandRe.ReplaceAllString(s, "-")
	s = nonAlnumRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// EraFromSetID returns the era a set belongs to. Metadata wins when it names a
// series; otherwise the era is guessed from the identifier prefix.
func EraFromSetID(setID string, meta *models.SetsMeta) *models.Era {
	if setID == "" {
		return nil
	}
	if meta != nil {
		if m, ok := meta.ByID[setID]; ok && m.Series != "" {
			key := m.SeriesKey
			if key == "" {
				key = SeriesKey(m.Series)
			}
			label := m.Series
			if l, ok := eraLabels[key]; ok {
				label = l
			}
			return &models.Era{Key: key, Label: label, Symbol: m.Symbol}
		}
	}
	return eraFallback(setID)
}

func eraFallback(setID string) *models.Era {
	switch {
	case promoSetIDs[setID]:
		return &models.Era{Key: "promos", Label: eraLabels["promos"]}
	case specialSetIDs[setID]:
		return &models.Era{Key: "special", Label: eraLabels["special"]}
	}
	prefix := eraPrefixRe.FindString(setID)
	key, ok := eraKeyByPrefix[prefix]
	if !ok {
		key = "special"
	}
	return &models.Era{Key: key, Label: eraLabels[key]}
}

// SetsPageFetcher fetches one page of set metadata
type SetsPageFetcher interface {
	FetchSetsPage(ctx context.Context, page, pageSize int) ([]RemoteSet, error)
}

// BuildSetsMeta pages through every set of the pricing service. Transient
// failures are retried with a linearly growing delay.
func BuildSetsMeta(ctx context.Context, fetcher SetsPageFetcher, cfg BuilderConfig) (*models.SetsMeta, error) {
	defaults := DefaultBuilderConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	meta := &models.SetsMeta{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		ByID:        make(map[string]models.SetMeta),
	}

	for page := 1; ; page++ {
		var sets []RemoteSet
		var err error
		for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
			sets, err = fetcher.FetchSetsPage(ctx, page, cfg.PageSize)
			if err == nil || !IsRetryable(err) || attempt == cfg.MaxAttempts {
				break
			}
			log.Printf("Sets meta: page %d attempt %d failed: %v", page, attempt, err)
			if serr := sleepContext(ctx, cfg.BaseBackoff*time.Duration(attempt)); serr != nil {
				return nil, serr
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sets page %d: %w", page, err)
		}

		for _, s := range sets {
			if s.ID == "" {
				continue
			}
			meta.ByID[s.ID] = models.SetMeta{
				Series:    s.Series,
				SeriesKey: SeriesKey(s.Series),
				Symbol:    s.Images.Symbol,
			}
		}

		if len(sets) < cfg.PageSize {
			break
		}
		if err := sleepContext(ctx, cfg.RequestDelay); err != nil {
			return nil, err
		}
	}

	log.Printf("Sets meta: collected %d sets", len(meta.ByID))
	return meta, nil
}

// WriteSetsMeta writes the metadata document atomically
func WriteSetsMeta(path string, meta *models.SetsMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sets meta: %w", err)
	}
	return writeFileAtomic(path, data)
}

// LoadSetsMeta reads a metadata document written by WriteSetsMeta
func LoadSetsMeta(path string) (*models.SetsMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta models.SetsMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse sets meta %s: %w", path, err)
	}
	if meta.ByID == nil {
		meta.ByID = make(map[string]models.SetMeta)
	}
	return &meta, nil
}
