package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// PriceEntry holds the market figures for a single print number.
// A nil value means the figure is unknown, never zero.
type PriceEntry struct {
	Trend        *float64 `json:"trend"`
	Avg7         *float64 `json:"avg7"`
	Avg30        *float64 `json:"avg30"`
	Low          *float64 `json:"low"`
	ReverseTrend *float64 `json:"reverseTrend"`
	URL          string   `json:"url,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// UnmarshalJSON decodes an entry leniently: price fields that are missing,
// null or not numeric become nil instead of failing the whole catalog.
func (e *PriceEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Trend        json.RawMessage `json:"trend"`
		Avg7         json.RawMessage `json:"avg7"`
		Avg30        json.RawMessage `json:"avg30"`
		Low          json.RawMessage `json:"low"`
		ReverseTrend json.RawMessage `json:"reverseTrend"`
		URL          json.RawMessage `json:"url"`
		UpdatedAt    json.RawMessage `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = PriceEntry{
		Trend:        optionalPrice(raw.Trend),
		Avg7:         optionalPrice(raw.Avg7),
		Avg30:        optionalPrice(raw.Avg30),
		Low:          optionalPrice(raw.Low),
		ReverseTrend: optionalPrice(raw.ReverseTrend),
		URL:          optionalString(raw.URL),
		UpdatedAt:    optionalString(raw.UpdatedAt),
	}
	return nil
}

func optionalPrice(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}

	// Some exports quote their numbers
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

func optionalString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Float returns a pointer to f, for building entries in code.
func Float(f float64) *float64 {
	return &f
}

// PriceCatalog maps a canonical print number key to its price entry.
type PriceCatalog map[string]PriceEntry

// CatalogArtifact is the persisted form of one set's catalog.
// Artifacts are immutable once written and replaced wholesale by rebuilds.
type CatalogArtifact struct {
	SetID     string       `json:"setId"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Items     PriceCatalog `json:"items"`
}
