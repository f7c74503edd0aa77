package models

// BundleEntry is the flattened price of one owned print, ready for display
type BundleEntry struct {
	SetID        string   `json:"setId"`
	Trend        *float64 `json:"trend"`
	Avg7         *float64 `json:"avg7"`
	Avg30        *float64 `json:"avg30"`
	Low          *float64 `json:"low"`
	ReverseTrend *float64 `json:"reverseTrend"`
	Price        *float64 `json:"price"`
	PriceText    string   `json:"priceText,omitempty"`
	URL          string   `json:"url,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// PriceBundle maps series slug to print number to its chosen price
type PriceBundle struct {
	GeneratedAt string                            `json:"generatedAt"`
	Cards       map[string]map[string]BundleEntry `json:"cards"`
}
