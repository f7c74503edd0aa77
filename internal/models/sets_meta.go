package models

// SetMeta describes one set as reported by the pricing service
type SetMeta struct {
	Series    string `json:"series"`
	SeriesKey string `json:"seriesKey"`
	Symbol    string `json:"symbol,omitempty"`
}

// SetsMeta indexes set metadata by set identifier
type SetsMeta struct {
	GeneratedAt string             `json:"generatedAt"`
	ByID        map[string]SetMeta `json:"byId"`
}

// Era groups sets into the print generation they belong to
type Era struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Symbol string `json:"symbol,omitempty"`
}
