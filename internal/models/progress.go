package models

// MissingCard identifies a card variant that is not owned yet
type MissingCard struct {
	PrintNumber string `json:"number"`
	Name        string `json:"name"`
}

// SeriesProgress summarizes how complete a series is
type SeriesProgress struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`

	// Size counts numbered cards (N/D) plus subset cards (GG05, TG12...)
	SizeNumbered int     `json:"size_numbered"`
	SizeSubset   int     `json:"size_subset"`
	Size         int     `json:"size"`
	Done         int     `json:"done"`
	Completion   float64 `json:"completion"`

	TotalNormal      int `json:"total_normal"`
	OwnedNormal      int `json:"owned_normal"`
	TotalReverse     int `json:"total_reverse"`
	OwnedReverse     int `json:"owned_reverse"`
	TotalAlternative int `json:"total_alternative"`
	OwnedAlternative int `json:"owned_alternative"`

	MissingNormal      []MissingCard `json:"missing_normal"`
	MissingReverse     []MissingCard `json:"missing_reverse"`
	MissingAlternative []MissingCard `json:"missing_alternative"`

	GradedTotal int `json:"graded_total"`
	GradedPCA   int `json:"graded_pca"`
	GradedPSA   int `json:"graded_psa"`
	CopiesTotal int `json:"copies_total"`
}
