package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValueSnapshot stores the daily collection value for historical tracking
type ValueSnapshot struct {
	ID             uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	SnapshotDate   time.Time       `json:"snapshot_date" gorm:"uniqueIndex;not null"`
	SeriesCount    int             `json:"series_count"`
	TotalCopies    int             `json:"total_copies"`
	GradedCopies   int             `json:"graded_copies"`
	SetValue       decimal.Decimal `json:"set_value" gorm:"type:numeric"`
	OwnedValue     decimal.Decimal `json:"owned_value" gorm:"type:numeric"`
	DuplicateValue decimal.Decimal `json:"duplicate_value" gorm:"type:numeric"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ValueHistoryResponse is the API response for value history
type ValueHistoryResponse struct {
	Snapshots []ValueSnapshot `json:"snapshots"`
	Period    string          `json:"period"` // "week", "month", "3month", "year", "all"
}
