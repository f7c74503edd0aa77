package models

import (
	"time"
)

// CatalogSnapshot is a locally persisted copy of one set's catalog.
// It is trusted only while younger than the configured cache TTL.
type CatalogSnapshot struct {
	SetID     string    `json:"set_id" gorm:"primaryKey"`
	Payload   []byte    `json:"-" gorm:"not null"`
	ItemCount int       `json:"item_count"`
	FetchedAt time.Time `json:"fetched_at" gorm:"index"`
}

// IsFresh reports whether the snapshot is younger than ttl at now
func (s CatalogSnapshot) IsFresh(now time.Time, ttl time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(s.FetchedAt) < ttl
}
