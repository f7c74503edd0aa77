package models

import (
	"time"
)

// QuantityAbsent marks a variant that does not exist for a card,
// as opposed to a variant that exists with zero copies owned.
const QuantityAbsent = -1

// Grader identifies the company that graded a card
type Grader string

const (
	GraderNone Grader = ""
	GraderPCA  Grader = "PCA"
	GraderPSA  Grader = "PSA"
)

// OwnedCard is one row of the owned-card inventory
type OwnedCard struct {
	ID                   uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SeriesLabel          string    `json:"series" gorm:"not null"`
	SeriesSlug           string    `json:"series_slug" gorm:"index"`
	PrintNumber          string    `json:"number" gorm:"not null"`
	Name                 string    `json:"name"`
	Rarity               string    `json:"rarity"`
	QuantityNormal       int       `json:"qty_normal"`
	QuantityFirstEdition int       `json:"qty_first_edition"`
	QuantityReverse      int       `json:"qty_reverse"`
	QuantityAlternative  int       `json:"qty_alternative"`
	Alternative          bool      `json:"alternative"`
	GradedBy             Grader    `json:"graded_by" gorm:"default:''"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsGraded reports whether the card is a graded copy
func (c OwnedCard) IsGraded() bool {
	return c.GradedBy == GraderPCA || c.GradedBy == GraderPSA
}

// NormalExists is false only when the normal print is flagged absent
func (c OwnedCard) NormalExists() bool {
	return c.QuantityNormal != QuantityAbsent
}

// ReverseExists is false only when the reverse print is flagged absent
func (c OwnedCard) ReverseExists() bool {
	return c.QuantityReverse != QuantityAbsent
}

// AlternativeExists is true only for cards flagged as alternate prints
func (c OwnedCard) AlternativeExists() bool {
	return c.Alternative
}

// OwnedNormal counts normal copies, first editions included
func (c OwnedCard) OwnedNormal() int {
	return nonNegative(c.QuantityNormal) + nonNegative(c.QuantityFirstEdition)
}

// OwnedReverse counts reverse copies, zero when the reverse does not exist
func (c OwnedCard) OwnedReverse() int {
	if !c.ReverseExists() {
		return 0
	}
	return nonNegative(c.QuantityReverse)
}

// OwnedAlternative counts alternate print copies, zero for regular cards
func (c OwnedCard) OwnedAlternative() int {
	if !c.AlternativeExists() {
		return 0
	}
	return nonNegative(c.QuantityAlternative)
}

// IsOwned reports whether at least one copy of any variant is held
func (c OwnedCard) IsOwned() bool {
	return c.OwnedNormal() > 0 || c.OwnedReverse() > 0 || c.OwnedAlternative() > 0
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ImportCollectionRequest replaces or extends the stored inventory
type ImportCollectionRequest struct {
	Cards   []OwnedCard `json:"cards" binding:"required"`
	Replace bool        `json:"replace"`
}
