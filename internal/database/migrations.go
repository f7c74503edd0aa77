package database

import (
	"log"

	"gorm.io/gorm"

	"github.com/codyseavey/poke-collection/internal/models"
	"github.com/codyseavey/poke-collection/internal/services"
)

const slugBackfillBatchSize = 500

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := migrateGraderField(db); err != nil {
		return err
	}
	if err := backfillSeriesSlug(db); err != nil {
		return err
	}
	return nil
}

// migrateGraderField upper-cases grader names and blanks anything that is not
// a known grading company. Safe to run multiple times.
func migrateGraderField(db *gorm.DB) error {
	if !db.Migrator().HasColumn(&models.OwnedCard{}, "graded_by") {
		return nil
	}

	if err := db.Exec(`UPDATE owned_cards SET graded_by = UPPER(TRIM(graded_by)) WHERE graded_by IS NOT NULL`).Error; err != nil {
		return err
	}

	result := db.Exec(`UPDATE owned_cards SET graded_by = '' WHERE graded_by IS NULL OR graded_by NOT IN (?, ?)`,
		models.GraderPCA, models.GraderPSA)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Normalized grader on %d owned_cards rows", result.RowsAffected)
	}
	return nil
}

// backfillSeriesSlug computes series_slug for rows stored before the column
// existed or imported without it
func backfillSeriesSlug(db *gorm.DB) error {
	var rows []models.OwnedCard
	updated := 0

	result := db.Select("id", "series_label").
		Where("series_slug IS NULL OR series_slug = ''").
		FindInBatches(&rows, slugBackfillBatchSize, func(_ *gorm.DB, batch int) error {
			for _, row := range rows {
				slug := services.Slugify(row.SeriesLabel)
				if err := db.Model(&models.OwnedCard{}).Where("id = ?", row.ID).
					UpdateColumn("series_slug", slug).Error; err != nil {
					return err
				}
				updated++
			}
			return nil
		})
	if result.Error != nil {
		return result.Error
	}

	if updated > 0 {
		log.Printf("Backfilled series_slug on %d owned_cards rows", updated)
	}
	return nil
}
