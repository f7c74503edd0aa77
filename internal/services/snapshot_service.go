package services

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

// SnapshotService records the daily value of the collection
type SnapshotService struct {
	db     *gorm.DB
	engine *ValuationEngine

	mu            sync.RWMutex
	lastSnapshot  time.Time
	snapshotHour  int // Hour of day to take snapshot (0-23)
	checkInterval time.Duration

	now func() time.Time
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(db *gorm.DB, engine *ValuationEngine) *SnapshotService {
	return &SnapshotService{
		db:            db,
		engine:        engine,
		snapshotHour:  23, // Default: 11 PM
		checkInterval: 15 * time.Minute,
		now:           time.Now,
	}
}

// Start begins the background snapshot worker
func (s *SnapshotService) Start(ctx context.Context) {
	log.Println("Snapshot service started: will record daily collection value")

	s.checkAndSnapshot(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Snapshot service stopping...")
			return
		case <-ticker.C:
			s.checkAndSnapshot(ctx)
		}
	}
}

// snapshotDay maps a local time to the UTC midnight of its calendar day
func snapshotDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *SnapshotService) checkAndSnapshot(ctx context.Context) {
	now := s.now()

	if s.hasSnapshotForDate(ctx, snapshotDay(now)) {
		return
	}

	// Only take automatic snapshots at or after the configured hour
	if now.Hour() >= s.snapshotHour {
		if _, err := s.TakeSnapshot(ctx); err != nil {
			log.Printf("Snapshot service: failed to take snapshot: %v", err)
		}
	}
}

func (s *SnapshotService) hasSnapshotForDate(ctx context.Context, day time.Time) bool {
	var count int64
	s.db.WithContext(ctx).Model(&models.ValueSnapshot{}).
		Where("snapshot_date >= ? AND snapshot_date < ?", day, day.Add(24*time.Hour)).
		Count(&count)
	return count > 0
}

// TakeSnapshot valuates the stored collection and records today's figures.
// A second snapshot on the same day replaces the first.
func (s *SnapshotService) TakeSnapshot(ctx context.Context) (*models.ValueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.OwnedCard
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	valuation, err := s.engine.ValuateCollection(ctx, records)
	if err != nil {
		return nil, err
	}

	now := s.now()
	day := snapshotDay(now)
	snapshot := models.ValueSnapshot{
		SnapshotDate:   day,
		SeriesCount:    len(valuation.Series),
		SetValue:       valuation.SetUnique.Total,
		OwnedValue:     valuation.OwnedUnique.Total,
		DuplicateValue: valuation.OwnedDuplicates.Total,
		CreatedAt:      now,
	}
	for _, rec := range records {
		copies := rec.OwnedNormal() + rec.OwnedReverse() + rec.OwnedAlternative()
		snapshot.TotalCopies += copies
		if rec.IsGraded() {
			snapshot.GradedCopies += copies
		}
	}

	result := s.db.WithContext(ctx).Where("DATE(snapshot_date) = DATE(?)", day).
		Assign(map[string]any{
			"series_count":    snapshot.SeriesCount,
			"total_copies":    snapshot.TotalCopies,
			"graded_copies":   snapshot.GradedCopies,
			"set_value":       snapshot.SetValue,
			"owned_value":     snapshot.OwnedValue,
			"duplicate_value": snapshot.DuplicateValue,
		}).
		FirstOrCreate(&snapshot)
	if result.Error != nil {
		return nil, result.Error
	}

	s.lastSnapshot = now
	UpdateCollectionMetrics(records, valuation)

	log.Printf("Snapshot service: recorded value snapshot for %s (owned: %s, copies: %d)",
		day.Format("2006-01-02"), FormatEUR(snapshot.OwnedValue), snapshot.TotalCopies)
	return &snapshot, nil
}

// UpdateCollectionMetrics publishes collection size and value gauges
func UpdateCollectionMetrics(records []models.OwnedCard, valuation *models.CollectionValuation) {
	copies := 0
	for _, rec := range records {
		copies += rec.OwnedNormal() + rec.OwnedReverse() + rec.OwnedAlternative()
	}
	metrics.CollectionCardsTotal.Set(float64(copies))
	if valuation == nil {
		return
	}
	metrics.CollectionSeriesTotal.Set(float64(len(valuation.Series)))
	metrics.CollectionValueEUR.WithLabelValues("set_unique").Set(valuation.SetUnique.Total.InexactFloat64())
	metrics.CollectionValueEUR.WithLabelValues("owned_unique").Set(valuation.OwnedUnique.Total.InexactFloat64())
	metrics.CollectionValueEUR.WithLabelValues("owned_duplicates").Set(valuation.OwnedDuplicates.Total.InexactFloat64())
}

// GetHistory retrieves value snapshots for a given period
func (s *SnapshotService) GetHistory(ctx context.Context, period string) ([]models.ValueSnapshot, error) {
	var snapshots []models.ValueSnapshot

	now := s.now()
	var startDate time.Time

	switch period {
	case "week":
		startDate = now.AddDate(0, 0, -7)
	case "month":
		startDate = now.AddDate(0, -1, 0)
	case "3month":
		startDate = now.AddDate(0, -3, 0)
	case "year":
		startDate = now.AddDate(-1, 0, 0)
	case "all":
		startDate = time.Time{} // No filter
	default:
		startDate = now.AddDate(0, -1, 0) // Default to 1 month
	}

	query := s.db.WithContext(ctx).Order("snapshot_date ASC")
	if !startDate.IsZero() {
		query = query.Where("snapshot_date >= ?", snapshotDay(startDate))
	}

	if err := query.Find(&snapshots).Error; err != nil {
		return nil, err
	}

	return snapshots, nil
}

// GetLastSnapshot returns the most recent snapshot
func (s *SnapshotService) GetLastSnapshot(ctx context.Context) *models.ValueSnapshot {
	var snapshot models.ValueSnapshot

	if err := s.db.WithContext(ctx).Order("snapshot_date DESC").First(&snapshot).Error; err != nil {
		return nil
	}

	return &snapshot
}
