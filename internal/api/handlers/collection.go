package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codyseavey/poke-collection/internal/models"
	"github.com/codyseavey/poke-collection/internal/services"
)

// Maximum quantity allowed per variant of a record
const maxQuantity = 9999

type CollectionHandler struct {
	db              *gorm.DB
	valuation       *services.ValuationEngine
	snapshotService *services.SnapshotService
}

func NewCollectionHandler(db *gorm.DB, valuation *services.ValuationEngine, snapshot *services.SnapshotService) *CollectionHandler {
	return &CollectionHandler{
		db:              db,
		valuation:       valuation,
		snapshotService: snapshot,
	}
}

// GetCollection lists owned-card records, optionally restricted to one series
func (h *CollectionHandler) GetCollection(c *gin.Context) {
	var records []models.OwnedCard
	query := h.db.WithContext(c.Request.Context()).Order("series_slug, id")

	if series := c.Query("series"); series != "" {
		query = query.Where("series_slug = ?", services.Slugify(series))
	}

	if err := query.Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, records)
}

// ImportCollection stores a batch of records, replacing the whole inventory
// when the request asks for it
func (h *CollectionHandler) ImportCollection(c *gin.Context) {
	var req models.ImportCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cards := make([]models.OwnedCard, 0, len(req.Cards))
	for i, card := range req.Cards {
		normalized, err := normalizeRecord(card)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("card %d: %v", i, err)})
			return
		}
		cards = append(cards, normalized)
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if req.Replace {
			if err := tx.Where("1 = 1").Delete(&models.OwnedCard{}).Error; err != nil {
				return err
			}
		}
		if len(cards) == 0 {
			return nil
		}
		return tx.CreateInBatches(&cards, 200).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var total int64
	h.db.WithContext(c.Request.Context()).Model(&models.OwnedCard{}).Count(&total)

	c.JSON(http.StatusOK, gin.H{
		"imported": len(cards),
		"replaced": req.Replace,
		"total":    total,
	})
}

// normalizeRecord validates an imported record and fills derived fields
func normalizeRecord(card models.OwnedCard) (models.OwnedCard, error) {
	card.ID = 0
	card.SeriesLabel = strings.TrimSpace(card.SeriesLabel)
	card.PrintNumber = strings.TrimSpace(card.PrintNumber)
	if card.SeriesLabel == "" {
		return card, fmt.Errorf("series is required")
	}
	if card.PrintNumber == "" {
		return card, fmt.Errorf("number is required")
	}

	for _, q := range []int{card.QuantityNormal, card.QuantityFirstEdition, card.QuantityReverse, card.QuantityAlternative} {
		if q < models.QuantityAbsent || q > maxQuantity {
			return card, fmt.Errorf("quantity must be between %d and %d", models.QuantityAbsent, maxQuantity)
		}
	}

	switch models.Grader(strings.ToUpper(strings.TrimSpace(string(card.GradedBy)))) {
	case models.GraderPCA:
		card.GradedBy = models.GraderPCA
	case models.GraderPSA:
		card.GradedBy = models.GraderPSA
	default:
		card.GradedBy = models.GraderNone
	}

	card.SeriesSlug = services.Slugify(card.SeriesLabel)
	return card, nil
}

// GetSeriesProgress returns completion statistics for every series
func (h *CollectionHandler) GetSeriesProgress(c *gin.Context) {
	var records []models.OwnedCard
	if err := h.db.WithContext(c.Request.Context()).Order("id").Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, services.ComputeSeriesProgress(records))
}

// GetSeriesValuation valuates one series of the collection
func (h *CollectionHandler) GetSeriesValuation(c *gin.Context) {
	slug := services.Slugify(c.Param("slug"))
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series slug is required"})
		return
	}

	var records []models.OwnedCard
	if err := h.db.WithContext(c.Request.Context()).Where("series_slug = ?", slug).Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "series not found in collection"})
		return
	}

	result, err := h.valuation.Valuate(c.Request.Context(), slug, records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCollectionValuation valuates every series and returns the aggregates
func (h *CollectionHandler) GetCollectionValuation(c *gin.Context) {
	var records []models.OwnedCard
	if err := h.db.WithContext(c.Request.Context()).Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	valuation, err := h.valuation.ValuateCollection(c.Request.Context(), records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	services.UpdateCollectionMetrics(records, valuation)

	c.JSON(http.StatusOK, valuation)
}

// GetValueHistory returns collection value snapshots for charting
func (h *CollectionHandler) GetValueHistory(c *gin.Context) {
	if h.snapshotService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot service not available"})
		return
	}

	period := c.DefaultQuery("period", "month")

	snapshots, err := h.snapshotService.GetHistory(c.Request.Context(), period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.ValueHistoryResponse{
		Snapshots: snapshots,
		Period:    period,
	})
}
