package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/poke-collection/internal/models"
	"github.com/codyseavey/poke-collection/internal/services"
)

type CatalogHandler struct {
	resolver *services.Resolver
	cache    *services.PriceCache
	worker   *services.CatalogWorker
}

func NewCatalogHandler(resolver *services.Resolver, cache *services.PriceCache, worker *services.CatalogWorker) *CatalogHandler {
	return &CatalogHandler{
		resolver: resolver,
		cache:    cache,
		worker:   worker,
	}
}

// GetSetPrices returns the price catalog of one set through the cache
func (h *CatalogHandler) GetSetPrices(c *gin.Context) {
	setID := strings.TrimSpace(c.Param("setId"))
	if !services.ValidSetID(setID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid set id"})
		return
	}

	catalog := h.cache.Get(c.Request.Context(), setID)

	c.JSON(http.StatusOK, gin.H{
		"set_id": setID,
		"state":  h.cache.State(setID).String(),
		"count":  len(catalog),
		"items":  catalog,
	})
}

// Resolve maps a series label and print number to a set and its price entry
func (h *CatalogHandler) Resolve(c *gin.Context) {
	series := c.Query("series")
	number := c.Query("number")
	if strings.TrimSpace(series) == "" || strings.TrimSpace(number) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series and number are required"})
		return
	}

	setID, ok := h.resolver.Resolve(series, number)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "series is not mapped to a set"})
		return
	}

	var entry *models.PriceEntry
	if e, found := services.LookupEntry(h.cache.Get(c.Request.Context(), setID), number); found {
		entry = &e
	}

	c.JSON(http.StatusOK, gin.H{
		"slug":   services.Slugify(series),
		"set_id": setID,
		"subset": services.ClassifySubset(number).String(),
		"key":    services.NormalizePrintNumber(number).String(),
		"found":  entry != nil,
		"entry":  entry,
	})
}

// GetCatalogStatus returns the state of the catalog refresh worker
func (h *CatalogHandler) GetCatalogStatus(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog worker not available"})
		return
	}
	c.JSON(http.StatusOK, h.worker.GetStatus())
}

// RefreshSet queues an urgent rebuild of one set
func (h *CatalogHandler) RefreshSet(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog worker not available"})
		return
	}

	setID := strings.TrimSpace(c.Param("setId"))
	if !services.ValidSetID(setID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid set id"})
		return
	}

	position := h.worker.QueueRefresh(setID)
	c.JSON(http.StatusAccepted, gin.H{
		"set_id":   setID,
		"position": position,
	})
}
