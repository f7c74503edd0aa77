package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/codyseavey/poke-collection/internal/api/handlers"
	"github.com/codyseavey/poke-collection/internal/config"
	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/services"
)

// Services groups the long-lived service objects the handlers depend on.
// CatalogWorker and Snapshots may be nil when the matching worker is disabled.
type Services struct {
	DB            *gorm.DB
	Resolver      *services.Resolver
	Cache         *services.PriceCache
	Valuation     *services.ValuationEngine
	CatalogWorker *services.CatalogWorker
	Snapshots     *services.SnapshotService
}

func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	router := gin.Default()
	router.Use(metricsMiddleware())

	frontendPath := cfg.FrontendDistPath
	serveFrontend := frontendPath != "" && dirExists(frontendPath)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	collectionHandler := handlers.NewCollectionHandler(svc.DB, svc.Valuation, svc.Snapshots)
	catalogHandler := handlers.NewCatalogHandler(svc.Resolver, svc.Cache, svc.CatalogWorker)

	api := router.Group("/api")
	{
		collection := api.Group("/collection")
		{
			collection.GET("", collectionHandler.GetCollection)
			collection.POST("", collectionHandler.ImportCollection)
			collection.GET("/valuation", collectionHandler.GetCollectionValuation)
		}

		series := api.Group("/series")
		{
			series.GET("", collectionHandler.GetSeriesProgress)
			series.GET("/:slug/valuation", collectionHandler.GetSeriesValuation)
		}

		api.GET("/sets/:setId/prices", catalogHandler.GetSetPrices)
		api.GET("/resolve", catalogHandler.Resolve)

		catalog := api.Group("/catalog")
		{
			catalog.GET("/status", catalogHandler.GetCatalogStatus)
			catalog.POST("/refresh/:setId", catalogHandler.RefreshSet)
		}

		api.GET("/snapshots", collectionHandler.GetValueHistory)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if serveFrontend {
		indexPath := filepath.Join(frontendPath, "index.html")

		router.Static("/assets", filepath.Join(frontendPath, "assets"))
		router.StaticFile("/favicon.ico", filepath.Join(frontendPath, "favicon.ico"))

		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback - serve index.html for all non-API routes
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	}

	return router
}

// metricsMiddleware records request counts and latency per route template
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
