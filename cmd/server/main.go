package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codyseavey/poke-collection/internal/api"
	"github.com/codyseavey/poke-collection/internal/config"
	"github.com/codyseavey/poke-collection/internal/database"
	"github.com/codyseavey/poke-collection/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	if err := database.Initialize(cfg.DBPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	resolver := services.LoadResolver(cfg.LabelMapPath)
	log.Printf("Loaded %d series mappings from %s", resolver.Len(), cfg.LabelMapPath)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistent cache tier: redis when configured, sqlite otherwise
	store, err := services.OpenSnapshotStore(ctx, cfg.RedisURL, db, cfg.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to open catalog snapshot store: %v", err)
	}
	if gormStore, ok := store.(*services.GormSnapshotStore); ok {
		if purged, err := gormStore.PurgeExpired(ctx, time.Now().Add(-cfg.CacheTTL)); err != nil {
			log.Printf("Failed to purge expired catalog snapshots: %v", err)
		} else if purged > 0 {
			log.Printf("Purged %d expired catalog snapshots", purged)
		}
	}

	cache, err := services.NewPriceCache(cfg.PriceCacheConfig(), store)
	if err != nil {
		log.Fatalf("Failed to create price cache: %v", err)
	}

	engine := services.NewValuationEngine(resolver, cache, cfg.AltPricePolicies)

	log.Printf("Pricing service: %s (api key: %s)", cfg.PricingAPIURL, cfg.MaskedAPIKey())
	client := services.NewPricingClient(cfg.PricingAPIURL, cfg.PricingAPIKey, cfg.PricingTimeout)
	artifacts := &services.FileArtifactStore{Dir: cfg.PricesDir, IndexPath: cfg.SetsIndexPath}
	builder := services.NewCatalogBuilder(client, artifacts, cfg.BuilderConfig())
	catalogWorker := services.NewCatalogWorker(builder, cache, resolver, db, cfg.CatalogRefreshInterval)

	// Start catalog worker in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in catalog worker: %v - restarting in 30 seconds", r)
					}
				}()
				catalogWorker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Catalog worker restarting after panic recovery...")
			}
		}
	}()

	var snapshotService *services.SnapshotService
	if cfg.SnapshotsEnabled {
		snapshotService = services.NewSnapshotService(db, engine)
		go snapshotService.Start(ctx)
	}

	router := api.SetupRouter(cfg, api.Services{
		DB:            db,
		Resolver:      resolver,
		Cache:         cache,
		Valuation:     engine,
		CatalogWorker: catalogWorker,
		Snapshots:     snapshotService,
	})

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the background workers
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
