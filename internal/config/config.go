// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/codyseavey/poke-collection/internal/services"
)

// Config holds all settings of the server and the catalog CLI
type Config struct {
	// HTTP
	Port               int
	CORSAllowedOrigins []string
	FrontendDistPath   string

	// Storage
	DBPath        string
	DataDir       string
	LabelMapPath  string
	PricesDir     string
	SetsIndexPath string
	SetsMetaPath  string
	BundlePath    string

	// Runtime catalog lookup
	CatalogLocations   []string
	SetsIndexLocations []string
	CacheTTL           time.Duration
	CacheMemorySize    int
	RedisURL           string

	// Pricing service
	PricingAPIURL  string
	PricingAPIKey  string
	PricingTimeout time.Duration

	// Catalog builder
	BuildWorkers      int
	BuildPageSize     int
	BuildRequestDelay time.Duration
	BuildMaxAttempts  int
	BuildBaseBackoff  time.Duration
	BuildMaxBackoff   time.Duration

	// Background workers
	CatalogRefreshInterval time.Duration
	SnapshotsEnabled       bool

	// Valuation
	AltPricePolicies map[string]services.AltPricePolicy
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	pricesDir := getEnv("PRICES_DIR", "./public/prices")

	cfg := &Config{
		Port:               getEnvInt("PORT", 8080),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		FrontendDistPath:   getEnv("FRONTEND_DIST_PATH", ""),

		DBPath:        getEnv("DB_PATH", "./poke_collection.db"),
		DataDir:       dataDir,
		LabelMapPath:  getEnv("LABEL_MAP_PATH", filepath.Join(dataDir, "fr_map.json")),
		PricesDir:     pricesDir,
		SetsIndexPath: getEnv("SETS_INDEX_PATH", "./public/sets.json"),
		SetsMetaPath:  getEnv("SETS_META_PATH", "./public/sets_meta.json"),
		BundlePath:    getEnv("BUNDLE_PATH", filepath.Join(pricesDir, "cards-bundle.json")),

		CatalogLocations:   getEnvList("CATALOG_LOCATIONS", []string{"./public/prices", "./prices"}),
		SetsIndexLocations: getEnvList("SETS_INDEX_LOCATIONS", []string{"./public/sets.json", "./sets.json"}),
		CacheTTL:           getEnvDuration("CACHE_TTL", services.CacheTTL),
		CacheMemorySize:    getEnvInt("CACHE_MEMORY_SIZE", 1024),
		RedisURL:           getEnv("REDIS_URL", ""),

		PricingAPIURL:  getEnv("PRICING_API_URL", "https://api.pokemontcg.io/v2"),
		PricingAPIKey:  getEnv("PRICING_API_KEY", ""),
		PricingTimeout: getEnvDuration("PRICING_TIMEOUT", 30*time.Second),

		BuildWorkers:      getEnvInt("BUILD_WORKERS", 4),
		BuildPageSize:     getEnvInt("BUILD_PAGE_SIZE", 250),
		BuildRequestDelay: getEnvDuration("BUILD_REQUEST_DELAY", 150*time.Millisecond),
		BuildMaxAttempts:  getEnvInt("BUILD_MAX_ATTEMPTS", 5),
		BuildBaseBackoff:  getEnvDuration("BUILD_BASE_BACKOFF", 600*time.Millisecond),
		BuildMaxBackoff:   getEnvDuration("BUILD_MAX_BACKOFF", 15*time.Second),

		CatalogRefreshInterval: getEnvDuration("CATALOG_REFRESH_INTERVAL", 24*time.Hour),
		SnapshotsEnabled:       getEnvBool("SNAPSHOTS_ENABLED", true),
	}

	policies, err := services.ParseAltPricePolicies(getEnv("ALT_PRICE_POLICIES", ""))
	if err != nil {
		return nil, fmt.Errorf("ALT_PRICE_POLICIES: %w", err)
	}
	cfg.AltPricePolicies = policies

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.BuildWorkers < 1 {
		return fmt.Errorf("BUILD_WORKERS must be at least 1")
	}
	if c.BuildPageSize < 1 {
		return fmt.Errorf("BUILD_PAGE_SIZE must be at least 1")
	}
	if c.BuildMaxAttempts < 1 {
		return fmt.Errorf("BUILD_MAX_ATTEMPTS must be at least 1")
	}
	if c.BuildRequestDelay < 0 {
		return fmt.Errorf("BUILD_REQUEST_DELAY must not be negative")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheMemorySize < 1 {
		return fmt.Errorf("CACHE_MEMORY_SIZE must be at least 1")
	}
	if c.CatalogRefreshInterval < 0 {
		return fmt.Errorf("CATALOG_REFRESH_INTERVAL must not be negative")
	}
	return nil
}

// BuilderConfig returns the catalog builder settings
func (c *Config) BuilderConfig() services.BuilderConfig {
	return services.BuilderConfig{
		Workers:      c.BuildWorkers,
		PageSize:     c.BuildPageSize,
		RequestDelay: c.BuildRequestDelay,
		MaxAttempts:  c.BuildMaxAttempts,
		BaseBackoff:  c.BuildBaseBackoff,
		MaxBackoff:   c.BuildMaxBackoff,
	}
}

// PriceCacheConfig returns the runtime cache settings
func (c *Config) PriceCacheConfig() services.PriceCacheConfig {
	return services.PriceCacheConfig{
		CatalogLocations: c.CatalogLocations,
		IndexLocations:   c.SetsIndexLocations,
		TTL:              c.CacheTTL,
		MemorySize:       c.CacheMemorySize,
	}
}

// MaskedAPIKey returns the pricing API key with most characters hidden for logging.
func (c *Config) MaskedAPIKey() string {
	return maskSecret(c.PricingAPIKey)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("150ms", "24h") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
