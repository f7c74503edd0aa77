package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

// CacheTTL is how long a persisted catalog copy is trusted
const CacheTTL = 24 * time.Hour

var subsetSetIDRe = regexp.MustCompile(`(?i)(tg|gg|sv)$`)

// CacheState is the lifecycle of one set identifier in the price cache
type CacheState int

const (
	StateUnknown CacheState = iota
	StateInFlight
	StateResolved
	StateNegative
)

func (s CacheState) String() string {
	switch s {
	case StateInFlight:
		return "in_flight"
	case StateResolved:
		return "resolved"
	case StateNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// CatalogAccessor serves the price catalog of a set identifier
type CatalogAccessor interface {
	Get(ctx context.Context, setID string) models.PriceCatalog
}

// PriceCacheConfig configures the tiers of a PriceCache
type PriceCacheConfig struct {
	// CatalogLocations are tried in order; each is a directory holding
	// <setId>.json files or an http(s) base URL serving them.
	CatalogLocations []string
	// IndexLocations are paths or URLs of the known-sets index, tried in order
	IndexLocations []string
	TTL            time.Duration
	MemorySize     int
	HTTPClient     *http.Client
}

type memoryEntry struct {
	catalog models.PriceCatalog
	state   CacheState
}

// PriceCache is a read-through cache of set catalogs: memory, in-flight join,
// known-set gate, persistent snapshot, then remote artifact fetch. Failures
// are memoized as negative entries for the life of the process.
type PriceCache struct {
	cfg    PriceCacheConfig
	store  SnapshotStore
	client *http.Client
	memory *lru.Cache[string, memoryEntry]
	group  singleflight.Group

	mu       sync.Mutex // guards inFlight, empty and known
	inFlight map[string]bool
	// gated and negative results, outside the LRU so they are never evicted
	empty map[string]CacheState

	indexOnce sync.Once
	known     map[string]bool // nil when no index could be loaded

	now func() time.Time
}

// NewPriceCache creates a cache. store may be nil to disable the persistent tier.
func NewPriceCache(cfg PriceCacheConfig, store SnapshotStore) (*PriceCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = CacheTTL
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = 1024
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	memory, err := lru.New[string, memoryEntry](cfg.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}

	return &PriceCache{
		cfg:      cfg,
		store:    store,
		client:   client,
		memory:   memory,
		inFlight: make(map[string]bool),
		empty:    make(map[string]CacheState),
		now:      time.Now,
	}, nil
}

// Get returns the catalog of a set, possibly empty, never nil. Concurrent
// calls for the same set share one load.
func (c *PriceCache) Get(ctx context.Context, setID string) models.PriceCatalog {
	setID = strings.TrimSpace(setID)
	if setID == "" {
		return models.PriceCatalog{}
	}

	if entry, ok := c.cached(setID, true); ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory").Inc()
		return entry.catalog
	}

	// Loads are idempotent and cheap; a caller going away must not fail the
	// others waiting on the same flight.
	loadCtx := context.WithoutCancel(ctx)

	v, _, shared := c.group.Do(setID, func() (any, error) {
		c.setInFlight(setID, true)
		defer c.setInFlight(setID, false)

		// a flight that just finished may have filled memory
		if entry, ok := c.cached(setID, true); ok {
			return entry.catalog, nil
		}
		return c.load(loadCtx, setID), nil
	})
	if shared {
		metrics.CacheLookupsTotal.WithLabelValues("inflight").Inc()
	}
	return v.(models.PriceCatalog)
}

// State reports where a set identifier stands in the cache lifecycle
func (c *PriceCache) State(setID string) CacheState {
	c.mu.Lock()
	inFlight := c.inFlight[setID]
	c.mu.Unlock()
	if inFlight {
		return StateInFlight
	}
	if entry, ok := c.cached(setID, false); ok {
		return entry.state
	}
	return StateUnknown
}

// Peek returns the memory-tier catalog without loading anything
func (c *PriceCache) Peek(setID string) (models.PriceCatalog, bool) {
	entry, ok := c.cached(setID, false)
	if !ok {
		return nil, false
	}
	return entry.catalog, true
}

// Invalidate forgets a set so the next Get reloads it, typically after a
// rebuild. The set is added to the known-sets index if one is loaded.
func (c *PriceCache) Invalidate(ctx context.Context, setID string) {
	c.indexOnce.Do(c.loadIndex)
	c.mu.Lock()
	if c.known != nil {
		c.known[setID] = true
	}
	delete(c.empty, setID)
	c.mu.Unlock()

	c.memory.Remove(setID)
	if c.store != nil {
		if err := c.store.Delete(ctx, setID); err != nil {
			log.Printf("Price cache: failed to drop persisted %s: %v", setID, err)
		}
	}
}

// KnownSetCount returns the size of the known-sets index, -1 if none loaded
func (c *PriceCache) KnownSetCount() int {
	c.indexOnce.Do(c.loadIndex)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known == nil {
		return -1
	}
	return len(c.known)
}

func (c *PriceCache) setInFlight(setID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.inFlight[setID] = true
	} else {
		delete(c.inFlight, setID)
	}
}

// remember stores a load result. A nil catalog marks a gated or negative
// result and is kept until Invalidate.
func (c *PriceCache) remember(setID string, catalog models.PriceCatalog, state CacheState) models.PriceCatalog {
	if catalog == nil {
		c.mu.Lock()
		c.empty[setID] = state
		c.mu.Unlock()
		return models.PriceCatalog{}
	}
	c.memory.Add(setID, memoryEntry{catalog: catalog, state: state})
	return catalog
}

// cached looks a set up in memory; touch refreshes its LRU recency
func (c *PriceCache) cached(setID string, touch bool) (memoryEntry, bool) {
	var entry memoryEntry
	var ok bool
	if touch {
		entry, ok = c.memory.Get(setID)
	} else {
		entry, ok = c.memory.Peek(setID)
	}
	if ok {
		return entry, true
	}

	c.mu.Lock()
	state, ok := c.empty[setID]
	c.mu.Unlock()
	if !ok {
		return memoryEntry{}, false
	}
	return memoryEntry{catalog: models.PriceCatalog{}, state: state}, true
}

func (c *PriceCache) load(ctx context.Context, setID string) models.PriceCatalog {
	if c.gated(setID) {
		metrics.CacheLookupsTotal.WithLabelValues("gate").Inc()
		return c.remember(setID, nil, StateResolved)
	}

	if catalog, ok := c.loadPersistent(ctx, setID); ok {
		metrics.CacheLookupsTotal.WithLabelValues("persistent").Inc()
		return c.remember(setID, catalog, StateResolved)
	}

	artifact, err := c.fetchRemote(ctx, setID)
	if err != nil {
		log.Printf("Price cache: no catalog for %s, caching empty result: %v", setID, err)
		metrics.CacheLookupsTotal.WithLabelValues("negative").Inc()
		return c.remember(setID, nil, StateNegative)
	}

	metrics.CacheLookupsTotal.WithLabelValues("remote").Inc()
	catalog := c.remember(setID, artifact.Items, StateResolved)
	c.savePersistent(ctx, setID, catalog)
	return catalog
}

// gated is true when a known-sets index exists, lacks setID and setID does
// not look like a gallery set, which are often missing from older indexes.
func (c *PriceCache) gated(setID string) bool {
	c.indexOnce.Do(c.loadIndex)
	c.mu.Lock()
	known := c.known == nil || c.known[setID]
	c.mu.Unlock()
	if known {
		return false
	}
	return !subsetSetIDRe.MatchString(setID)
}

func (c *PriceCache) loadIndex() {
	for _, loc := range c.cfg.IndexLocations {
		data, err := c.readLocation(context.Background(), loc)
		if err != nil {
			continue
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			log.Printf("Price cache: ignoring malformed sets index %s: %v", loc, err)
			continue
		}
		known := make(map[string]bool, len(ids))
		for _, id := range ids {
			known[id] = true
		}
		c.mu.Lock()
		c.known = known
		c.mu.Unlock()
		log.Printf("Price cache: loaded %d known sets from %s", len(ids), loc)
		return
	}
	log.Printf("Price cache: no sets index found, known-set gate disabled")
}

func (c *PriceCache) loadPersistent(ctx context.Context, setID string) (models.PriceCatalog, bool) {
	if c.store == nil {
		return nil, false
	}

	snapshot, err := c.store.Load(ctx, setID)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			log.Printf("Price cache: persistent tier unavailable for %s: %v", setID, err)
			metrics.CacheTierErrorsTotal.WithLabelValues("persistent").Inc()
		}
		return nil, false
	}
	if !snapshot.IsFresh(c.now(), c.cfg.TTL) {
		return nil, false
	}

	var catalog models.PriceCatalog
	if err := json.Unmarshal(snapshot.Payload, &catalog); err != nil {
		log.Printf("Price cache: discarding unreadable snapshot %s: %v", setID, err)
		metrics.CacheTierErrorsTotal.WithLabelValues("persistent").Inc()
		return nil, false
	}
	return catalog, true
}

func (c *PriceCache) savePersistent(ctx context.Context, setID string, catalog models.PriceCatalog) {
	if c.store == nil {
		return
	}
	payload, err := json.Marshal(catalog)
	if err != nil {
		return
	}
	err = c.store.Save(ctx, &models.CatalogSnapshot{
		SetID:     setID,
		Payload:   payload,
		ItemCount: len(catalog),
		FetchedAt: c.now(),
	})
	if err != nil {
		log.Printf("Price cache: failed to persist %s: %v", setID, err)
		metrics.CacheTierErrorsTotal.WithLabelValues("persistent").Inc()
	}
}

// fetchRemote tries each catalog location in order and returns the first
// artifact that can be read and decoded
func (c *PriceCache) fetchRemote(ctx context.Context, setID string) (*models.CatalogArtifact, error) {
	if !ValidSetID(setID) {
		return nil, fmt.Errorf("invalid set id %q", setID)
	}
	if len(c.cfg.CatalogLocations) == 0 {
		return nil, errors.New("no catalog locations configured")
	}

	var errs []error
	for _, loc := range c.cfg.CatalogLocations {
		data, err := c.readLocation(ctx, joinLocation(loc, setID+".json"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var artifact models.CatalogArtifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", loc, err))
			continue
		}
		return &artifact, nil
	}

	metrics.CacheTierErrorsTotal.WithLabelValues("remote").Inc()
	return nil, errors.Join(errs...)
}

func isHTTPLocation(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

func joinLocation(base, name string) string {
	if isHTTPLocation(base) {
		return strings.TrimRight(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

func (c *PriceCache) readLocation(ctx context.Context, loc string) ([]byte, error) {
	if !isHTTPLocation(loc) {
		return os.ReadFile(loc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: loc}
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return raw, nil
}
