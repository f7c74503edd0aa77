package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

// CacheInvalidator drops a set from the runtime price cache after a rebuild
type CacheInvalidator interface {
	Invalidate(ctx context.Context, setID string)
}

// CatalogStatus is the refresh worker state exposed by the API
type CatalogStatus struct {
	LastRunTime     time.Time         `json:"last_run_time"`
	NextRunTime     time.Time         `json:"next_run_time"`
	RefreshInterval string            `json:"refresh_interval"`
	SetsBuiltToday  int               `json:"sets_built_today"`
	QueueSize       int               `json:"queue_size"`
	Running         bool              `json:"running"`
	KnownSets       int               `json:"known_sets"`
	LastRunID       string            `json:"last_run_id,omitempty"`
	FailedSets      map[string]string `json:"failed_sets,omitempty"`
}

// CatalogWorker rebuilds the catalogs of the sets the collection references
type CatalogWorker struct {
	builder  *CatalogBuilder
	cache    CacheInvalidator
	resolver *Resolver
	db       *gorm.DB
	interval time.Duration

	// serializes runs; BuildAll shares one limiter but runs must not overlap
	runMu sync.Mutex

	mu             sync.RWMutex
	running        bool
	lastRunTime    time.Time
	lastRunID      string
	setsBuiltToday int
	lastStatsDay   time.Time
	failedSets     map[string]string

	// Priority queue for user-requested refreshes
	urgentQueue []string
	urgentMu    sync.Mutex
	wake        chan struct{}

	knownSets func() int
}

// NewCatalogWorker creates a worker. An interval of zero disables the periodic
// rebuild; queued refreshes are still served.
func NewCatalogWorker(builder *CatalogBuilder, cache CacheInvalidator, resolver *Resolver, db *gorm.DB, interval time.Duration) *CatalogWorker {
	w := &CatalogWorker{
		builder:    builder,
		cache:      cache,
		resolver:   resolver,
		db:         db,
		interval:   interval,
		failedSets: make(map[string]string),
		wake:       make(chan struct{}, 1),
	}
	if pc, ok := cache.(*PriceCache); ok {
		w.knownSets = pc.KnownSetCount
	}
	return w
}

// QueueRefresh adds a set to the high-priority refresh queue and returns its
// 1-based position
func (w *CatalogWorker) QueueRefresh(setID string) int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	for i, id := range w.urgentQueue {
		if id == setID {
			return i + 1
		}
	}
	w.urgentQueue = append(w.urgentQueue, setID)
	metrics.CatalogRefreshQueueSize.Set(float64(len(w.urgentQueue)))
	log.Printf("Catalog worker: queued refresh for set %s (queue size: %d)", setID, len(w.urgentQueue))

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return len(w.urgentQueue)
}

// GetQueueSize returns current urgent queue size
func (w *CatalogWorker) GetQueueSize() int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()
	return len(w.urgentQueue)
}

func (w *CatalogWorker) drainQueue() []string {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()
	ids := w.urgentQueue
	w.urgentQueue = nil
	metrics.CatalogRefreshQueueSize.Set(0)
	return ids
}

// resetDailyStatsIfNeeded resets setsBuiltToday at midnight
func (w *CatalogWorker) resetDailyStatsIfNeeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if w.lastStatsDay.Before(today) {
		if !w.lastStatsDay.IsZero() {
			log.Printf("Catalog worker: daily stats reset (previous day: %d sets built)", w.setsBuiltToday)
		}
		w.setsBuiltToday = 0
		w.lastStatsDay = today
	}
}

// Start runs the worker until ctx is done
func (w *CatalogWorker) Start(ctx context.Context) {
	var tick <-chan time.Time
	if w.interval > 0 {
		log.Printf("Catalog worker started: rebuilding referenced sets every %v", w.interval)
		if _, err := w.RunCycle(ctx); err != nil {
			log.Printf("Catalog worker: initial run failed: %v", err)
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	} else {
		log.Println("Catalog worker started: periodic rebuild disabled, serving queued refreshes only")
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Catalog worker stopping...")
			return
		case <-tick:
			if _, err := w.RunCycle(ctx); err != nil {
				log.Printf("Catalog worker: run failed: %v", err)
			}
		case <-w.wake:
			if _, err := w.RunUrgent(ctx); err != nil {
				log.Printf("Catalog worker: urgent refresh failed: %v", err)
			}
		}
	}
}

// RunCycle rebuilds queued sets first, then every set referenced by the
// stored collection
func (w *CatalogWorker) RunCycle(ctx context.Context) (*BuildReport, error) {
	ids := w.drainQueue()

	var records []models.OwnedCard
	if err := w.db.WithContext(ctx).Select("series_label", "series_slug", "print_number").Find(&records).Error; err != nil {
		return nil, err
	}
	ids = append(ids, DiscoverSetIDs(w.resolver, records)...)

	if len(ids) == 0 {
		log.Println("Catalog worker: no sets to rebuild")
		return &BuildReport{Failed: map[string]string{}}, nil
	}
	return w.run(ctx, ids)
}

// RunUrgent rebuilds only the queued sets
func (w *CatalogWorker) RunUrgent(ctx context.Context) (*BuildReport, error) {
	ids := w.drainQueue()
	if len(ids) == 0 {
		return &BuildReport{Failed: map[string]string{}}, nil
	}
	log.Printf("Catalog worker: processing %d urgent refresh requests", len(ids))
	return w.run(ctx, ids)
}

func (w *CatalogWorker) run(ctx context.Context, ids []string) (*BuildReport, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.resetDailyStatsIfNeeded()
	w.setRunning(true)
	defer w.setRunning(false)

	report, err := w.builder.BuildAll(ctx, ids)
	if report == nil {
		return nil, err
	}

	for _, id := range report.Built {
		w.cache.Invalidate(ctx, id)
	}

	w.mu.Lock()
	w.lastRunTime = time.Now()
	w.lastRunID = report.RunID
	w.setsBuiltToday += len(report.Built)
	for _, id := range report.Built {
		delete(w.failedSets, id)
	}
	for id, reason := range report.Failed {
		w.failedSets[id] = reason
	}
	w.mu.Unlock()

	return report, err
}

func (w *CatalogWorker) setRunning(on bool) {
	w.mu.Lock()
	w.running = on
	w.mu.Unlock()
}

// GetStatus returns the current status
func (w *CatalogWorker) GetStatus() CatalogStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := CatalogStatus{
		LastRunTime:     w.lastRunTime,
		RefreshInterval: w.interval.String(),
		SetsBuiltToday:  w.setsBuiltToday,
		QueueSize:       w.GetQueueSize(),
		Running:         w.running,
		KnownSets:       -1,
		LastRunID:       w.lastRunID,
	}
	if w.interval > 0 && !w.lastRunTime.IsZero() {
		status.NextRunTime = w.lastRunTime.Add(w.interval)
	}
	if w.knownSets != nil {
		status.KnownSets = w.knownSets()
	}
	if len(w.failedSets) > 0 {
		status.FailedSets = make(map[string]string, len(w.failedSets))
		for id, reason := range w.failedSets {
			status.FailedSets[id] = reason
		}
	}
	return status
}

// FailedSetIDs lists the sets whose last build failed
func (w *CatalogWorker) FailedSetIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.failedSets))
	for id := range w.failedSets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
