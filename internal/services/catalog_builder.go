package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

// ErrSetAbandoned marks a set whose build was given up; its partial catalog is discarded
var ErrSetAbandoned = errors.New("set build abandoned")

var setIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidSetID reports whether id is safe to use as an artifact file name
func ValidSetID(id string) bool {
	return setIDRe.MatchString(id) && !strings.Contains(id, "..")
}

// BuilderConfig controls pagination, pacing and retries of the catalog builder
type BuilderConfig struct {
	Workers      int
	PageSize     int
	RequestDelay time.Duration // minimum spacing between any two requests and per-worker pause between pages
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultBuilderConfig returns the settings the public pricing API tolerates
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Workers:      4,
		PageSize:     250,
		RequestDelay: 150 * time.Millisecond,
		MaxAttempts:  5,
		BaseBackoff:  600 * time.Millisecond,
		MaxBackoff:   15 * time.Second,
	}
}

// ArtifactStore persists built catalogs and the known-sets index
type ArtifactStore interface {
	WriteCatalog(artifact *models.CatalogArtifact) error
	WriteSetsIndex(setIDs []string) error
}

// BuildReport summarizes one BuildAll run
type BuildReport struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Attempted []string          `json:"attempted"`
	Built     []string          `json:"built"`
	Failed    map[string]string `json:"failed"`
	Pages     int64             `json:"pages"`
	Retries   int64             `json:"retries"`
}

type buildStats struct {
	pages   atomic.Int64
	retries atomic.Int64
}

// CatalogBuilder pulls complete price catalogs from the pricing service
type CatalogBuilder struct {
	fetcher CardPageFetcher
	store   ArtifactStore
	cfg     BuilderConfig
	limiter *rate.Limiter

	// overridable in tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

// NewCatalogBuilder creates a builder. Zero config fields take their defaults.
func NewCatalogBuilder(fetcher CardPageFetcher, store ArtifactStore, cfg BuilderConfig) *CatalogBuilder {
	def := DefaultBuilderConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}

	return &CatalogBuilder{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		limiter: limiter,
		sleep:   sleepContext,
		jitter:  randomJitter,
		now:     time.Now,
	}
}

// Config returns the effective builder settings
func (b *CatalogBuilder) Config() BuilderConfig {
	return b.cfg
}

// BuildSet fetches every page of a set and returns its catalog.
// The artifact is not written; BuildAll does that.
func (b *CatalogBuilder) BuildSet(ctx context.Context, setID string) (*models.CatalogArtifact, error) {
	return b.buildSet(ctx, setID, &buildStats{})
}

func (b *CatalogBuilder) buildSet(ctx context.Context, setID string, stats *buildStats) (*models.CatalogArtifact, error) {
	if !ValidSetID(setID) {
		return nil, fmt.Errorf("%w: invalid set id %q", ErrSetAbandoned, setID)
	}

	artifact := &models.CatalogArtifact{
		SetID:     setID,
		UpdatedAt: b.now().UTC(),
		Items:     models.PriceCatalog{},
	}
	owners := make(map[string]string)

	for page := 1; ; page++ {
		cards, err := b.fetchPageWithRetry(ctx, setID, page, stats)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrSetAbandoned, setID, page, err)
		}

		for _, card := range cards {
			addCard(artifact.Items, owners, setID, card)
		}

		if len(cards) < b.cfg.PageSize {
			break
		}

		// the limiter spaces requests across workers; each worker also
		// pauses between its own pages
		if b.cfg.RequestDelay > 0 {
			if err := b.sleep(ctx, b.cfg.RequestDelay); err != nil {
				return nil, err
			}
		}
	}

	return artifact, nil
}

// addCard indexes a card under its canonical number. A plain ("1", "001") or
// "N/D" number always owns the canonical key; prefixed numbers that collide
// with it ("RC1", "SV1") are stored under their literal number instead, so the
// result does not depend on the order pages arrive in. owners maps each
// canonical key to the literal number currently holding it.
func addCard(items models.PriceCatalog, owners map[string]string, setID string, card RemoteCard) {
	key := NormalizePrintNumber(card.Number).String()
	if key == "" {
		return
	}
	entry := card.PriceEntry()
	literal := strings.ToUpper(strings.TrimSpace(card.Number))

	held, exists := owners[key]
	if !exists {
		items[key] = entry
		owners[key] = literal
		return
	}

	if isPlainNumber(literal) && !isPlainNumber(held) {
		// displace the prefixed holder to its own literal key
		if _, taken := items[held]; !taken {
			items[held] = items[key]
		}
		items[key] = entry
		owners[key] = literal
		log.Printf("Catalog builder: %s number %q takes key %s from %q", setID, card.Number, key, held)
		return
	}

	if _, taken := items[literal]; !taken && literal != key {
		items[literal] = entry
	}
	log.Printf("Catalog builder: %s number %q collides with key %s held by %q", setID, card.Number, key, held)
}

// fetchPageWithRetry requests one page, retrying transient failures with
// capped exponential backoff plus jitter. Every attempt waits on the shared
// limiter first.
func (b *CatalogBuilder) fetchPageWithRetry(ctx context.Context, setID string, page int, stats *buildStats) ([]RemoteCard, error) {
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		cards, err := b.fetcher.FetchCardsPage(ctx, setID, page, b.cfg.PageSize)
		if err == nil {
			stats.pages.Add(1)
			metrics.BuilderPagesFetched.Inc()
			return cards, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == b.cfg.MaxAttempts {
			break
		}

		delay := b.backoff(attempt)
		log.Printf("Catalog builder: %s page %d attempt %d/%d failed (%v), retrying in %s",
			setID, page, attempt, b.cfg.MaxAttempts, err, delay.Round(time.Millisecond))
		stats.retries.Add(1)
		metrics.BuilderRetriesTotal.Inc()

		if err := b.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", b.cfg.MaxAttempts, lastErr)
}

// backoff returns base*2^(attempt-1) capped at MaxBackoff, plus jitter in [0, base)
func (b *CatalogBuilder) backoff(attempt int) time.Duration {
	delay := b.cfg.BaseBackoff
	for i := 1; i < attempt && delay < b.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > b.cfg.MaxBackoff {
		delay = b.cfg.MaxBackoff
	}
	return delay + b.jitter(b.cfg.BaseBackoff)
}

// BuildAll builds every set through a bounded worker pool. A failed set is
// logged and skipped; only context cancellation stops the run. The index of
// all attempted sets is written at the end.
func (b *CatalogBuilder) BuildAll(ctx context.Context, setIDs []string) (*BuildReport, error) {
	ids := uniqueSetIDs(setIDs)
	started := b.now()
	report := &BuildReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Attempted: ids,
		Failed:    make(map[string]string),
	}

	workers := b.cfg.Workers
	if workers > len(ids) {
		workers = len(ids)
	}
	log.Printf("Catalog builder: run %s starting, %d sets, %d workers", report.RunID, len(ids), workers)

	stats := &buildStats{}
	var mu sync.Mutex
	queue := make(chan string)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, id := range ids {
			select {
			case queue <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for id := range queue {
				artifact, err := b.buildSet(gctx, id, stats)
				if err == nil {
					err = b.store.WriteCatalog(artifact)
				}
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					log.Printf("ERROR: Catalog builder: set %s failed: %v", id, err)
					metrics.BuilderSetsTotal.WithLabelValues("failed").Inc()
					mu.Lock()
					report.Failed[id] = err.Error()
					mu.Unlock()
					continue
				}

				log.Printf("Catalog builder: built %s (%d entries)", id, len(artifact.Items))
				metrics.BuilderSetsTotal.WithLabelValues("built").Inc()
				mu.Lock()
				report.Built = append(report.Built, id)
				mu.Unlock()
			}
			return nil
		})
	}

	runErr := g.Wait()

	sort.Strings(report.Built)
	report.Pages = stats.pages.Load()
	report.Retries = stats.retries.Load()
	report.Duration = b.now().Sub(started)
	metrics.BuilderRunDuration.Observe(report.Duration.Seconds())

	if runErr != nil {
		log.Printf("Catalog builder: run %s interrupted: %v", report.RunID, runErr)
		return report, runErr
	}

	if err := b.store.WriteSetsIndex(ids); err != nil {
		return report, fmt.Errorf("failed to write sets index: %w", err)
	}

	log.Printf("Catalog builder: run %s done in %s: %d built, %d failed, %d pages, %d retries",
		report.RunID, report.Duration.Round(time.Millisecond), len(report.Built), len(report.Failed), report.Pages, report.Retries)
	return report, nil
}

// DiscoverSetIDs restricts a build to the sets referenced by owned cards
func DiscoverSetIDs(resolver *Resolver, records []models.OwnedCard) []string {
	return resolver.ReferencedSetIDs(records)
}

func uniqueSetIDs(setIDs []string) []string {
	seen := make(map[string]bool, len(setIDs))
	ids := make([]string, 0, len(setIDs))
	for _, id := range setIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// FileArtifactStore writes catalogs as <Dir>/<setId>.json and the known-sets
// index as a JSON list at IndexPath. Writes go through a temp file and rename.
type FileArtifactStore struct {
	Dir       string
	IndexPath string
}

// WriteCatalog persists one set's artifact, replacing any previous build
func (s *FileArtifactStore) WriteCatalog(artifact *models.CatalogArtifact) error {
	if !ValidSetID(artifact.SetID) {
		return fmt.Errorf("invalid set id %q", artifact.SetID)
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode catalog %s: %w", artifact.SetID, err)
	}
	return writeFileAtomic(filepath.Join(s.Dir, artifact.SetID+".json"), data)
}

// WriteSetsIndex merges setIDs into the existing index so a partial build
// never hides sets built by an earlier run.
func (s *FileArtifactStore) WriteSetsIndex(setIDs []string) error {
	existing, err := s.ReadSetsIndex()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Catalog builder: ignoring unreadable sets index %s: %v", s.IndexPath, err)
	}

	merged := uniqueSetIDs(append(existing, setIDs...))
	sort.Strings(merged)

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.IndexPath, data)
}

// ReadSetsIndex loads the known-sets index
func (s *FileArtifactStore) ReadSetsIndex() ([]string, error) {
	data, err := os.ReadFile(s.IndexPath)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse sets index: %w", err)
	}
	return ids, nil
}

// ReadCatalog loads one artifact back from disk
func (s *FileArtifactStore) ReadCatalog(setID string) (*models.CatalogArtifact, error) {
	if !ValidSetID(setID) {
		return nil, fmt.Errorf("invalid set id %q", setID)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, setID+".json"))
	if err != nil {
		return nil, err
	}
	var artifact models.CatalogArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", setID, err)
	}
	return &artifact, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
