package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/poke-collection/internal/models"
)

type fakeFetcher struct {
	mu          sync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	respond     func(setID string, page, call int) ([]RemoteCard, error)
}

func newFakeFetcher(respond func(setID string, page, call int) ([]RemoteCard, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), respond: respond}
}

func (f *fakeFetcher) FetchCardsPage(ctx context.Context, setID string, page, pageSize int) ([]RemoteCard, error) {
	f.mu.Lock()
	f.calls[setID]++
	call := f.calls[setID]
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.respond(setID, page, call)
}

func (f *fakeFetcher) callCount(setID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[setID]
}

// pagedCards serves total cards numbered 1..total in pages of pageSize
func pagedCards(total, pageSize int) func(string, int, int) ([]RemoteCard, error) {
	return func(setID string, page, call int) ([]RemoteCard, error) {
		var cards []RemoteCard
		for n := (page-1)*pageSize + 1; n <= total && n <= page*pageSize; n++ {
			cards = append(cards, RemoteCard{
				Number: fmt.Sprintf("%03d/%d", n, total),
				Cardmarket: &RemoteCardmarket{
					Prices: map[string]any{"trendPrice": float64(n)},
				},
			})
		}
		return cards, nil
	}
}

type recordingStore struct {
	mu        sync.Mutex
	catalogs  map[string]*models.CatalogArtifact
	index     []string
	failWrite string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{catalogs: make(map[string]*models.CatalogArtifact)}
}

func (s *recordingStore) WriteCatalog(a *models.CatalogArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.SetID == s.failWrite {
		return errors.New("disk full")
	}
	s.catalogs[a.SetID] = a
	return nil
}

func (s *recordingStore) WriteSetsIndex(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = append([]string(nil), ids...)
	return nil
}

func newTestBuilder(fetcher CardPageFetcher, store ArtifactStore, cfg BuilderConfig) (*CatalogBuilder, *[]time.Duration) {
	b := NewCatalogBuilder(fetcher, store, cfg)
	var mu sync.Mutex
	delays := &[]time.Duration{}
	b.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	b.jitter = func(time.Duration) time.Duration { return 0 }
	return b, delays
}

func TestCatalogBuilder_BuildSetPaginatesUntilShortPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		wantCalls int
	}{
		{"short last page", 5, 2, 3},
		{"exact multiple needs an empty page", 4, 2, 3},
		{"single short page", 1, 250, 1},
		{"empty set", 0, 250, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher(pagedCards(tt.total, tt.pageSize))
			b, _ := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{PageSize: tt.pageSize})

			artifact, err := b.BuildSet(context.Background(), "sv3pt5")
			require.NoError(t, err)
			assert.Equal(t, "sv3pt5", artifact.SetID)
			assert.Len(t, artifact.Items, tt.total)
			assert.Equal(t, tt.wantCalls, fetcher.callCount("sv3pt5"))

			if tt.total > 0 {
				entry, ok := LookupEntry(artifact.Items, fmt.Sprintf("1/%d", tt.total))
				require.True(t, ok)
				assert.Equal(t, 1.0, *entry.Trend)
			}
		})
	}
}

func TestCatalogBuilder_KeysByCanonicalNumber(t *testing.T) {
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		return []RemoteCard{
			{Number: "GG05", Cardmarket: &RemoteCardmarket{Prices: map[string]any{"trendPrice": 12.5}}},
			{Number: "SWSH-PROMO", Cardmarket: &RemoteCardmarket{Prices: map[string]any{"trendPrice": "bad"}}},
			{Number: "5", Cardmarket: &RemoteCardmarket{Prices: map[string]any{"trendPrice": 1.0}}},
		}, nil
	})
	b, _ := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{PageSize: 250})

	artifact, err := b.BuildSet(context.Background(), "swsh12pt5gg")
	require.NoError(t, err)

	require.Contains(t, artifact.Items, "5")
	assert.Equal(t, 1.0, *artifact.Items["5"].Trend, "plain number owns the canonical key")
	require.Contains(t, artifact.Items, "GG05")
	assert.Equal(t, 12.5, *artifact.Items["GG05"].Trend)
	assert.Contains(t, artifact.Items, "SWSH-PROMO")
	assert.Nil(t, artifact.Items["SWSH-PROMO"].Trend, "malformed price decodes to unknown")
}

func TestCatalogBuilder_CollisionsIndependentOfOrder(t *testing.T) {
	card := func(number string, trend float64) RemoteCard {
		return RemoteCard{Number: number, Cardmarket: &RemoteCardmarket{Prices: map[string]any{"trendPrice": trend}}}
	}

	tests := []struct {
		name  string
		cards []RemoteCard
	}{
		{"prefixed first", []RemoteCard{card("RC1", 50), card("1", 1), card("SV2", 60), card("002/198", 2)}},
		{"plain first", []RemoteCard{card("1", 1), card("RC1", 50), card("002/198", 2), card("SV2", 60)}},
		{"split across pages", []RemoteCard{card("RC1", 50), card("SV2", 60), card("1", 1), card("002/198", 2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
				start := (page - 1) * 2
				if start >= len(tt.cards) {
					return nil, nil
				}
				end := start + 2
				if end > len(tt.cards) {
					end = len(tt.cards)
				}
				return tt.cards[start:end], nil
			})
			b, _ := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{PageSize: 2})

			artifact, err := b.BuildSet(context.Background(), "sv1")
			require.NoError(t, err)

			want := map[string]float64{"1": 1, "RC1": 50, "2": 2, "SV2": 60}
			require.Len(t, artifact.Items, len(want))
			for key, trend := range want {
				require.Contains(t, artifact.Items, key)
				assert.Equal(t, trend, *artifact.Items[key].Trend, key)
			}

			// plain and fraction lookups always reach the plain card
			for raw, trend := range map[string]float64{"1": 1, "001/198": 1, "2/198": 2, "002": 2} {
				entry, ok := LookupEntry(artifact.Items, raw)
				require.True(t, ok, raw)
				assert.Equal(t, trend, *entry.Trend, raw)
			}
		})
	}
}

func TestCatalogBuilder_PausesBetweenPages(t *testing.T) {
	fetcher := newFakeFetcher(pagedCards(5, 2))
	b, delays := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{
		PageSize:     2,
		RequestDelay: 5 * time.Millisecond,
	})

	artifact, err := b.BuildSet(context.Background(), "sv1")
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 5)
	assert.Equal(t, 3, fetcher.callCount("sv1"))
	// no pause after the short last page
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, *delays)
}

func TestCatalogBuilder_RetriesTransientFailures(t *testing.T) {
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		switch call {
		case 1:
			return nil, &APIError{StatusCode: http.StatusTooManyRequests}
		case 2:
			return nil, &APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return pagedCards(3, 250)(setID, page, call)
	})
	b, delays := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{
		PageSize:    250,
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	})

	artifact, err := b.BuildSet(context.Background(), "sv1")
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 3)
	assert.Equal(t, 3, fetcher.callCount("sv1"))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestCatalogBuilder_NonRetryableAbortsImmediately(t *testing.T) {
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		return nil, &APIError{StatusCode: http.StatusBadRequest}
	})
	b, delays := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{MaxAttempts: 5})

	_, err := b.BuildSet(context.Background(), "sv1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetAbandoned)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 1, fetcher.callCount("sv1"))
	assert.Empty(t, *delays)
}

func TestCatalogBuilder_ExhaustedRetriesAbandonSet(t *testing.T) {
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		if page == 2 {
			return nil, &APIError{StatusCode: http.StatusBadGateway}
		}
		return pagedCards(10, 2)(setID, page, call)
	})
	b, delays := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{PageSize: 2, MaxAttempts: 3})

	artifact, err := b.BuildSet(context.Background(), "sv2")
	assert.Nil(t, artifact, "partial catalog must be discarded")
	assert.ErrorIs(t, err, ErrSetAbandoned)
	assert.Equal(t, 4, fetcher.callCount("sv2"), "one page 1 call plus three page 2 attempts")
	assert.Len(t, *delays, 2)
}

func TestCatalogBuilder_Backoff(t *testing.T) {
	b := NewCatalogBuilder(newFakeFetcher(nil), newRecordingStore(), BuilderConfig{
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  500 * time.Millisecond,
	})
	b.jitter = func(time.Duration) time.Duration { return 0 }

	want := []time.Duration{100, 200, 400, 500, 500}
	for i, w := range want {
		if got := b.backoff(i + 1); got != w*time.Millisecond {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}

	b.jitter = randomJitter
	for i := 0; i < 50; i++ {
		d := b.backoff(1)
		if d < 100*time.Millisecond || d >= 200*time.Millisecond {
			t.Fatalf("backoff(1) with jitter = %v, want in [100ms, 200ms)", d)
		}
	}
}

func TestCatalogBuilder_BuildAllContinuesPastFailedSet(t *testing.T) {
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		if setID == "broken" {
			return nil, &APIError{StatusCode: http.StatusNotFound}
		}
		return pagedCards(3, 250)(setID, page, call)
	})

	dir := t.TempDir()
	store := &FileArtifactStore{Dir: filepath.Join(dir, "prices"), IndexPath: filepath.Join(dir, "sets.json")}
	b, _ := newTestBuilder(fetcher, store, BuilderConfig{Workers: 2})

	report, err := b.BuildAll(context.Background(), []string{"sv1", "broken", "sv2", "sv1", " "})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"sv1", "broken", "sv2"}, report.Attempted)
	assert.Equal(t, []string{"sv1", "sv2"}, report.Built)
	assert.Contains(t, report.Failed, "broken")
	assert.EqualValues(t, 2, report.Pages)

	_, err = os.Stat(filepath.Join(dir, "prices", "broken.json"))
	assert.True(t, os.IsNotExist(err), "failed set must not leave an artifact")

	artifact, err := store.ReadCatalog("sv2")
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 3)

	index, err := store.ReadSetsIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "sv1", "sv2"}, index)
}

func TestCatalogBuilder_BuildAllRecordsWriteFailures(t *testing.T) {
	fetcher := newFakeFetcher(pagedCards(1, 250))
	store := newRecordingStore()
	store.failWrite = "sv2"
	b, _ := newTestBuilder(fetcher, store, BuilderConfig{})

	report, err := b.BuildAll(context.Background(), []string{"sv1", "sv2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sv1"}, report.Built)
	assert.Contains(t, report.Failed["sv2"], "disk full")
	assert.Equal(t, []string{"sv1", "sv2"}, store.index)
}

func TestCatalogBuilder_BuildAllBoundsConcurrency(t *testing.T) {
	fetcher := newFakeFetcher(pagedCards(1, 250))
	fetcher.delay = 10 * time.Millisecond
	b, _ := newTestBuilder(fetcher, newRecordingStore(), BuilderConfig{Workers: 3})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("set%d", i)
	}

	report, err := b.BuildAll(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, report.Built, 12)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.LessOrEqual(t, fetcher.maxInFlight, 3)
	assert.GreaterOrEqual(t, fetcher.maxInFlight, 1)
}

func TestCatalogBuilder_BuildAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher(func(setID string, page, call int) ([]RemoteCard, error) {
		cancel()
		return nil, context.Canceled
	})
	store := newRecordingStore()
	b, _ := newTestBuilder(fetcher, store, BuilderConfig{Workers: 1})

	_, err := b.BuildAll(ctx, []string{"sv1", "sv2", "sv3"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, store.index, "interrupted run must not rewrite the index")
}

func TestFileArtifactStore_WriteSetsIndexMerges(t *testing.T) {
	dir := t.TempDir()
	store := &FileArtifactStore{Dir: dir, IndexPath: filepath.Join(dir, "sets.json")}

	require.NoError(t, store.WriteSetsIndex([]string{"sv2", "sv1"}))
	require.NoError(t, store.WriteSetsIndex([]string{"sv3", "sv1"}))

	index, err := store.ReadSetsIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"sv1", "sv2", "sv3"}, index)

	assert.Error(t, store.WriteCatalog(&models.CatalogArtifact{SetID: "../escape"}))
}

func TestValidSetID(t *testing.T) {
	for _, id := range []string{"sv1", "swsh12pt5gg", "sv3pt5", "me1", "cel25c"} {
		assert.True(t, ValidSetID(id), id)
	}
	for _, id := range []string{"", "../x", "a/b", "..", ".hidden"} {
		assert.False(t, ValidSetID(id), id)
	}
}
