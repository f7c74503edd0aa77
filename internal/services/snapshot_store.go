package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/poke-collection/internal/models"
)

// ErrSnapshotNotFound is returned by a SnapshotStore that holds no copy of a set
var ErrSnapshotNotFound = errors.New("catalog snapshot not found")

const redisSnapshotPrefix = "pokecollection:prices:"

// SnapshotStore is the persistent tier of the price cache. Keys are set
// identifiers and are independent of each other.
type SnapshotStore interface {
	Load(ctx context.Context, setID string) (*models.CatalogSnapshot, error)
	Save(ctx context.Context, snapshot *models.CatalogSnapshot) error
	Delete(ctx context.Context, setID string) error
}

// GormSnapshotStore keeps catalog snapshots in the application database
type GormSnapshotStore struct {
	db *gorm.DB
}

// NewGormSnapshotStore creates a store over an open database
func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

func (s *GormSnapshotStore) Load(ctx context.Context, setID string) (*models.CatalogSnapshot, error) {
	var snapshot models.CatalogSnapshot
	err := s.db.WithContext(ctx).Where("set_id = ?", setID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", setID, err)
	}
	return &snapshot, nil
}

// Save upserts the snapshot so a refreshed catalog replaces the old copy
func (s *GormSnapshotStore) Save(ctx context.Context, snapshot *models.CatalogSnapshot) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "set_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "item_count", "fetched_at"}),
	}).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snapshot.SetID, err)
	}
	return nil
}

func (s *GormSnapshotStore) Delete(ctx context.Context, setID string) error {
	return s.db.WithContext(ctx).Where("set_id = ?", setID).Delete(&models.CatalogSnapshot{}).Error
}

// PurgeExpired removes snapshots fetched before cutoff
func (s *GormSnapshotStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("fetched_at < ?", cutoff).Delete(&models.CatalogSnapshot{})
	return result.RowsAffected, result.Error
}

// RedisSnapshotStore keeps catalog snapshots in redis. Entries carry the
// cache TTL so redis drops them on its own; FetchedAt is still checked by
// the cache.
type RedisSnapshotStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

type redisSnapshot struct {
	FetchedAt time.Time       `json:"fetched_at"`
	ItemCount int             `json:"item_count"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRedisSnapshotStore creates a store over a redis client
func NewRedisSnapshotStore(client redis.Cmdable, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl, prefix: redisSnapshotPrefix}
}

func (s *RedisSnapshotStore) key(setID string) string {
	return s.prefix + setID
}

func (s *RedisSnapshotStore) Load(ctx context.Context, setID string) (*models.CatalogSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(setID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", setID, err)
	}

	var stored redisSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", setID, err)
	}
	return &models.CatalogSnapshot{
		SetID:     setID,
		Payload:   stored.Payload,
		ItemCount: stored.ItemCount,
		FetchedAt: stored.FetchedAt,
	}, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snapshot *models.CatalogSnapshot) error {
	data, err := json.Marshal(redisSnapshot{
		FetchedAt: snapshot.FetchedAt,
		ItemCount: snapshot.ItemCount,
		Payload:   snapshot.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snapshot.SetID, err)
	}
	if err := s.client.Set(ctx, s.key(snapshot.SetID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snapshot.SetID, err)
	}
	return nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, setID string) error {
	return s.client.Del(ctx, s.key(setID)).Err()
}

// OpenSnapshotStore picks the persistent tier: redis when redisURL is set,
// otherwise the application database.
func OpenSnapshotStore(ctx context.Context, redisURL string, db *gorm.DB, ttl time.Duration) (SnapshotStore, error) {
	if redisURL == "" {
		return NewGormSnapshotStore(db), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}

	log.Printf("Price cache: persistent tier using redis at %s", opts.Addr)
	return NewRedisSnapshotStore(client, ttl), nil
}
