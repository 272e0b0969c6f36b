package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session records to avoid key collisions with
// other users of the same Redis deployment.
const sessionKeyPrefix = "asr:session:"

// scanBatchSize is the COUNT hint for SCAN iterations.
const scanBatchSize = 256

// RedisStore is the shared Store implementation for multi-instance
// deployments. Every record carries a TTL so that records owned by a crashed
// instance expire without explicit deletion.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisConfig contains shared-store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // Staleness bound for orphaned records
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to shared session store",
		slog.String("addr", cfg.Addr),
		slog.Duration("record_ttl", cfg.TTL),
	)

	return &RedisStore{rdb: rdb, ttl: cfg.TTL, logger: logger}, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create inserts a record with SET NX so concurrent creations of the same id
// cannot overwrite each other.
func (s *RedisStore) Create(ctx context.Context, record *SessionRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, sessionKey(record.ID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create session record: %w", err)
	}
	return ok, nil
}

// Get returns the record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// Update replaces an existing record with SET XX, refreshing the TTL.
// Returns false if the record has already expired or been deleted.
func (s *RedisStore) Update(ctx context.Context, record *SessionRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session record: %w", err)
	}

	res, err := s.rdb.SetXX(ctx, sessionKey(record.ID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to update session record: %w", err)
	}
	return res, nil
}

// Delete removes a record.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session record: %w", err)
	}
	return n > 0, nil
}

// CountActive counts created/active records across all instances.
func (s *RedisStore) CountActive(ctx context.Context) (int, error) {
	count := 0
	err := s.scanRecords(ctx, func(record *SessionRecord) {
		if record.State.IsActive() {
			count++
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListByOwner returns all records owned by the given instance.
func (s *RedisStore) ListByOwner(ctx context.Context, owner string) ([]*SessionRecord, error) {
	var records []*SessionRecord
	err := s.scanRecords(ctx, func(record *SessionRecord) {
		if record.Owner == owner {
			records = append(records, record)
		}
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// scanRecords iterates every session record under the key prefix. Records
// that vanish between SCAN and GET are skipped; a record that fails to
// decode is logged and skipped rather than failing the whole scan.
func (s *RedisStore) scanRecords(ctx context.Context, visit func(*SessionRecord)) error {
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatchSize).Iterator()

	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read session record %s: %w", iter.Val(), err)
		}

		var record SessionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("Skipping undecodable session record",
				slog.String("key", iter.Val()),
				slog.String("error", err.Error()),
			)
			continue
		}

		visit(&record)
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan session records: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
