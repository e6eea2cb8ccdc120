package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

const (
	redisIDSetKey    = "eplq:pois"
	redisRecordKeyFn = "eplq:poi:%s"
)

// RedisBackend stores each record as a JSON string key plus a set of ids.
// Batches commit through a transactional pipeline so the id set and record
// keys stay consistent.
type RedisBackend struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisBackend creates a Redis-backed store.
func NewRedisBackend(opts *redis.Options, log *slog.Logger) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(opts), log: log}
}

// Put stores or replaces one record.
func (b *RedisBackend) Put(ctx context.Context, rec interfaces.POIRecord) error {
	return b.PutBatch(ctx, []interfaces.POIRecord{rec})
}

// PutBatch stores a chunk of records in one MULTI/EXEC pipeline.
func (b *RedisBackend) PutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	pipe := b.client.TxPipeline()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		pipe.Set(ctx, fmt.Sprintf(redisRecordKeyFn, rec.ID), data, 0)
		pipe.SAdd(ctx, redisIDSetKey, rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a record by id.
func (b *RedisBackend) Get(ctx context.Context, id string) (interfaces.POIRecord, error) {
	data, err := b.client.Get(ctx, fmt.Sprintf(redisRecordKeyFn, id)).Bytes()
	if err == redis.Nil {
		return interfaces.POIRecord{}, interfaces.ErrPOINotFound
	}
	if err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	var rec interfaces.POIRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes one record.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(redisRecordKeyFn, id))
	pipe.SRem(ctx, redisIDSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear removes every record.
func (b *RedisBackend) Clear(ctx context.Context) error {
	ids, err := b.client.SMembers(ctx, redisIDSetKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, fmt.Sprintf(redisRecordKeyFn, id))
	}
	pipe.Del(ctx, redisIDSetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot fetches the id set and then all records in one MGET.
func (b *RedisBackend) Snapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	ids, err := b.client.SMembers(ctx, redisIDSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(redisRecordKeyFn, id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	out := make([]interfaces.POIRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Record deleted between SMEMBERS and MGET.
			continue
		}
		var rec interfaces.POIRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			b.log.Warn("Skipping corrupt record", slog.String("id", ids[i]), "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns up to limit records, most recently uploaded first.
func (b *RedisBackend) List(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	recs, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sortByUploadedAtDesc(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Available pings the server.
func (b *RedisBackend) Available(ctx context.Context) bool {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.log.Debug("Redis backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns the backend identifier.
func (b *RedisBackend) Name() string {
	return "redis"
}
