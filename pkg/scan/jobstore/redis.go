package jobstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	errs "github.com/dbsentinel/piiscan/internal/errors"
)

const (
	recordKeyPrefix = "piiscan:job:"
	indexKey        = "piiscan:jobs"
)

// RedisStore persists job records in Redis. Records are JSON values keyed by
// job id; a sorted set scored by creation time preserves listing order.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeInternal, "failed to marshal job record")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+record.JobID, payload, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.JobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewDatabaseError("put job record", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	payload, err := s.client.Get(ctx, recordKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDatabaseError("get job record", err)
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeInternal, "failed to unmarshal job record")
	}
	return &record, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, errs.NewDatabaseError("list job records", err)
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKeyPrefix+jobID)
	pipe.ZRem(ctx, indexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewDatabaseError("delete job record", err)
	}
	return nil
}
