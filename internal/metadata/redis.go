package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "render-jobs:"

// RedisStore keeps job records as JSON documents whose keys expire with the record TTL
type RedisStore struct {
	rdb    redis.Cmdable
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(rdb redis.Cmdable, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: logger,
	}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

// PutJob stores rec under its job id with the record TTL
func (s *RedisStore) PutJob(ctx context.Context, rec *domain.JobRecord) error {
	if rec.TTL <= 0 {
		return fmt.Errorf("job record ttl must be positive, got %s", rec.TTL)
	}

	data, err := json.Marshal(ToDocument(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	// NX: a job id is assigned exactly once
	ok, err := s.rdb.SetNX(ctx, redisKey(rec.JobID), data, rec.TTL).Result()
	if err != nil {
		return domain.NewDependencyError("metadata.put_job", err)
	}
	if !ok {
		return domain.NewDependencyError("metadata.put_job", fmt.Errorf("job %s already exists", rec.JobID))
	}

	s.logger.Debug("Job record stored",
		slog.String("job_id", rec.JobID),
		slog.Int64("ttl_seconds", rec.TTLSeconds()),
	)
	return nil
}

// GetJob loads the record for jobID
func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	data, err := s.rdb.Get(ctx, redisKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.NewDependencyError("metadata.get_job", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}

	rec, err := FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job record: %w", err)
	}
	return rec, nil
}
