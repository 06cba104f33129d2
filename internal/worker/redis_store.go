package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// DefaultKeyPrefix namespaces job keys in a shared Redis.
const DefaultKeyPrefix = "agentdeploy:finalize:"

// RedisJobStore keeps jobs in Redis so any replica can answer a poll.
// Each job is a JSON value under job:{id}; agent:{id} points at the agent's latest job.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore connects to the Redis at url and verifies it with a ping.
func NewRedisJobStore(ctx context.Context, url string, ttl time.Duration) (*RedisJobStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisJobStore{client: client, prefix: DefaultKeyPrefix, ttl: ttl}, nil
}

func (s *RedisJobStore) jobKey(jobID string) string     { return s.prefix + "job:" + jobID }
func (s *RedisJobStore) agentKey(agentID string) string { return s.prefix + "agent:" + agentID }

func (s *RedisJobStore) Save(ctx context.Context, job *domain.FinalizeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), payload, s.ttl)
		pipe.Set(ctx, s.agentKey(job.AgentID), job.ID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*domain.FinalizeJob, error) {
	payload, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var job domain.FinalizeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *RedisJobStore) ActiveForAgent(ctx context.Context, agentID string) (*domain.FinalizeJob, error) {
	jobID, err := s.client.Get(ctx, s.agentKey(agentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent job: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, nil
	}
	return job, nil
}

// Close closes the Redis connection.
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}
