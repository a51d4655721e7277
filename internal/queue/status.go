/**
 * Redis job status publisher
 *
 * Mirrors job state into Redis so submitters can poll progress without
 * hitting Postgres. Status entries expire on their own; completed results
 * are kept longer than transient states.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusTTL = 1 * time.Hour
	resultTTL = 24 * time.Hour
)

// StatusPublisher writes job status snapshots to Redis.
type StatusPublisher struct {
	client    *redis.Client
	keyPrefix string
}

// StatusSnapshot is the JSON document stored per job.
type StatusSnapshot struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStatusPublisher connects to Redis at the given URL.
func NewStatusPublisher(redisURL, keyPrefix string) (*StatusPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &StatusPublisher{
		client:    redis.NewClient(opt),
		keyPrefix: keyPrefix,
	}, nil
}

// PublishStatus stores the current status snapshot for a job.
func (s *StatusPublisher) PublishStatus(ctx context.Context, snapshot StatusSnapshot) error {
	snapshot.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal status snapshot: %w", err)
	}
	key := s.statusKey(snapshot.JobID)
	if err := s.client.Set(ctx, key, payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to write status for job %s: %w", snapshot.JobID, err)
	}
	return nil
}

// PublishResult stores the final analysis result JSON for a job.
func (s *StatusPublisher) PublishResult(ctx context.Context, jobID string, result []byte) error {
	key := s.resultKey(jobID)
	if err := s.client.Set(ctx, key, result, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to write result for job %s: %w", jobID, err)
	}
	return nil
}

// GetStatus reads the current status snapshot, or nil when none exists.
func (s *StatusPublisher) GetStatus(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	payload, err := s.client.Get(ctx, s.statusKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for job %s: %w", jobID, err)
	}
	var snapshot StatusSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode status for job %s: %w", jobID, err)
	}
	return &snapshot, nil
}

// Close releases the Redis connection.
func (s *StatusPublisher) Close() error {
	return s.client.Close()
}

func (s *StatusPublisher) statusKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:status", s.keyPrefix, jobID)
}

func (s *StatusPublisher) resultKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:result", s.keyPrefix, jobID)
}
