/**
 * Queue consumer
 *
 * Consumes analysis jobs from Redis and runs them through the same pipeline
 * as the HTTP path. Job state goes two places: Redis for cheap polling and
 * Postgres for the durable record. Status write failures are logged but
 * never fail the job.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	apperrors "github.com/nexadoc/ocr-service/internal/errors"
	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/processor"
	"github.com/nexadoc/ocr-service/internal/storage"
)

// TaskTypeAnalyze is the asynq task type handled by this consumer.
const TaskTypeAnalyze = "document:analyze"

// JobPayload is the task payload submitted by clients. FileBuffer carries
// the document bytes inline (base64 over JSON).
type JobPayload struct {
	JobID      string              `json:"jobId"`
	Filename   string              `json:"filename"`
	MimeType   string              `json:"mimeType,omitempty"`
	FileBuffer []byte              `json:"fileBuffer"`
	Mode       string              `json:"mode"`
	DPI        int                 `json:"dpi,omitempty"`
	Device     string              `json:"device,omitempty"`
	Lite       bool                `json:"lite,omitempty"`
	Tiles      []document.TileSpec `json:"tiles,omitempty"`
}

// ConsumerConfig holds consumer configuration. The per-job processing
// timeout is owned by the analysis service, not the queue layer.
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
}

// Consumer pulls analysis jobs off the queue and executes them.
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	service *processor.AnalysisService
	status  *StatusPublisher
	store   *storage.PostgresClient // nil disables the durable record
	config  *ConsumerConfig
	logger  *logging.Logger
}

// NewConsumer creates a queue consumer. store may be nil when no database is
// configured.
func NewConsumer(cfg *ConsumerConfig, service *processor.AnalysisService, status *StatusPublisher, store *storage.PostgresClient) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if service == nil {
		return nil, fmt.Errorf("analysis service is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff capped at a minute.
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error(fmt.Sprintf("Task processing error: type=%s, error=%v", task.Type(), err))
			}),
		},
	)

	mux := asynq.NewServeMux()
	consumer := &Consumer{
		server:  server,
		mux:     mux,
		service: service,
		status:  status,
		store:   store,
		config:  cfg,
		logger:  logger,
	}
	mux.HandleFunc(TaskTypeAnalyze, consumer.handleAnalyze)

	return consumer, nil
}

// Start launches the consumer in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info(fmt.Sprintf("Starting queue consumer (concurrency=%d, queue=%s)",
		c.config.Concurrency, c.config.QueueName))
	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.logger.Error(fmt.Sprintf("Queue consumer error: %v", err))
		}
	}()
	return nil
}

// Stop shuts the consumer down gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	return nil
}

// handleAnalyze runs one queued analysis job.
func (c *Consumer) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("job payload has no jobId")
	}

	c.logger.Info(fmt.Sprintf("[Job %s] Processing: filename=%s, size=%d bytes, mode=%s",
		payload.JobID, payload.Filename, len(payload.FileBuffer), payload.Mode))

	c.publishStatus(ctx, payload.JobID, storage.StatusProcessing, nil)
	c.upsertRecord(ctx, &storage.JobRecord{
		JobID:    payload.JobID,
		Filename: payload.Filename,
		MimeType: payload.MimeType,
		FileSize: int64(len(payload.FileBuffer)),
		Mode:     payload.Mode,
		Status:   storage.StatusProcessing,
	})

	resp, err := c.service.Analyze(ctx, processor.AnalysisRequest{
		RequestID:   payload.JobID,
		Filename:    payload.Filename,
		ContentType: payload.MimeType,
		Data:        payload.FileBuffer,
		Mode:        engine.Mode(payload.Mode),
		DPI:         payload.DPI,
		Device:      payload.Device,
		Lite:        payload.Lite,
		Tiles:       payload.Tiles,
	})

	duration := time.Since(start)

	if err != nil {
		c.logger.Error(fmt.Sprintf("[Job %s] Failed after %v: %v", payload.JobID, duration, err))
		c.publishStatus(ctx, payload.JobID, storage.StatusFailed, err)
		c.upsertRecord(ctx, failedRecord(payload.JobID, duration, err))

		// Validation failures can never succeed on retry.
		var analysisErr *apperrors.AnalysisError
		if errors.As(err, &analysisErr) && analysisErr.IsValidation() {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return fmt.Errorf("analysis failed: %w", err)
	}

	c.logger.Info(fmt.Sprintf("[Job %s] Completed in %v: pages=%d, model=%s",
		payload.JobID, duration, len(resp.Pages), resp.Model))

	resultJSON, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal result: %w", marshalErr)
	}

	if c.status != nil {
		if err := c.status.PublishResult(ctx, payload.JobID, resultJSON); err != nil {
			c.logger.Warn(fmt.Sprintf("[Job %s] Failed to publish result: %v", payload.JobID, err))
		}
	}
	c.publishStatus(ctx, payload.JobID, storage.StatusCompleted, nil)
	c.upsertRecord(ctx, &storage.JobRecord{
		JobID:            payload.JobID,
		Status:           storage.StatusCompleted,
		PageCount:        len(resp.Pages),
		ProcessingTimeMs: duration.Milliseconds(),
		Result:           resultJSON,
	})

	return nil
}

func (c *Consumer) publishStatus(ctx context.Context, jobID, status string, cause error) {
	if c.status == nil {
		return
	}
	snapshot := StatusSnapshot{JobID: jobID, Status: status}
	if cause != nil {
		snapshot.Error = cause.Error()
		var analysisErr *apperrors.AnalysisError
		if errors.As(cause, &analysisErr) {
			snapshot.ErrorCode = string(analysisErr.Code)
		}
	}
	if err := c.status.PublishStatus(ctx, snapshot); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to publish status %s: %v", jobID, status, err))
	}
}

func (c *Consumer) upsertRecord(ctx context.Context, rec *storage.JobRecord) {
	if c.store == nil {
		return
	}
	if err := c.store.UpsertJob(ctx, rec); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to persist status %s: %v", rec.JobID, rec.Status, err))
	}
}

func failedRecord(jobID string, duration time.Duration, cause error) *storage.JobRecord {
	rec := &storage.JobRecord{
		JobID:            jobID,
		Status:           storage.StatusFailed,
		ProcessingTimeMs: duration.Milliseconds(),
		ErrorMessage:     cause.Error(),
	}
	var analysisErr *apperrors.AnalysisError
	if errors.As(cause, &analysisErr) {
		rec.ErrorCode = string(analysisErr.Code)
	}
	return rec
}
