package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/nexadoc/ocr-service/internal/config"
	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/engine"
	"github.com/nexadoc/ocr-service/internal/processor"
	"github.com/nexadoc/ocr-service/internal/raster"
)

type stubEngine struct {
	result interface{}
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) AnalyzeDocument(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return s.result, nil
}

func (s *stubEngine) RecognizeText(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return s.result, nil
}

func (s *stubEngine) AnalyzeLayout(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return s.result, nil
}

func (s *stubEngine) HealthCheck(ctx context.Context) error { return nil }

func newTestConsumer(t *testing.T) *Consumer {
	t.Helper()
	cfg := &config.Config{
		EngineDevice:      "cpu",
		WorkerConcurrency: 1,
		ProcessingTimeout: 60000,
		DefaultDPI:        72,
		MinDPI:            72,
		MaxDPI:            600,
		MaxFileSize:       10 << 20,
	}
	eng := &stubEngine{result: map[string]interface{}{"words": []interface{}{}}}
	service := processor.NewAnalysisService(cfg, eng, dispatch.New(1))

	consumer, err := NewConsumer(&ConsumerConfig{
		RedisURL:    "redis://localhost:6379",
		QueueName:   "docanalysis:jobs",
		Concurrency: 1,
	}, service, nil, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	return consumer
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 20, 20))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func analyzeTask(t *testing.T, payload JobPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return asynq.NewTask(TaskTypeAnalyze, data)
}

func TestHandleAnalyze(t *testing.T) {
	c := newTestConsumer(t)

	task := analyzeTask(t, JobPayload{
		JobID:      "job-1",
		Filename:   "doc.png",
		MimeType:   "image/png",
		FileBuffer: pngBytes(t),
		Mode:       "ocr",
	})

	if err := c.handleAnalyze(context.Background(), task); err != nil {
		t.Fatalf("handleAnalyze() error = %v", err)
	}
}

func TestHandleAnalyzeBadPayload(t *testing.T) {
	c := newTestConsumer(t)

	task := asynq.NewTask(TaskTypeAnalyze, []byte("not json"))
	if err := c.handleAnalyze(context.Background(), task); err == nil {
		t.Fatal("expected error for malformed payload")
	}

	task = analyzeTask(t, JobPayload{Filename: "doc.png"})
	if err := c.handleAnalyze(context.Background(), task); err == nil {
		t.Fatal("expected error for missing jobId")
	}
}

func TestHandleAnalyzeValidationSkipsRetry(t *testing.T) {
	c := newTestConsumer(t)

	// Unsupported upload type: retrying cannot fix the input.
	task := analyzeTask(t, JobPayload{
		JobID:      "job-2",
		Filename:   "notes.txt",
		MimeType:   "text/plain",
		FileBuffer: []byte("plain text"),
		Mode:       "ocr",
	})

	err := c.handleAnalyze(context.Background(), task)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("validation failure should skip retries, got %v", err)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	if _, err := NewConsumer(&ConsumerConfig{QueueName: "q", Concurrency: 1}, nil, nil, nil); err == nil {
		t.Error("missing RedisURL must be rejected")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", Concurrency: 1}, nil, nil, nil); err == nil {
		t.Error("missing QueueName must be rejected")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "q", Concurrency: 1}, nil, nil, nil); err == nil {
		t.Error("missing service must be rejected")
	}
}
