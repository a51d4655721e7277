/**
 * PostgreSQL job store
 *
 * Persists analysis job records for the async path. The worker upserts on
 * every status transition so a record exists even when the submitting side
 * never created one.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// JobStatus values written to the status column.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PostgresClient handles job record persistence.
type PostgresClient struct {
	db *sql.DB
}

// JobRecord is one row of the analysis job table.
type JobRecord struct {
	JobID            string
	Filename         string
	MimeType         string
	FileSize         int64
	Mode             string
	Status           string
	PageCount        int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Result           json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPostgresClient opens a connection pool and verifies connectivity.
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpsertJob writes one status transition. Fields left at their zero value
// keep whatever an earlier transition wrote.
func (p *PostgresClient) UpsertJob(ctx context.Context, rec *JobRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO ocr.analysis_jobs (
			id, filename, mime_type, file_size, mode,
			status, page_count, processing_time_ms,
			error_code, error_message, result,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown'),
			COALESCE(NULLIF($3, ''), 'application/octet-stream'),
			COALESCE($4, 0), COALESCE(NULLIF($5, ''), 'full'),
			$6, NULLIF($7, 0), NULLIF($8, 0),
			NULLIF($9, ''), NULLIF($10, ''), $11::jsonb,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			page_count = COALESCE(NULLIF(EXCLUDED.page_count, 0), ocr.analysis_jobs.page_count),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), ocr.analysis_jobs.processing_time_ms),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			result = COALESCE(EXCLUDED.result, ocr.analysis_jobs.result),
			filename = COALESCE(EXCLUDED.filename, ocr.analysis_jobs.filename),
			mime_type = COALESCE(EXCLUDED.mime_type, ocr.analysis_jobs.mime_type),
			file_size = COALESCE(NULLIF(EXCLUDED.file_size, 0), ocr.analysis_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	var result interface{}
	if len(rec.Result) > 0 {
		result = []byte(rec.Result)
	}

	var returnedID string
	err := p.db.QueryRowContext(
		ctx,
		query,
		rec.JobID,
		rec.Filename,
		rec.MimeType,
		rec.FileSize,
		rec.Mode,
		rec.Status,
		rec.PageCount,
		rec.ProcessingTimeMs,
		rec.ErrorCode,
		rec.ErrorMessage,
		result,
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to upsert job (job=%s, status=%s): %w", rec.JobID, rec.Status, err)
	}

	return nil
}

// GetJob retrieves one job record by ID.
func (p *PostgresClient) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, filename, mime_type, file_size, mode,
			status, page_count, processing_time_ms,
			error_code, error_message, result,
			created_at, updated_at
		FROM ocr.analysis_jobs
		WHERE id = $1::uuid
	`

	var (
		rec              JobRecord
		fileSize         sql.NullInt64
		pageCount        sql.NullInt64
		processingTimeMs sql.NullInt64
		errorCode        sql.NullString
		errorMessage     sql.NullString
		resultJSON       []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.JobID, &rec.Filename, &rec.MimeType, &fileSize, &rec.Mode,
		&rec.Status, &pageCount, &processingTimeMs,
		&errorCode, &errorMessage, &resultJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.FileSize = fileSize.Int64
	rec.PageCount = int(pageCount.Int64)
	rec.ProcessingTimeMs = processingTimeMs.Int64
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String
	rec.Result = resultJSON

	return &rec, nil
}

// Ping checks database connectivity.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
