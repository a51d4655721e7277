package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the document analysis service
 *
 * Every failure carries enough context (request ID, page index, tile index)
 * to let the caller correlate it to its input.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Validation errors (map to HTTP 400)
	ErrorInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrorInvalidDPI        ErrorCode = "INVALID_DPI"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorMalformedTileSpec ErrorCode = "MALFORMED_TILE_SPEC"

	// Processing errors (map to HTTP 500)
	ErrorEngineInvocation  ErrorCode = "ENGINE_INVOCATION_FAILED"
	ErrorRasterFailed      ErrorCode = "RASTER_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors (async job path only)
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// AnalysisError represents a structured analysis failure.
// PageIndex and TileIndex are -1 when the failure is not tied to a
// specific page or tile.
type AnalysisError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	PageIndex int
	TileIndex int
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *AnalysisError) Error() string {
	loc := ""
	if e.PageIndex >= 0 {
		loc = fmt.Sprintf(" (page %d", e.PageIndex)
		if e.TileIndex >= 0 {
			loc += fmt.Sprintf(", tile %d", e.TileIndex)
		}
		loc += ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s%s (caused by: %v)", e.Code, e.Message, loc, e.Cause)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Message, loc)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether the error is a request validation failure
// rather than a processing failure.
func (e *AnalysisError) IsValidation() bool {
	switch e.Code {
	case ErrorInvalidRequest, ErrorInvalidDPI, ErrorUnsupportedFormat, ErrorMalformedTileSpec:
		return true
	}
	return false
}

// Factory functions for common errors

func NewInvalidDPIError(requestID string, dpi, minDPI, maxDPI int) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorInvalidDPI,
		Message:   fmt.Sprintf("DPI must be between %d and %d, got %d", minDPI, maxDPI, dpi),
		RequestID: requestID,
		PageIndex: -1,
		TileIndex: -1,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"dpi": dpi,
		},
	}
}

func NewUnsupportedFormatError(requestID string, mimeType string) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s. Allowed: PDF, PNG, JPEG", mimeType),
		RequestID: requestID,
		PageIndex: -1,
		TileIndex: -1,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewMalformedTileSpecError(requestID string, pageIndex, tileIndex int, reason string) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorMalformedTileSpec,
		Message:   fmt.Sprintf("Malformed tile spec: %s", reason),
		RequestID: requestID,
		PageIndex: pageIndex,
		TileIndex: tileIndex,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

func NewEngineInvocationError(requestID string, pageIndex, tileIndex int, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorEngineInvocation,
		Message:   "Engine invocation failed",
		RequestID: requestID,
		PageIndex: pageIndex,
		TileIndex: tileIndex,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRasterFailedError(requestID string, pageIndex int, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorRasterFailed,
		Message:   "Failed to rasterize document",
		RequestID: requestID,
		PageIndex: pageIndex,
		TileIndex: -1,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(requestID string, duration time.Duration, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		RequestID: requestID,
		PageIndex: -1,
		TileIndex: -1,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(requestID string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store job results",
		RequestID: requestID,
		PageIndex: -1,
		TileIndex: -1,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts the error to a map for job status storage
func (e *AnalysisError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.PageIndex >= 0 {
		result["page_index"] = e.PageIndex
	}
	if e.TileIndex >= 0 {
		result["tile_index"] = e.TileIndex
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
