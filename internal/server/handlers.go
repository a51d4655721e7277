/**
 * Analysis request handlers
 *
 * All analysis routes share one handler parameterized by mode and tile
 * requirement. The handler parses the multipart form, assigns a request ID,
 * delegates to the service and maps failures to status codes: validation
 * errors are the client's fault (400), everything else is ours (500).
 */

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	apperrors "github.com/nexadoc/ocr-service/internal/errors"
	"github.com/nexadoc/ocr-service/internal/processor"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	RequestID string                 `json:"requestId"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (s *Server) analyzeHandler(mode engine.Mode, requireTiles bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}

		requestID := uuid.New().String()

		req, err := s.parseAnalysisRequest(r, requestID, mode, requireTiles)
		if err != nil {
			s.writeError(w, requestID, err)
			return
		}

		resp, err := s.service.Analyze(r.Context(), *req)
		if err != nil {
			s.writeError(w, requestID, err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// parseAnalysisRequest reads the multipart form into an AnalysisRequest.
// Form fields: file (required), dpi, device, lite, tiles (required on tile
// routes).
func (s *Server) parseAnalysisRequest(
	r *http.Request,
	requestID string,
	mode engine.Mode,
	requireTiles bool,
) (*processor.AnalysisRequest, error) {
	if err := r.ParseMultipartForm(s.config.MaxFileSize); err != nil {
		return nil, badRequest(requestID, fmt.Sprintf("invalid multipart form: %v", err))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest(requestID, "missing required form field 'file'")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxFileSize+1))
	if err != nil {
		return nil, badRequest(requestID, fmt.Sprintf("failed to read upload: %v", err))
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return nil, badRequest(requestID, fmt.Sprintf("file exceeds maximum size of %d bytes", s.config.MaxFileSize))
	}

	req := &processor.AnalysisRequest{
		RequestID:   requestID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Mode:        mode,
		Device:      r.FormValue("device"),
		Lite:        r.FormValue("lite") == "true",
	}

	if raw := r.FormValue("dpi"); raw != "" {
		dpi, err := strconv.Atoi(raw)
		if err != nil {
			return nil, badRequest(requestID, fmt.Sprintf("dpi %q is not an integer", raw))
		}
		req.DPI = dpi
	}

	if raw := r.FormValue("tiles"); raw != "" {
		var specs []document.TileSpec
		if err := json.Unmarshal([]byte(raw), &specs); err != nil {
			return nil, apperrors.NewMalformedTileSpecError(requestID, -1, -1,
				fmt.Sprintf("tiles field is not valid JSON: %v", err))
		}
		req.Tiles = specs
	}

	if requireTiles && len(req.Tiles) == 0 {
		return nil, apperrors.NewMalformedTileSpecError(requestID, -1, -1,
			"tile routes require a non-empty 'tiles' form field")
	}

	return req, nil
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	var analysisErr *apperrors.AnalysisError
	if errors.As(err, &analysisErr) {
		status := http.StatusInternalServerError
		if analysisErr.IsValidation() {
			status = http.StatusBadRequest
		}
		s.logger.Error(fmt.Sprintf("[Request %s] %s", requestID, analysisErr.Error()))
		writeJSON(w, status, errorResponse{
			Error:     analysisErr.Message,
			Code:      string(analysisErr.Code),
			RequestID: analysisErr.RequestID,
			Details:   analysisErr.Details,
		})
		return
	}

	s.logger.Error(fmt.Sprintf("[Request %s] Unhandled error: %v", requestID, err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:     "internal server error",
		Code:      "INTERNAL",
		RequestID: requestID,
	})
}

// badRequest builds a generic 400 for form-level problems that precede
// pipeline validation.
func badRequest(requestID, message string) *apperrors.AnalysisError {
	return &apperrors.AnalysisError{
		Code:      apperrors.ErrorInvalidRequest,
		Message:   message,
		RequestID: requestID,
		PageIndex: -1,
		TileIndex: -1,
	}
}
