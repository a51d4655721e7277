package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/nexadoc/ocr-service/internal/config"
	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	"github.com/nexadoc/ocr-service/internal/processor"
	"github.com/nexadoc/ocr-service/internal/raster"
)

type stubEngine struct {
	result    interface{}
	healthErr error
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

func (s *stubEngine) HealthCheck(ctx context.Context) error { return s.healthErr }

func newTestServer(eng engine.Engine) *Server {
	cfg := &config.Config{
		Port:              8000,
		EngineDevice:      "cpu",
		WorkerConcurrency: 1,
		ProcessingTimeout: 60000,
		DefaultDPI:        72,
		MinDPI:            72,
		MaxDPI:            600,
		MaxFileSize:       10 << 20,
	}
	service := processor.NewAnalysisService(cfg, eng, dispatch.New(1))
	return NewServer(cfg, service, eng)
}

// multipartUpload builds a form with a PNG file part and optional extra
// fields.
func multipartUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 50, 50))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="doc.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create file part: %v", err)
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func ocrResult() interface{} {
	return map[string]interface{}{
		"words": []interface{}{
			map[string]interface{}{
				"points": []interface{}{
					[]interface{}{5.0, 5.0},
					[]interface{}{25.0, 5.0},
					[]interface{}{25.0, 15.0},
					[]interface{}{5.0, 15.0},
				},
				"content":   "hello",
				"rec_score": 0.9,
			},
		},
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(&stubEngine{result: ocrResult()})

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/ocr/ocr-only", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp document.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Pages) != 1 || len(resp.Pages[0].Blocks) != 1 {
		t.Errorf("unexpected pages: %+v", resp.Pages)
	}
	if resp.Model != "stub-ocr" {
		t.Errorf("model = %q, want %q", resp.Model, "stub-ocr")
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	srv := newTestServer(&stubEngine{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("dpi", "300")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ocr", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error JSON: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", resp.Code)
	}
	if resp.RequestID == "" {
		t.Error("error body must carry a request id")
	}
}

func TestAnalyzeInvalidDPI(t *testing.T) {
	srv := newTestServer(&stubEngine{result: ocrResult()})

	body, contentType := multipartUpload(t, map[string]string{"dpi": "12"})
	req := httptest.NewRequest(http.MethodPost, "/ocr", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "INVALID_DPI" {
		t.Errorf("code = %q, want INVALID_DPI", resp.Code)
	}
}

func TestTileRouteRequiresTiles(t *testing.T) {
	srv := newTestServer(&stubEngine{result: ocrResult()})

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/ocr/ocr-only/tiles", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "MALFORMED_TILE_SPEC" {
		t.Errorf("code = %q, want MALFORMED_TILE_SPEC", resp.Code)
	}
}

func TestTileRoute(t *testing.T) {
	srv := newTestServer(&stubEngine{result: ocrResult()})

	tilesJSON := `[{"pageIndex": 0, "bboxNormalized": {"x": 0, "y": 0, "w": 1, "h": 1}}]`
	body, contentType := multipartUpload(t, map[string]string{"tiles": tilesJSON})
	req := httptest.NewRequest(http.MethodPost, "/ocr/ocr-only/tiles", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp document.AnalysisResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Model != "stub-ocr-tiles" {
		t.Errorf("model = %q, want %q", resp.Model, "stub-ocr-tiles")
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/ocr", nil)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.Engine != "stub" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(&stubEngine{healthErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
