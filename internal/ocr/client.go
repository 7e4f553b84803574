// Package ocr wraps the external OCR service. The service rasterizes and
// reads PDFs; this client uploads documents, checks health, and normalizes
// the container-absolute paths the service reports.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"skilllab/internal/types"
)

// Options are the per-request OCR parameters.
type Options struct {
	UseGPU        bool
	Language      string
	MinConfidence float64
	DPI           int
}

// Client talks to the OCR service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewClient creates an OCR service client. timeout bounds one document.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("ocr"),
	}
}

// ProcessPDF uploads one PDF and returns its OCR result. Image paths in the
// result are normalized to repo-relative form.
func (c *Client) ProcessPDF(ctx context.Context, pdfPath string, opts Options) (*types.OCRResult, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to open %s", pdfPath)
	}
	defer f.Close()

	return c.upload(ctx, "/v1/ocr/process_pdf", filepath.Base(pdfPath), f, opts)
}

// ProcessImage uploads one page image and returns its OCR result.
func (c *Client) ProcessImage(ctx context.Context, imagePath string, opts Options) (*types.OCRResult, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to open %s", imagePath)
	}
	defer f.Close()

	return c.upload(ctx, "/v1/ocr/process_image", filepath.Base(imagePath), f, opts)
}

func (c *Client) upload(ctx context.Context, endpoint, filename string, content io.Reader, opts Options) (*types.OCRResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to read %s", filename)
	}

	fields := map[string]string{
		"use_gpu":        strconv.FormatBool(opts.UseGPU),
		"language":       opts.Language,
		"min_confidence": strconv.FormatFloat(opts.MinConfidence, 'f', -1, 64),
		"dpi":            strconv.Itoa(opts.DPI),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Wrap(types.KindTimeout, err, "ocr request for %s timed out", filename)
		}
		return nil, types.Wrap(types.KindServiceUnavailable, err, "ocr request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, types.E(types.KindServiceUnavailable,
			"ocr service returned status %d: %s", resp.StatusCode, string(data))
	}

	var result types.OCRResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.Wrap(types.KindSchemaFailure, err, "failed to decode ocr response")
	}

	for i, p := range result.ImagePaths {
		result.ImagePaths[i] = NormalizePath(p)
	}

	c.log.Debug("ocr processed document",
		zap.String("file", filename),
		zap.Int("pages", result.PageCount),
		zap.Duration("elapsed", time.Since(start)))
	return &result, nil
}

// healthTimeout bounds health-check calls.
const healthTimeout = 5 * time.Second

// Health probes GET /health and verifies the service reports healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Wrap(types.KindServiceUnavailable, err, "ocr health check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.E(types.KindServiceUnavailable, "ocr health returned status %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return types.Wrap(types.KindSchemaFailure, err, "failed to decode health response")
	}
	if health.Status != "healthy" {
		return types.E(types.KindServiceUnavailable, "ocr service reports %q", health.Status)
	}
	return nil
}

// NormalizePath strips the container-absolute /app/ prefix the service
// reports, yielding repo-relative paths.
func NormalizePath(p string) string {
	if strings.HasPrefix(p, "/app/") {
		return strings.TrimPrefix(p, "/app/")
	}
	return p
}
