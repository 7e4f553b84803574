package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/types"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "data/output/images/alice_page_1.png", NormalizePath("/app/data/output/images/alice_page_1.png"))
	assert.Equal(t, "data/output/images/alice_page_1.png", NormalizePath("data/output/images/alice_page_1.png"))
	assert.Equal(t, "/srv/other.png", NormalizePath("/srv/other.png"))
}

func TestProcessPDF(t *testing.T) {
	var gotLanguage, gotDPI string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ocr/process_pdf", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))

		gotLanguage = r.FormValue("language")
		gotDPI = r.FormValue("dpi")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "alice.pdf", header.Filename)

		json.NewEncoder(w).Encode(types.OCRResult{
			FileID:     "alice",
			PageCount:  2,
			ImagePaths: []string{"/app/data/output/images/alice_page_1.png", "/app/data/output/images/alice_page_2.png"},
			PageResults: []types.PageResult{
				{TextElements: []types.TextElement{{Text: "Alice", Confidence: 0.9}}, FullText: "Alice", TextCount: 1},
				{TextElements: []types.TextElement{{Text: "Engineer", Confidence: 0.82}}, FullText: "Engineer", TextCount: 1},
			},
			CombinedText: "Alice Engineer",
		})
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "alice.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 fake"), 0644))

	c := NewClient(srv.URL, 0, nil)
	result, err := c.ProcessPDF(context.Background(), pdfPath, Options{Language: "en", DPI: 300, MinConfidence: 0.5})
	require.NoError(t, err)

	assert.Equal(t, "en", gotLanguage)
	assert.Equal(t, "300", gotDPI)
	assert.Equal(t, 2, result.PageCount)
	// Container-absolute paths come back repo-relative.
	assert.Equal(t, "data/output/images/alice_page_1.png", result.ImagePaths[0])
	assert.InDelta(t, 0.86, result.MeanConfidence(), 0.0001)
}

func TestProcessPDFServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "alice.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF"), 0644))

	c := NewClient(srv.URL, 0, nil)
	_, err := c.ProcessPDF(context.Background(), pdfPath, Options{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindServiceUnavailable))
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		}))
		defer srv.Close()

		assert.NoError(t, NewClient(srv.URL, 0, nil).Health(context.Background()))
	})

	t.Run("degraded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
		}))
		defer srv.Close()

		err := NewClient(srv.URL, 0, nil).Health(context.Background())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindServiceUnavailable))
	})

	t.Run("unreachable", func(t *testing.T) {
		err := NewClient("http://127.0.0.1:1", 0, nil).Health(context.Background())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindServiceUnavailable))
	})
}
