package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skilllab/internal/types"
)

func readValidated(path string) (*types.ValidatedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to read %s", path)
	}
	var doc types.ValidatedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.Wrap(types.KindSchemaFailure, err, "malformed validated record %s", path)
	}
	if doc.DocID == "" {
		doc.DocID = strings.TrimSuffix(filepath.Base(path), "_validated.json")
	}
	return &doc, nil
}

func readOCRResult(path string) (*types.OCRResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to read %s", path)
	}
	var result types.OCRResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, types.Wrap(types.KindSchemaFailure, err, "malformed ocr result %s", path)
	}
	return &result, nil
}

// Detail strings mirror the quality policy's wording so the issue diff in
// Sync keys identically regardless of which side raised the issue first.
func confidenceDetails(confidence float64) string {
	return fmt.Sprintf("Confidence below threshold: %.1f%%", confidence)
}

func coverageDetails(coverage float64) string {
	return fmt.Sprintf("Coverage %.1f%% below threshold after max attempts", coverage*100)
}

func correctionDetails(count int) string {
	return fmt.Sprintf("Document required %d correction attempts", count)
}
