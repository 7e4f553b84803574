package steps

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"skilllab/internal/config"
	"skilllab/internal/ocr"
	"skilllab/internal/pipeline"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// OCRProcessor is the slice of the OCR client the extract step needs.
type OCRProcessor interface {
	ProcessPDF(ctx context.Context, pdfPath string, opts ocr.Options) (*types.OCRResult, error)
}

// Extract enumerates input PDFs, runs them through the OCR collaborator,
// registers each document, and persists the OCR result artifact.
type Extract struct {
	Metrics *store.MetricsStore
	OCR     OCRProcessor
	Log     *zap.Logger
}

func (s *Extract) Name() string { return "ocr" }

func (s *Extract) Execute(ctx context.Context, pctx *pipeline.Context) error {
	log := s.logger()
	tel := &telemetry{metrics: s.Metrics}
	tel.recordStart(pctx.RunID, s.Name())

	cfg := pctx.Config
	pdfs, err := listArtifacts(cfg.Paths.InputDir, "*.pdf")
	if err != nil {
		tel.recordCompletion(ctx, 0, true, err.Error())
		return err
	}
	if limit := cfg.Pipeline.Limit; limit > 0 && len(pdfs) > limit {
		pdfs = pdfs[:limit]
	}

	var counts stepCounts
	var mu sync.Mutex
	confidenceSum := 0.0
	err = forEachDocument(ctx, cfg.Pipeline.Workers, pdfs,
		func(ctx context.Context, pdfPath string) error {
			docID := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
			confidence, err := s.processOne(ctx, cfg, docID, pdfPath)
			if err != nil {
				return err
			}
			mu.Lock()
			confidenceSum += confidence
			mu.Unlock()
			counts.succeed()
			log.Info("document extracted", zap.String("doc_id", docID))
			return nil
		},
		func(pdfPath string, err error) {
			counts.fail()
			pctx.AddError(s.Name(), "%s: %v", filepath.Base(pdfPath), err)
			log.Warn("extraction failed", zap.String("pdf", pdfPath), zap.Error(err))

			docID := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
			if flagErr := s.Metrics.FlagForReview(docID, types.IssueOCRExtractionFailure, err.Error()); flagErr != nil {
				log.Warn("failed to record extraction failure",
					zap.String("doc_id", docID), zap.Error(flagErr))
			}
		})

	summary := counts.summary(len(pdfs))
	publish(pctx, s.Name(), summary)
	if s.Metrics != nil && summary.Succeeded > 0 {
		avg := confidenceSum / float64(summary.Succeeded)
		if merr := s.Metrics.RecordMetric("quality", "avg_confidence", avg, ""); merr != nil {
			log.Warn("failed to record average confidence", zap.Error(merr))
		}
	}
	tel.recordCompletion(ctx, summary.Succeeded, false, "")
	if err != nil && ctx.Err() != nil {
		return nil // cancelled between documents; run status reflects it
	}
	return err
}

func (s *Extract) processOne(ctx context.Context, cfg *config.Config, docID, pdfPath string) (float64, error) {
	if err := s.Metrics.RegisterDocument(docID, filepath.Base(pdfPath)); err != nil {
		return 0, err
	}

	result, err := s.OCR.ProcessPDF(ctx, pdfPath, ocr.Options{
		UseGPU:        cfg.OCR.UseGPU,
		Language:      cfg.OCR.Language,
		MinConfidence: cfg.OCR.MinConfidence,
		DPI:           cfg.OCR.DPI,
	})
	if err != nil {
		return 0, err
	}
	if result.FileID == "" {
		result.FileID = docID
	}

	artifact := filepath.Join(cfg.Paths.OCRResultsDir(), docID+"_ocr.json")
	if err := writeJSON(artifact, result); err != nil {
		return 0, err
	}

	if err := s.Metrics.SetStatus(docID, types.StatusOCRComplete); err != nil {
		return 0, err
	}
	confidence := result.MeanConfidence() * 100
	return confidence, s.Metrics.SetConfidence(docID, &confidence, nil)
}

func (s *Extract) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.Named("extract")
}
