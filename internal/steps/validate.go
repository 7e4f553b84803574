package steps

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"skilllab/internal/config"
	"skilllab/internal/correction"
	"skilllab/internal/pipeline"
	"skilllab/internal/quality"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// Validate runs the auto-correction loop over each structured record and
// persists the outcome to the validated-json area. Each correction attempt
// bumps the document's correction counter so the quality rules see it.
type Validate struct {
	Metrics *store.MetricsStore
	LLM     RecordExtractor
	Log     *zap.Logger
}

func (s *Validate) Name() string { return "correction" }

func (s *Validate) Execute(ctx context.Context, pctx *pipeline.Context) error {
	log := s.logger()
	tel := &telemetry{metrics: s.Metrics}
	tel.recordStart(pctx.RunID, s.Name())

	cfg := pctx.Config
	artifacts, err := listArtifacts(cfg.Paths.JSONResultsDir(), "*_structured.json")
	if err != nil {
		tel.recordCompletion(ctx, 0, true, err.Error())
		return err
	}

	var counts stepCounts
	var mu sync.Mutex
	validCount := 0
	err = forEachDocument(ctx, cfg.Pipeline.Workers, artifacts,
		func(ctx context.Context, artifact string) error {
			docID := docIDFromPath(artifact, "_structured.json")
			out := filepath.Join(cfg.Paths.ValidatedJSONDir(), docID+"_validated.json")
			if _, statErr := os.Stat(out); statErr == nil {
				counts.skip()
				log.Debug("validated output exists, skipping", zap.String("doc_id", docID))
				return nil
			}

			valid, err := s.processOne(ctx, cfg, docID, artifact, out)
			if err != nil {
				return err
			}
			if valid {
				mu.Lock()
				validCount++
				mu.Unlock()
			}
			counts.succeed()
			return nil
		},
		func(artifact string, err error) {
			counts.fail()
			docID := docIDFromPath(artifact, "_structured.json")
			pctx.AddError(s.Name(), "%s: %v", docID, err)
			log.Warn("validation failed", zap.String("doc_id", docID), zap.Error(err))
		})

	summary := counts.summary(len(artifacts))
	publish(pctx, s.Name(), summary)
	if s.Metrics != nil && summary.Succeeded > 0 {
		rate := float64(validCount) / float64(summary.Succeeded)
		if merr := s.Metrics.RecordMetric("pipeline", "validation_rate", rate, ""); merr != nil {
			log.Warn("failed to record validation rate", zap.Error(merr))
		}
	}
	tel.recordCompletion(ctx, summary.Succeeded, false, "")
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Validate) processOne(ctx context.Context, cfg *config.Config, docID, artifact, out string) (bool, error) {
	var structured types.StructuredDocument
	if err := readJSON(artifact, &structured); err != nil {
		return false, err
	}

	var ocrResult types.OCRResult
	sourceText := ""
	var imagePaths []string
	ocrArtifact := filepath.Join(cfg.Paths.OCRResultsDir(), docID+"_ocr.json")
	if err := readJSON(ocrArtifact, &ocrResult); err == nil {
		sourceText = ocrResult.CombinedText
		imagePaths = ocrResult.ImagePaths
	}

	corrector := correction.NewCorrector(
		s.LLM,
		cfg.Correction.MaxCorrectionAttempts,
		cfg.Correction.MinCoverageThreshold,
		s.Log,
	)
	corrector.OnAttempt = func(int) {
		if _, err := s.Metrics.BumpCorrectionCount(docID); err != nil {
			s.logger().Warn("failed to bump correction count",
				zap.String("doc_id", docID), zap.Error(err))
		}
	}

	outcome, err := corrector.Run(ctx, sourceText, structured.Record)
	if err != nil {
		return false, err
	}

	validated := types.ValidatedDocument{
		DocID:  docID,
		Record: outcome.Record,
		Validation: types.ValidationInfo{
			IsValid:            outcome.Valid,
			Coverage:           outcome.Coverage,
			CorrectionAttempts: outcome.Attempts,
			StructureValid:     outcome.StructureValid,
		},
		ImagePaths: imagePaths,
	}
	if err := writeJSON(out, validated); err != nil {
		return false, err
	}

	if outcome.Valid {
		if err := s.Metrics.SetStatus(docID, types.StatusValidated); err != nil {
			return false, err
		}
	}

	structValid := outcome.StructureValid
	coverage := outcome.Coverage
	err = s.Metrics.EvaluateOutcome(docID, quality.Input{
		Record:            outcome.Record,
		SourceText:        sourceText,
		StructureValid:    &structValid,
		Coverage:          &coverage,
		AttemptsExhausted: !outcome.Valid && outcome.Attempts >= corrector.MaxAttempts,
	})
	return outcome.Valid, err
}

func (s *Validate) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.Named("validate")
}
