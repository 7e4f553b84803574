package steps

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"skilllab/internal/config"
	"skilllab/internal/pipeline"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// RecordExtractor is the slice of the structure collaborator the structure
// and validate steps need.
type RecordExtractor interface {
	GenerateRecord(ctx context.Context, sourceText string) (map[string]any, error)
	Regenerate(ctx context.Context, record map[string]any, sourceText string, problems []string) (map[string]any, error)
}

// Structure turns OCR results into candidate resume records via the
// structure collaborator and scores their completeness.
type Structure struct {
	Metrics *store.MetricsStore
	LLM     RecordExtractor
	Log     *zap.Logger
}

func (s *Structure) Name() string { return "json" }

func (s *Structure) Execute(ctx context.Context, pctx *pipeline.Context) error {
	log := s.logger()
	tel := &telemetry{metrics: s.Metrics}
	tel.recordStart(pctx.RunID, s.Name())

	cfg := pctx.Config
	artifacts, err := listArtifacts(cfg.Paths.OCRResultsDir(), "*_ocr.json")
	if err != nil {
		tel.recordCompletion(ctx, 0, true, err.Error())
		return err
	}

	var counts stepCounts
	err = forEachDocument(ctx, cfg.Pipeline.Workers, artifacts,
		func(ctx context.Context, artifact string) error {
			docID := docIDFromPath(artifact, "_ocr.json")

			out := filepath.Join(cfg.Paths.JSONResultsDir(), docID+"_structured.json")
			if _, statErr := os.Stat(out); statErr == nil {
				counts.skip()
				log.Debug("structured output exists, skipping", zap.String("doc_id", docID))
				return nil
			}

			if err := s.processOne(ctx, cfg, docID, artifact, out); err != nil {
				return err
			}
			counts.succeed()
			log.Info("document structured", zap.String("doc_id", docID))
			return nil
		},
		func(artifact string, err error) {
			counts.fail()
			docID := docIDFromPath(artifact, "_ocr.json")
			pctx.AddError(s.Name(), "%s: %v", docID, err)
			log.Warn("structuring failed", zap.String("doc_id", docID), zap.Error(err))
		})

	summary := counts.summary(len(artifacts))
	publish(pctx, s.Name(), summary)
	tel.recordCompletion(ctx, summary.Succeeded, false, "")
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Structure) processOne(ctx context.Context, cfg *config.Config, docID, artifact, out string) error {
	var ocrResult types.OCRResult
	if err := readJSON(artifact, &ocrResult); err != nil {
		return err
	}

	record, err := s.LLM.GenerateRecord(ctx, ocrResult.CombinedText)
	if err != nil {
		return err
	}

	confidence := CompletenessScore(record)
	doc := types.StructuredDocument{
		DocID:      docID,
		Record:     record,
		Confidence: confidence,
	}
	if err := writeJSON(out, doc); err != nil {
		return err
	}

	if err := s.Metrics.SetStatus(docID, types.StatusJSONDone); err != nil {
		return err
	}
	return s.Metrics.SetConfidence(docID, nil, &confidence)
}

// CompletenessScore rates a record on a 0-100 scale: half for the four
// critical fields, a quarter for skill count (saturating at 10), a quarter
// for experience count (saturating at 4).
func CompletenessScore(record map[string]any) float64 {
	critical := 0.0
	for _, key := range []string{"Name", "Email", "Phone", "Current_Position"} {
		if v, ok := record[key]; ok && v != nil {
			if s, ok := v.(string); !ok || s != "" {
				critical++
			}
		}
	}

	skills := listLen(record["Skills"])
	experience := listLen(record["Experience"])

	score := 0.5*(critical/4) +
		0.25*min(1, float64(skills)/10) +
		0.25*min(1, float64(experience)/4)
	return score * 100
}

func listLen(v any) int {
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}

func (s *Structure) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.Named("structure")
}
