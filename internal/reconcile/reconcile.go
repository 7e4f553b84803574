// Package reconcile keeps the metrics store, the review store, and the
// filesystem artifact areas coherent. Every procedure here is idempotent:
// running it twice leaves the same state as running it once.
package reconcile

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"skilllab/internal/store"
	"skilllab/internal/types"
)

// Reconciler mirrors flagged documents into the review store and terminal
// review verdicts back into the metrics store.
type Reconciler struct {
	Metrics     *store.MetricsStore
	Review      *store.ReviewStore
	MaxAttempts int
	Log         *zap.Logger
}

// New builds a reconciler with the default correction-attempt bound.
func New(metrics *store.MetricsStore, review *store.ReviewStore, maxAttempts int, log *zap.Logger) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		Metrics:     metrics,
		Review:      review,
		MaxAttempts: maxAttempts,
		Log:         log.Named("reconcile"),
	}
}

// ImportStats summarizes one filesystem import.
type ImportStats struct {
	Scanned  int
	Imported int
}

// ImportFromFilesystem derives review-store rows from artifacts on disk:
// failed validated-json files and low-confidence OCR results become flagged
// documents. Documents already known to the review store are left alone.
func (r *Reconciler) ImportFromFilesystem(validatedDir, ocrResultsDir string) (*ImportStats, error) {
	stats := &ImportStats{}

	validated, err := filepath.Glob(filepath.Join(validatedDir, "*_validated.json"))
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to list %s", validatedDir)
	}
	for _, path := range validated {
		stats.Scanned++
		imported, err := r.importValidated(path)
		if err != nil {
			return stats, err
		}
		if imported {
			stats.Imported++
		}
	}

	ocrResults, err := filepath.Glob(filepath.Join(ocrResultsDir, "*_ocr.json"))
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to list %s", ocrResultsDir)
	}
	for _, path := range ocrResults {
		stats.Scanned++
		imported, err := r.importOCRResult(path)
		if err != nil {
			return stats, err
		}
		if imported {
			stats.Imported++
		}
	}

	r.Log.Info("filesystem import finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("imported", stats.Imported))
	return stats, nil
}

func (r *Reconciler) importValidated(path string) (bool, error) {
	doc, err := readValidated(path)
	if err != nil {
		return false, err
	}
	if _, err := r.Review.GetDocument(doc.DocID); err == nil {
		return false, nil
	} else if !types.IsKind(err, types.KindUnknownDocument) {
		return false, err
	}

	failed := !doc.Validation.IsValid
	exhausted := doc.Validation.CorrectionAttempts >= r.MaxAttempts
	if !failed && !exhausted {
		return false, nil
	}

	row := &types.Document{
		ID:               doc.DocID,
		Filename:         doc.DocID + ".pdf",
		Status:           types.StatusJSONDone,
		CorrectionCount:  doc.Validation.CorrectionAttempts,
		FlaggedForReview: true,
		ReviewStatus:     types.ReviewPending,
	}
	if err := r.Review.UpsertDocumentRow(row); err != nil {
		return false, err
	}

	if failed {
		details := coverageDetails(doc.Validation.Coverage)
		if _, err := r.Review.AddIssueIfAbsent(doc.DocID, types.IssueValidationFailure, details); err != nil {
			return false, err
		}
	}
	if exhausted {
		details := correctionDetails(doc.Validation.CorrectionAttempts)
		if _, err := r.Review.AddIssueIfAbsent(doc.DocID, types.IssueMultipleCorrections, details); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Reconciler) importOCRResult(path string) (bool, error) {
	docID := strings.TrimSuffix(filepath.Base(path), "_ocr.json")
	if _, err := r.Review.GetDocument(docID); err == nil {
		return false, nil
	} else if !types.IsKind(err, types.KindUnknownDocument) {
		return false, err
	}

	result, err := readOCRResult(path)
	if err != nil {
		return false, err
	}
	confidence := result.MeanConfidence() * 100
	if confidence >= 75 {
		return false, nil
	}

	row := &types.Document{
		ID:               docID,
		Filename:         docID + ".pdf",
		Status:           types.StatusOCRComplete,
		OCRConfidence:    confidence,
		FlaggedForReview: true,
		ReviewStatus:     types.ReviewPending,
	}
	if err := r.Review.UpsertDocumentRow(row); err != nil {
		return false, err
	}
	if _, err := r.Review.AddIssueIfAbsent(docID, types.IssueLowOCRConfidence, confidenceDetails(confidence)); err != nil {
		return false, err
	}
	return true, nil
}

// SyncStats summarizes one bidirectional sync.
type SyncStats struct {
	PushedToReview   int
	IssuesCopied     int
	VerdictsMirrored int
}

// MirrorDocument copies one metrics-store document into the review store
// when the review store does not know it yet, along with its open issues.
// Existing review-side rows are left untouched. This covers reviewing a
// document that sailed through the pipeline unflagged, which Sync never
// pushes.
func (r *Reconciler) MirrorDocument(docID string) error {
	_, err := r.Review.GetDocument(docID)
	if err == nil {
		return nil
	}
	if !types.IsKind(err, types.KindUnknownDocument) {
		return err
	}

	doc, err := r.Metrics.GetDocument(docID)
	if err != nil {
		return err
	}
	row := *doc
	if err := r.Review.UpsertDocumentRow(&row); err != nil {
		return err
	}
	if _, err := r.copyMissingIssues(docID); err != nil {
		return err
	}
	r.Log.Info("document mirrored to review store", zap.String("doc_id", docID))
	return nil
}

// Sync mirrors flagged metrics documents into the review store and terminal
// review verdicts back into the metrics store. Review-side edits are never
// overwritten by the push direction.
func (r *Reconciler) Sync() (*SyncStats, error) {
	stats := &SyncStats{}

	// Metrics -> Review: flagged documents awaiting review.
	flagged, err := r.Metrics.ListFlagged()
	if err != nil {
		return nil, err
	}
	for _, doc := range flagged {
		if types.TerminalReviewStatus(doc.ReviewStatus) {
			continue
		}
		if _, err := r.Review.GetDocument(doc.ID); err != nil {
			if !types.IsKind(err, types.KindUnknownDocument) {
				return stats, err
			}
			row := doc
			if err := r.Review.UpsertDocumentRow(&row); err != nil {
				return stats, err
			}
			stats.PushedToReview++
		}

		copied, err := r.copyMissingIssues(doc.ID)
		if err != nil {
			return stats, err
		}
		stats.IssuesCopied += copied
	}

	// Review -> Metrics: terminal verdicts flow back.
	reviewDocs, err := r.Review.ListDocuments()
	if err != nil {
		return nil, err
	}
	for _, doc := range reviewDocs {
		if !types.TerminalReviewStatus(doc.ReviewStatus) {
			continue
		}
		mirrored, err := r.mirrorVerdict(&doc)
		if err != nil {
			return stats, err
		}
		if mirrored {
			stats.VerdictsMirrored++
		}
	}

	r.Log.Info("sync finished",
		zap.Int("pushed", stats.PushedToReview),
		zap.Int("issues_copied", stats.IssuesCopied),
		zap.Int("verdicts_mirrored", stats.VerdictsMirrored))
	return stats, nil
}

// copyMissingIssues diffs the issue sets keyed by (type, details) and
// inserts the ones the review store lacks.
func (r *Reconciler) copyMissingIssues(docID string) (int, error) {
	issues, err := r.Metrics.ListIssues(docID)
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, issue := range issues {
		inserted, err := r.Review.AddIssueIfAbsent(docID, issue.Type, issue.Details)
		if err != nil {
			return copied, err
		}
		if inserted {
			copied++
		}
	}
	return copied, nil
}

// mirrorVerdict pushes one terminal review verdict into the metrics store.
func (r *Reconciler) mirrorVerdict(reviewDoc *types.Document) (bool, error) {
	metricsDoc, err := r.Metrics.GetDocument(reviewDoc.ID)
	if err != nil {
		if types.IsKind(err, types.KindUnknownDocument) {
			// Imported straight from the filesystem; mirror the whole row.
			row := *reviewDoc
			if err := r.Metrics.UpsertDocumentRow(&row); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, err
	}

	if metricsDoc.ReviewStatus == reviewDoc.ReviewStatus &&
		types.StatusAdvances(reviewDoc.Status, metricsDoc.Status) {
		return false, nil
	}

	if err := r.Metrics.ForceReviewState(reviewDoc.ID, reviewDoc.ReviewStatus, reviewDoc.FlaggedForReview); err != nil {
		return false, err
	}
	if types.StatusAdvances(metricsDoc.Status, reviewDoc.Status) && metricsDoc.Status != reviewDoc.Status {
		if err := r.Metrics.SetStatus(reviewDoc.ID, reviewDoc.Status); err != nil {
			return false, err
		}
	}
	return true, nil
}
