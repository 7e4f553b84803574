// Package review implements the human review workflow: queue listing,
// approval and rejection with field edits, and the recycle-to-training
// path for approved documents.
package review

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"skilllab/internal/dataset"
	"skilllab/internal/reconcile"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// Workflow drives a document through its review lifecycle. Terminal
// decisions are written to the review store and mirrored to the metrics
// store through the reconciler.
type Workflow struct {
	Review       *store.ReviewStore
	Reconciler   *reconcile.Reconciler
	Builder      *dataset.Builder
	ValidatedDir string
	Log          *zap.Logger
}

// NewWorkflow builds a review workflow.
func NewWorkflow(review *store.ReviewStore, rec *reconcile.Reconciler, builder *dataset.Builder, validatedDir string, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{
		Review:       review,
		Reconciler:   rec,
		Builder:      builder,
		ValidatedDir: validatedDir,
		Log:          log.Named("review"),
	}
}

// ListQueue returns the flagged documents, optionally filtered by issue
// type. "All" or "" returns everything.
func (w *Workflow) ListQueue(issueType string) ([]types.Document, error) {
	return w.Review.ListQueue(issueType)
}

// Details is everything a reviewer sees for one document.
type Details struct {
	Document   types.Document    `json:"document"`
	Issues     []types.IssueView `json:"issues"`
	Record     map[string]any    `json:"record,omitempty"`
	ImagePaths []string          `json:"image_paths,omitempty"`
}

// GetDetails loads the document row, its issues, and the validated record
// payload when one exists on disk.
func (w *Workflow) GetDetails(docID string) (*Details, error) {
	detail, err := w.Review.GetDocumentDetail(docID)
	if err != nil {
		return nil, err
	}

	out := &Details{Document: detail.Document, Issues: detail.Issues}
	if validated, err := w.loadValidated(docID); err == nil {
		out.Record = validated.Record
		out.ImagePaths = validated.ImagePaths
	}
	return out, nil
}

// Edits maps a scalar record field to its corrected value.
type Edits map[string]string

// editableFields are the scalar fields a reviewer may correct.
var editableFields = map[string]bool{
	"Name": true, "Email": true, "Phone": true, "Current_Position": true,
}

// Approve records an approval, applying any field edits to the validated
// record first. The review status chain is walked from wherever the
// document currently stands.
func (w *Workflow) Approve(docID, reviewer string, edits Edits) error {
	if err := w.ensureKnown(docID); err != nil {
		return err
	}

	corrected, err := w.applyEdits(docID, edits)
	if err != nil {
		return err
	}

	if err := w.advanceTo(docID, types.ReviewApproved); err != nil {
		return err
	}

	fb := types.ReviewFeedback{
		DocumentID:      docID,
		Status:          types.ReviewApproved,
		ChangesMade:     len(corrected) > 0,
		FieldsCorrected: corrected,
		Reviewer:        reviewer,
	}
	if err := w.Review.InsertFeedback(fb); err != nil {
		return err
	}

	w.Log.Info("document approved",
		zap.String("doc_id", docID),
		zap.Strings("fields_corrected", corrected))
	return w.syncBack()
}

// Reject records a rejection. The reason is required; the validated record
// on disk is retained for later inspection.
func (w *Workflow) Reject(docID, reviewer, reason string) error {
	if reason == "" {
		return types.E(types.KindValidationFailure, "rejection requires a reason")
	}
	if err := w.ensureKnown(docID); err != nil {
		return err
	}

	if err := w.advanceTo(docID, types.ReviewRejected); err != nil {
		return err
	}

	fb := types.ReviewFeedback{
		DocumentID: docID,
		Status:     types.ReviewRejected,
		Reason:     reason,
		Reviewer:   reviewer,
	}
	if err := w.Review.InsertFeedback(fb); err != nil {
		return err
	}

	w.Log.Info("document rejected", zap.String("doc_id", docID), zap.String("reason", reason))
	return w.syncBack()
}

// SaveEdits applies field edits without a terminal decision, claiming the
// document in_progress.
func (w *Workflow) SaveEdits(docID string, edits Edits) error {
	if err := w.ensureKnown(docID); err != nil {
		return err
	}
	if _, err := w.applyEdits(docID, edits); err != nil {
		return err
	}
	return w.advanceTo(docID, types.ReviewInProgress)
}

// Recycle appends an approved document to the training split and marks it
// recycled on both stores.
func (w *Workflow) Recycle(docID string) error {
	doc, err := w.Review.GetDocument(docID)
	if err != nil {
		return err
	}
	if doc.ReviewStatus != types.ReviewApproved {
		return types.E(types.KindInvalidState,
			"document %s is %s, only approved documents can be recycled", docID, doc.ReviewStatus)
	}

	validated, err := w.loadValidated(docID)
	if err != nil {
		return err
	}
	if err := w.Builder.Recycle(validated); err != nil {
		return err
	}

	if err := w.Review.SetStatus(docID, types.StatusRecycled); err != nil {
		return err
	}

	w.Log.Info("document recycled to training", zap.String("doc_id", docID))
	return w.syncBack()
}

// ensureKnown mirrors the document from the metrics store when the review
// store has never seen it. A clean pipeline run leaves unflagged documents
// only on the metrics side, yet a reviewer may still act on them.
func (w *Workflow) ensureKnown(docID string) error {
	if w.Reconciler == nil {
		return nil
	}
	return w.Reconciler.MirrorDocument(docID)
}

// advanceTo walks the review state machine from the document's current
// status to the target, one allowed transition at a time.
func (w *Workflow) advanceTo(docID string, target types.ReviewStatus) error {
	chains := map[types.ReviewStatus][]types.ReviewStatus{
		types.ReviewPending:    {types.ReviewPending},
		types.ReviewInProgress: {types.ReviewPending, types.ReviewInProgress},
		types.ReviewApproved:   {types.ReviewPending, types.ReviewInProgress, types.ReviewApproved},
		types.ReviewRejected:   {types.ReviewPending, types.ReviewInProgress, types.ReviewRejected},
	}
	chain, ok := chains[target]
	if !ok {
		return types.E(types.KindInvalidState, "cannot advance review to %s", target)
	}

	doc, err := w.Review.GetDocument(docID)
	if err != nil {
		return err
	}

	reached := doc.ReviewStatus == target
	for _, status := range chain {
		if reached {
			break
		}
		if types.ReviewTransitionAllowed(doc.ReviewStatus, status) {
			if err := w.Review.SetReviewStatus(docID, status); err != nil {
				return err
			}
			doc.ReviewStatus = status
		}
		reached = doc.ReviewStatus == target
	}
	if !reached {
		return types.E(types.KindInvalidState,
			"review status %s cannot reach %s for %s", doc.ReviewStatus, target, docID)
	}
	return nil
}

// applyEdits writes corrected scalar fields into the validated record on
// disk and logs one FieldCorrection per changed field. Returns the names of
// the fields that actually changed.
func (w *Workflow) applyEdits(docID string, edits Edits) ([]string, error) {
	if len(edits) == 0 {
		return nil, nil
	}

	validated, err := w.loadValidated(docID)
	if err != nil {
		return nil, err
	}

	var corrected []string
	for field, value := range edits {
		if !editableFields[field] {
			return nil, types.E(types.KindValidationFailure, "field %s is not editable", field)
		}
		original := ""
		if v, ok := validated.Record[field].(string); ok {
			original = v
		}
		if original == value {
			continue
		}

		validated.Record[field] = value
		corrected = append(corrected, field)
		if err := w.Review.InsertFieldCorrection(types.FieldCorrection{
			DocumentID:     docID,
			FieldName:      field,
			OriginalValue:  original,
			CorrectedValue: value,
		}); err != nil {
			return nil, err
		}
	}

	if len(corrected) == 0 {
		return nil, nil
	}
	return corrected, w.saveValidated(validated)
}

func (w *Workflow) validatedPath(docID string) string {
	return filepath.Join(w.ValidatedDir, docID+"_validated.json")
}

func (w *Workflow) loadValidated(docID string) (*types.ValidatedDocument, error) {
	data, err := os.ReadFile(w.validatedPath(docID))
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "no validated record for %s", docID)
	}
	var doc types.ValidatedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.Wrap(types.KindSchemaFailure, err, "malformed validated record for %s", docID)
	}
	if doc.DocID == "" {
		doc.DocID = docID
	}
	return &doc, nil
}

func (w *Workflow) saveValidated(doc *types.ValidatedDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.Wrap(types.KindSchemaFailure, err, "failed to marshal validated record for %s", doc.DocID)
	}
	if err := os.WriteFile(w.validatedPath(doc.DocID), data, 0644); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to write validated record for %s", doc.DocID)
	}
	return nil
}

// syncBack mirrors the review decision into the metrics store.
func (w *Workflow) syncBack() error {
	if w.Reconciler == nil {
		return nil
	}
	_, err := w.Reconciler.Sync()
	return err
}
