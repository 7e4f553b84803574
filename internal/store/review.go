package store

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"skilllab/internal/quality"
	"skilllab/internal/types"
)

// ReviewStore owns the review-queue projection of documents plus reviewer
// feedback and the field-correction log.
type ReviewStore struct {
	*Store
}

// NewReviewStore opens (creating if needed) the review database at path.
func NewReviewStore(path string, log *zap.Logger) (*ReviewStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db, documentsSchema, reviewSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &ReviewStore{Store: &Store{
		db:     db,
		dbPath: path,
		policy: quality.DefaultPolicy(),
		log:    log.Named("store.review"),
	}}, nil
}

// ListQueue returns the flagged documents, optionally restricted to those
// carrying a given issue type. The literal filter "All" (or "") returns the
// whole queue.
func (s *ReviewStore) ListQueue(issueType string) ([]types.Document, error) {
	if issueType == "" || issueType == "All" {
		return s.ListFlagged()
	}
	return s.queryDocuments(`
		SELECT DISTINCT d.doc_id, d.filename, d.status, d.ocr_confidence, d.json_confidence,
		       d.correction_count, d.flagged_for_review, d.review_status, d.created_at, d.updated_at
		FROM documents d
		JOIN issues i ON i.document_id = d.doc_id
		WHERE d.flagged_for_review = 1 AND i.issue_type = ?
		ORDER BY d.created_at, d.doc_id`, issueType)
}

// InsertFeedback appends one review feedback row.
func (s *ReviewStore) InsertFeedback(fb types.ReviewFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := json.Marshal(fb.FieldsCorrected)
	if err != nil {
		return fmt.Errorf("failed to encode corrected fields: %w", err)
	}
	changes := 0
	if fb.ChangesMade {
		changes = 1
	}
	ts := fb.Timestamp
	if ts.IsZero() {
		ts = now()
	}

	_, err = s.db.Exec(
		`INSERT INTO review_feedback (document_id, status, changes_made, reason, fields_corrected, timestamp, reviewer)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.DocumentID, fb.Status, changes, fb.Reason, string(fields), ts, fb.Reviewer,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review feedback: %w", err)
	}
	s.log.Info("review feedback recorded",
		zap.String("doc_id", fb.DocumentID),
		zap.String("status", string(fb.Status)),
		zap.Bool("changes_made", fb.ChangesMade))
	return nil
}

// ListFeedback returns the document's feedback rows in insertion order.
func (s *ReviewStore) ListFeedback(docID string) ([]types.ReviewFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT document_id, status, changes_made, reason, fields_corrected, timestamp, reviewer
		 FROM review_feedback WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var feedback []types.ReviewFeedback
	for rows.Next() {
		var fb types.ReviewFeedback
		var changes int
		var fields string
		if err := rows.Scan(&fb.DocumentID, &fb.Status, &changes, &fb.Reason, &fields, &fb.Timestamp, &fb.Reviewer); err != nil {
			return nil, err
		}
		fb.ChangesMade = changes != 0
		if err := json.Unmarshal([]byte(fields), &fb.FieldsCorrected); err != nil {
			fb.FieldsCorrected = nil
		}
		feedback = append(feedback, fb)
	}
	return feedback, rows.Err()
}

// InsertFieldCorrection appends one field-correction row.
func (s *ReviewStore) InsertFieldCorrection(fc types.FieldCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := fc.Timestamp
	if ts.IsZero() {
		ts = now()
	}
	_, err := s.db.Exec(
		`INSERT INTO field_corrections (document_id, field_name, original_value, corrected_value, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		fc.DocumentID, fc.FieldName, fc.OriginalValue, fc.CorrectedValue, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert field correction: %w", err)
	}
	return nil
}

// ListFieldCorrections returns the document's corrections in insertion order.
func (s *ReviewStore) ListFieldCorrections(docID string) ([]types.FieldCorrection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT document_id, field_name, original_value, corrected_value, timestamp
		 FROM field_corrections WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field corrections: %w", err)
	}
	defer rows.Close()

	var corrections []types.FieldCorrection
	for rows.Next() {
		var fc types.FieldCorrection
		if err := rows.Scan(&fc.DocumentID, &fc.FieldName, &fc.OriginalValue, &fc.CorrectedValue, &fc.Timestamp); err != nil {
			return nil, err
		}
		corrections = append(corrections, fc)
	}
	return corrections, rows.Err()
}
