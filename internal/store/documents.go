package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"skilllab/internal/quality"
	"skilllab/internal/types"
)

// RegisterDocument upserts a document row. Re-registration updates the
// filename and updated_at only; everything else is preserved.
func (s *Store) RegisterDocument(docID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.Exec(`
		INSERT INTO documents (doc_id, filename, status, review_status, created_at, updated_at)
		VALUES (?, ?, 'registered', 'none', ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			filename = excluded.filename,
			updated_at = excluded.updated_at`,
		docID, filename, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to register document %s: %w", docID, err)
	}
	s.log.Debug("document registered", zap.String("doc_id", docID), zap.String("filename", filename))
	return nil
}

// GetDocument returns the document row or an UnknownDocument error.
func (s *Store) GetDocument(docID string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDocument(docID)
}

func (s *Store) getDocument(docID string) (*types.Document, error) {
	row := s.db.QueryRow(`
		SELECT doc_id, filename, status, ocr_confidence, json_confidence,
		       correction_count, flagged_for_review, review_status, created_at, updated_at
		FROM documents WHERE doc_id = ?`, docID)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var d types.Document
	var flagged int
	err := row.Scan(&d.ID, &d.Filename, &d.Status, &d.OCRConfidence, &d.JSONConfidence,
		&d.CorrectionCount, &flagged, &d.ReviewStatus, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, types.E(types.KindUnknownDocument, "document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	d.FlaggedForReview = flagged != 0
	return &d, nil
}

// SetStatus advances the document status. Regressions are rejected with
// InvalidState; unknown documents with UnknownDocument.
func (s *Store) SetStatus(docID string, status types.Status) error {
	if !types.ValidStatus(status) {
		return types.E(types.KindInvalidState, "unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getDocument(docID)
	if err != nil {
		return err
	}
	if !types.StatusAdvances(doc.Status, status) {
		return types.E(types.KindInvalidState,
			"status cannot regress from %s to %s for %s", doc.Status, status, docID)
	}

	_, err = s.db.Exec(
		`UPDATE documents SET status = ?, updated_at = ? WHERE doc_id = ?`,
		status, now(), docID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", docID, err)
	}
	s.log.Debug("status updated", zap.String("doc_id", docID), zap.String("status", string(status)))
	return nil
}

// SetConfidence updates whichever confidences are supplied (percent scale)
// and runs the quality rules against the new values. Issues raised by the
// rules are recorded and flag the document.
func (s *Store) SetConfidence(docID string, ocr, jsonConf *float64) error {
	if ocr == nil && jsonConf == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getDocument(docID); err != nil {
		return err
	}

	if ocr != nil {
		if _, err := s.db.Exec(
			`UPDATE documents SET ocr_confidence = ?, updated_at = ? WHERE doc_id = ?`,
			*ocr, now(), docID,
		); err != nil {
			return fmt.Errorf("failed to update ocr confidence: %w", err)
		}
	}
	if jsonConf != nil {
		if _, err := s.db.Exec(
			`UPDATE documents SET json_confidence = ?, updated_at = ? WHERE doc_id = ?`,
			*jsonConf, now(), docID,
		); err != nil {
			return fmt.Errorf("failed to update json confidence: %w", err)
		}
	}

	// The stored json confidence is the structural completeness score, so
	// it is judged against the completeness bar, not the model-confidence
	// bar.
	decision := s.policy.Evaluate(quality.Input{OCRConfidence: ocr, JSONCompleteness: jsonConf})
	return s.applyDecision(docID, decision)
}

// BumpCorrectionCount atomically increments the correction counter, runs
// the quality rules, and returns the new count.
func (s *Store) BumpCorrectionCount(docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE documents SET correction_count = correction_count + 1, updated_at = ? WHERE doc_id = ?`,
		now(), docID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bump correction count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, types.E(types.KindUnknownDocument, "document not found")
	}

	var count int
	if err := s.db.QueryRow(
		`SELECT correction_count FROM documents WHERE doc_id = ?`, docID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read correction count: %w", err)
	}

	decision := s.policy.Evaluate(quality.Input{CorrectionCount: &count})
	if err := s.applyDecision(docID, decision); err != nil {
		return count, err
	}
	return count, nil
}

// FlagForReview sets the review flag, enqueues the issue, and moves the
// review status to pending when the lifecycle has not started yet.
func (s *Store) FlagForReview(docID string, issueType types.IssueType, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flagForReview(docID, issueType, details)
}

func (s *Store) flagForReview(docID string, issueType types.IssueType, details string) error {
	doc, err := s.getDocument(docID)
	if err != nil {
		return err
	}

	reviewStatus := doc.ReviewStatus
	if reviewStatus == types.ReviewNone {
		reviewStatus = types.ReviewPending
	}

	if _, err := s.db.Exec(
		`UPDATE documents SET flagged_for_review = 1, review_status = ?, updated_at = ? WHERE doc_id = ?`,
		reviewStatus, now(), docID,
	); err != nil {
		return fmt.Errorf("failed to flag document %s: %w", docID, err)
	}

	if err := s.insertIssue(docID, issueType, details); err != nil {
		return err
	}

	s.log.Info("document flagged for review",
		zap.String("doc_id", docID),
		zap.String("issue_type", string(issueType)))
	return nil
}

// applyDecision records every finding from a quality decision. Callers hold
// the write lock.
func (s *Store) applyDecision(docID string, decision quality.Decision) error {
	for _, finding := range decision.Findings {
		if err := s.flagForReview(docID, finding.Type, finding.Details); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateOutcome runs the quality rules against a validation outcome
// (coverage, structure, contact evidence) and records the findings. This is
// the hook the validate step calls once the correction loop settles.
func (s *Store) EvaluateOutcome(docID string, in quality.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDecision(docID, s.policy.Evaluate(in))
}

// SetReviewStatus transitions the review lifecycle. Terminal transitions
// clear the review flag in the same statement so the flag/terminal coupling
// invariant can never be observed broken.
func (s *Store) SetReviewStatus(docID string, status types.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setReviewStatus(docID, status)
}

func (s *Store) setReviewStatus(docID string, status types.ReviewStatus) error {
	doc, err := s.getDocument(docID)
	if err != nil {
		return err
	}
	if doc.ReviewStatus == status {
		return nil
	}
	if !types.ReviewTransitionAllowed(doc.ReviewStatus, status) {
		return types.E(types.KindInvalidState,
			"review transition %s -> %s not allowed for %s", doc.ReviewStatus, status, docID)
	}

	flagged := 0
	if doc.FlaggedForReview || status == types.ReviewPending {
		flagged = 1
	}
	if types.TerminalReviewStatus(status) {
		flagged = 0
	}

	if _, err := s.db.Exec(
		`UPDATE documents SET review_status = ?, flagged_for_review = ?, updated_at = ? WHERE doc_id = ?`,
		status, flagged, now(), docID,
	); err != nil {
		return fmt.Errorf("failed to set review status: %w", err)
	}
	return nil
}

// ForceReviewState writes review status and flag without state machine
// checks. Reserved for the reconciler, which mirrors decisions already
// taken on the other store.
func (s *Store) ForceReviewState(docID string, status types.ReviewStatus, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if types.TerminalReviewStatus(status) {
		flagged = false
	}
	f := 0
	if flagged {
		f = 1
	}
	res, err := s.db.Exec(
		`UPDATE documents SET review_status = ?, flagged_for_review = ?, updated_at = ? WHERE doc_id = ?`,
		status, f, now(), docID,
	)
	if err != nil {
		return fmt.Errorf("failed to force review state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.E(types.KindUnknownDocument, "document not found")
	}
	return nil
}

// UpsertDocumentRow writes a full document projection, preserving
// created_at for existing rows. Used by the reconciler when mirroring
// documents across stores.
func (s *Store) UpsertDocumentRow(d *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flagged := 0
	if d.FlaggedForReview {
		flagged = 1
	}
	// Terminal review status always implies flag=0.
	if types.TerminalReviewStatus(d.ReviewStatus) {
		flagged = 0
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = now()
	}
	updated := d.UpdatedAt
	if updated.Before(created) {
		updated = created
	}

	_, err := s.db.Exec(`
		INSERT INTO documents (doc_id, filename, status, ocr_confidence, json_confidence,
			correction_count, flagged_for_review, review_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			ocr_confidence = excluded.ocr_confidence,
			json_confidence = excluded.json_confidence,
			correction_count = excluded.correction_count,
			flagged_for_review = excluded.flagged_for_review,
			review_status = excluded.review_status,
			updated_at = excluded.updated_at`,
		d.ID, d.Filename, d.Status, d.OCRConfidence, d.JSONConfidence,
		d.CorrectionCount, flagged, d.ReviewStatus, created, updated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
	}
	return nil
}

// =============================================================================
// ISSUES
// =============================================================================

func (s *Store) insertIssue(docID string, issueType types.IssueType, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO issues (document_id, issue_type, issue_details, created_at) VALUES (?, ?, ?, ?)`,
		docID, issueType, details, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert issue for %s: %w", docID, err)
	}
	return nil
}

// AddIssue appends an issue row.
func (s *Store) AddIssue(docID string, issueType types.IssueType, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertIssue(docID, issueType, details)
}

// AddIssueIfAbsent appends the issue unless the same (type, details) pair
// already exists for the document. The reconciler uses this to dedupe on sync.
func (s *Store) AddIssueIfAbsent(docID string, issueType types.IssueType, details string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM issues WHERE document_id = ? AND issue_type = ? AND issue_details = ?`,
		docID, issueType, details,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check issue existence: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	return true, s.insertIssue(docID, issueType, details)
}

// ListIssues returns the document's issues in insertion order.
func (s *Store) ListIssues(docID string) ([]types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, document_id, issue_type, issue_details, created_at
		 FROM issues WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []types.Issue
	for rows.Next() {
		var issue types.Issue
		if err := rows.Scan(&issue.ID, &issue.DocumentID, &issue.Type, &issue.Details, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// =============================================================================
// QUERIES
// =============================================================================

// DocumentDetail is the per-document lookup: the row plus its issues in the
// uniform {type, details} shape.
type DocumentDetail struct {
	Document types.Document    `json:"document"`
	Issues   []types.IssueView `json:"issues"`
}

// GetDocumentDetail returns the document row and its normalized issue list.
func (s *Store) GetDocumentDetail(docID string) (*DocumentDetail, error) {
	doc, err := s.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	issues, err := s.ListIssues(docID)
	if err != nil {
		return nil, err
	}

	detail := &DocumentDetail{Document: *doc, Issues: []types.IssueView{}}
	for _, issue := range issues {
		detail.Issues = append(detail.Issues, types.IssueView{Type: issue.Type, Details: issue.Details})
	}
	return detail, nil
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments() ([]types.Document, error) {
	return s.queryDocuments(`
		SELECT doc_id, filename, status, ocr_confidence, json_confidence,
		       correction_count, flagged_for_review, review_status, created_at, updated_at
		FROM documents ORDER BY created_at, doc_id`)
}

// ListFlagged returns all documents with the review flag set.
func (s *Store) ListFlagged() ([]types.Document, error) {
	return s.queryDocuments(`
		SELECT doc_id, filename, status, ocr_confidence, json_confidence,
		       correction_count, flagged_for_review, review_status, created_at, updated_at
		FROM documents WHERE flagged_for_review = 1 ORDER BY created_at, doc_id`)
}

func (s *Store) queryDocuments(query string, args ...any) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DashboardStats is the aggregation both stores expose.
type DashboardStats struct {
	TotalDocuments int            `json:"total_documents"`
	FlaggedCount   int            `json:"flagged_count"`
	ReviewedCount  int            `json:"reviewed_count"`
	IssueHistogram map[string]int `json:"issue_histogram"`
	StatusCounts   map[string]int `json:"status_counts"`
}

// GetDashboardStats aggregates document totals, flag and review counts, and
// the issue-type and status histograms.
func (s *Store) GetDashboardStats() (*DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DashboardStats{
		IssueHistogram: map[string]int{},
		StatusCounts:   map[string]int{},
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM documents WHERE flagged_for_review = 1`,
	).Scan(&stats.FlaggedCount); err != nil {
		return nil, fmt.Errorf("failed to count flagged documents: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM documents WHERE review_status IN ('approved','rejected','completed')`,
	).Scan(&stats.ReviewedCount); err != nil {
		return nil, fmt.Errorf("failed to count reviewed documents: %w", err)
	}

	rows, err := s.db.Query(`SELECT issue_type, COUNT(*) FROM issues GROUP BY issue_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var issueType string
		var count int
		if err := rows.Scan(&issueType, &count); err != nil {
			return nil, err
		}
		stats.IssueHistogram[issueType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statusRows, err := s.db.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
	}
	return stats, statusRows.Err()
}
