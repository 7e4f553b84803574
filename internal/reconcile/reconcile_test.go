package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/store"
	"skilllab/internal/types"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.MetricsStore, *store.ReviewStore) {
	t.Helper()
	root := t.TempDir()

	ms, err := store.NewMetricsStore(filepath.Join(root, "metrics.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })

	rs, err := store.NewReviewStore(filepath.Join(root, "review.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	return New(ms, rs, 3, nil), ms, rs
}

func writeArtifact(t *testing.T, dir, name string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func TestImportFailedValidation(t *testing.T) {
	r, _, rs := newTestReconciler(t)
	root := t.TempDir()
	validatedDir := filepath.Join(root, "validated_json")
	ocrDir := filepath.Join(root, "ocr_results")
	require.NoError(t, os.MkdirAll(ocrDir, 0755))

	writeArtifact(t, validatedDir, "bob_validated.json", types.ValidatedDocument{
		DocID:      "bob",
		Record:     map[string]any{},
		Validation: types.ValidationInfo{IsValid: false, Coverage: 0.4, CorrectionAttempts: 3},
	})
	// Valid records are not imported.
	writeArtifact(t, validatedDir, "alice_validated.json", types.ValidatedDocument{
		DocID:      "alice",
		Record:     map[string]any{"Name": "Alice"},
		Validation: types.ValidationInfo{IsValid: true, Coverage: 0.95},
	})

	stats, err := r.ImportFromFilesystem(validatedDir, ocrDir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	doc, err := rs.GetDocument("bob")
	require.NoError(t, err)
	assert.True(t, doc.FlaggedForReview)
	assert.Equal(t, types.ReviewPending, doc.ReviewStatus)

	issues, err := rs.ListIssues("bob")
	require.NoError(t, err)
	typesSeen := map[types.IssueType]bool{}
	for _, issue := range issues {
		typesSeen[issue.Type] = true
	}
	assert.True(t, typesSeen[types.IssueValidationFailure])
	assert.True(t, typesSeen[types.IssueMultipleCorrections])

	_, err = rs.GetDocument("alice")
	assert.True(t, types.IsKind(err, types.KindUnknownDocument))
}

func TestImportLowConfidenceOCR(t *testing.T) {
	r, _, rs := newTestReconciler(t)
	root := t.TempDir()
	validatedDir := filepath.Join(root, "validated_json")
	ocrDir := filepath.Join(root, "ocr_results")
	require.NoError(t, os.MkdirAll(validatedDir, 0755))

	writeArtifact(t, ocrDir, "carol_ocr.json", types.OCRResult{
		FileID: "carol",
		PageResults: []types.PageResult{{
			TextElements: []types.TextElement{{Text: "smudged", Confidence: 0.5}},
		}},
	})

	stats, err := r.ImportFromFilesystem(validatedDir, ocrDir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	doc, err := rs.GetDocument("carol")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOCRComplete, doc.Status)
	assert.InDelta(t, 50.0, doc.OCRConfidence, 0.001)
	assert.True(t, doc.FlaggedForReview)
}

func TestImportIdempotent(t *testing.T) {
	r, _, rs := newTestReconciler(t)
	root := t.TempDir()
	validatedDir := filepath.Join(root, "validated_json")
	ocrDir := filepath.Join(root, "ocr_results")
	require.NoError(t, os.MkdirAll(ocrDir, 0755))

	writeArtifact(t, validatedDir, "bob_validated.json", types.ValidatedDocument{
		DocID:      "bob",
		Record:     map[string]any{},
		Validation: types.ValidationInfo{IsValid: false, Coverage: 0.4, CorrectionAttempts: 3},
	})

	_, err := r.ImportFromFilesystem(validatedDir, ocrDir)
	require.NoError(t, err)
	stats, err := r.ImportFromFilesystem(validatedDir, ocrDir)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Imported)

	issues, err := rs.ListIssues("bob")
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestSyncPushesFlaggedToReview(t *testing.T) {
	r, ms, rs := newTestReconciler(t)

	require.NoError(t, ms.RegisterDocument("alice", "alice.pdf"))
	require.NoError(t, ms.FlagForReview("alice", types.IssueLowOCRConfidence, "Confidence below threshold: 60.0%"))

	stats, err := r.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PushedToReview)
	assert.Equal(t, 1, stats.IssuesCopied)

	doc, err := rs.GetDocument("alice")
	require.NoError(t, err)
	assert.True(t, doc.FlaggedForReview)
	assert.Equal(t, types.ReviewPending, doc.ReviewStatus)
}

func TestMirrorDocument(t *testing.T) {
	r, ms, rs := newTestReconciler(t)

	require.NoError(t, ms.RegisterDocument("alice", "alice.pdf"))
	require.NoError(t, ms.SetStatus("alice", types.StatusOCRComplete))
	require.NoError(t, ms.SetStatus("alice", types.StatusJSONDone))
	require.NoError(t, ms.SetStatus("alice", types.StatusValidated))

	require.NoError(t, r.MirrorDocument("alice"))

	doc, err := rs.GetDocument("alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValidated, doc.Status)
	assert.False(t, doc.FlaggedForReview)

	t.Run("existing review rows are untouched", func(t *testing.T) {
		require.NoError(t, rs.SetReviewStatus("alice", types.ReviewPending))
		require.NoError(t, rs.SetReviewStatus("alice", types.ReviewInProgress))

		require.NoError(t, r.MirrorDocument("alice"))

		doc, err := rs.GetDocument("alice")
		require.NoError(t, err)
		assert.Equal(t, types.ReviewInProgress, doc.ReviewStatus)
	})

	t.Run("unknown on both sides", func(t *testing.T) {
		err := r.MirrorDocument("ghost")
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindUnknownDocument))
	})
}

func TestSyncMirrorsTerminalVerdict(t *testing.T) {
	r, ms, rs := newTestReconciler(t)

	require.NoError(t, ms.RegisterDocument("alice", "alice.pdf"))
	require.NoError(t, ms.FlagForReview("alice", types.IssueLowOCRConfidence, "Confidence below threshold: 60.0%"))

	_, err := r.Sync()
	require.NoError(t, err)

	// Reviewer approves on the review side.
	require.NoError(t, rs.SetReviewStatus("alice", types.ReviewInProgress))
	require.NoError(t, rs.SetReviewStatus("alice", types.ReviewApproved))

	stats, err := r.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VerdictsMirrored)

	doc, err := ms.GetDocument("alice")
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, doc.ReviewStatus)
	assert.False(t, doc.FlaggedForReview)
}

func TestSyncIdempotent(t *testing.T) {
	r, ms, rs := newTestReconciler(t)

	require.NoError(t, ms.RegisterDocument("alice", "alice.pdf"))
	require.NoError(t, ms.FlagForReview("alice", types.IssueLowOCRConfidence, "Confidence below threshold: 60.0%"))
	require.NoError(t, ms.FlagForReview("alice", types.IssueMissingContact, "Missing contact fields: Email"))

	_, err := r.Sync()
	require.NoError(t, err)
	second, err := r.Sync()
	require.NoError(t, err)

	assert.Equal(t, 0, second.PushedToReview)
	assert.Equal(t, 0, second.IssuesCopied)
	assert.Equal(t, 0, second.VerdictsMirrored)

	issues, err := rs.ListIssues("alice")
	require.NoError(t, err)
	assert.Len(t, issues, 2)

	docs, err := rs.ListDocuments()
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSyncKeepsReviewEdits(t *testing.T) {
	r, ms, rs := newTestReconciler(t)

	require.NoError(t, ms.RegisterDocument("alice", "alice.pdf"))
	require.NoError(t, ms.FlagForReview("alice", types.IssueLowOCRConfidence, "Confidence below threshold: 60.0%"))

	_, err := r.Sync()
	require.NoError(t, err)

	// A reviewer claims the document; the next push must not reset it.
	require.NoError(t, rs.SetReviewStatus("alice", types.ReviewInProgress))

	_, err = r.Sync()
	require.NoError(t, err)

	doc, err := rs.GetDocument("alice")
	require.NoError(t, err)
	assert.Equal(t, types.ReviewInProgress, doc.ReviewStatus)
}
