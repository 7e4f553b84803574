package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAdvances(t *testing.T) {
	t.Run("forward moves allowed", func(t *testing.T) {
		assert.True(t, StatusAdvances(StatusRegistered, StatusOCRComplete))
		assert.True(t, StatusAdvances(StatusOCRComplete, StatusValidated))
		assert.True(t, StatusAdvances(StatusValidated, StatusRecycled))
	})

	t.Run("same status allowed", func(t *testing.T) {
		assert.True(t, StatusAdvances(StatusJSONDone, StatusJSONDone))
	})

	t.Run("regressions rejected", func(t *testing.T) {
		assert.False(t, StatusAdvances(StatusValidated, StatusOCRComplete))
		assert.False(t, StatusAdvances(StatusRecycled, StatusRegistered))
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		assert.False(t, StatusAdvances(StatusRegistered, Status("bogus")))
		assert.False(t, StatusAdvances(Status("bogus"), StatusRegistered))
	})
}

func TestReviewTransitions(t *testing.T) {
	allowed := []struct{ from, to ReviewStatus }{
		{ReviewNone, ReviewPending},
		{ReviewPending, ReviewInProgress},
		{ReviewPending, ReviewRejected},
		{ReviewInProgress, ReviewApproved},
		{ReviewInProgress, ReviewRejected},
	}
	for _, tc := range allowed {
		assert.True(t, ReviewTransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to ReviewStatus }{
		{ReviewNone, ReviewApproved},
		{ReviewNone, ReviewInProgress},
		{ReviewApproved, ReviewPending},
		{ReviewRejected, ReviewInProgress},
		{ReviewPending, ReviewApproved},
	}
	for _, tc := range denied {
		assert.False(t, ReviewTransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalReviewStatus(t *testing.T) {
	assert.True(t, TerminalReviewStatus(ReviewApproved))
	assert.True(t, TerminalReviewStatus(ReviewRejected))
	// Legacy rows read as terminal.
	assert.True(t, TerminalReviewStatus(ReviewCompleted))
	assert.False(t, TerminalReviewStatus(ReviewPending))
	assert.False(t, TerminalReviewStatus(ReviewNone))
}

func TestIssueViewLegacyKeys(t *testing.T) {
	t.Run("canonical keys", func(t *testing.T) {
		var v IssueView
		require.NoError(t, json.Unmarshal([]byte(`{"type":"low_ocr_confidence","details":"Confidence below threshold: 60.0%"}`), &v))
		assert.Equal(t, IssueLowOCRConfidence, v.Type)
		assert.Equal(t, "Confidence below threshold: 60.0%", v.Details)
	})

	t.Run("legacy keys", func(t *testing.T) {
		var v IssueView
		require.NoError(t, json.Unmarshal([]byte(`{"issue_type":"validation_failure","issue_details":"Coverage 42.3% below threshold"}`), &v))
		assert.Equal(t, IssueValidationFailure, v.Type)
		assert.Equal(t, "Coverage 42.3% below threshold", v.Details)
	})

	t.Run("canonical wins over legacy", func(t *testing.T) {
		var v IssueView
		require.NoError(t, json.Unmarshal([]byte(`{"type":"missing_contact","issue_type":"schema_validation","details":"d","issue_details":"legacy"}`), &v))
		assert.Equal(t, IssueMissingContact, v.Type)
		assert.Equal(t, "d", v.Details)
	})
}

func TestRecordRoundTrip(t *testing.T) {
	name := "Alice"
	rec := ResumeRecord{
		Name:   &name,
		Skills: []string{"Go", "Rust"},
		Experience: []Experience{
			{Company: "A", Title: "SE", Years: "2020-"},
		},
	}

	m := rec.RecordToMap()
	for _, key := range RecordKeys {
		_, ok := m[key]
		assert.True(t, ok, "missing key %s", key)
	}
	assert.Nil(t, m["Email"])

	back := RecordFromMap(m)
	require.NotNil(t, back.Name)
	assert.Equal(t, "Alice", *back.Name)
	assert.Nil(t, back.Email)
	assert.Equal(t, []string{"Go", "Rust"}, back.Skills)
	require.Len(t, back.Experience, 1)
	assert.Equal(t, "A", back.Experience[0].Company)
}

func TestMeanConfidence(t *testing.T) {
	res := OCRResult{
		PageResults: []PageResult{
			{TextElements: []TextElement{{Confidence: 0.8}, {Confidence: 0.9}}},
			{TextElements: []TextElement{{Confidence: 0.88}}},
		},
	}
	assert.InDelta(t, 0.86, res.MeanConfidence(), 0.0001)

	empty := OCRResult{}
	assert.Zero(t, empty.MeanConfidence())
}

func TestErrorKinds(t *testing.T) {
	err := E(KindUnknownDocument, "no document %q", "alice")
	assert.True(t, IsKind(err, KindUnknownDocument))
	assert.False(t, IsKind(err, KindConflict))
	assert.Contains(t, err.Error(), "alice")

	wrapped := Wrap(KindIOFailure, err, "reading sidecar")
	assert.True(t, IsKind(wrapped, KindIOFailure))
	assert.ErrorIs(t, wrapped, err)
}
