package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/types"
)

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }
func b(v bool) *bool         { return &v }

func TestLowOCRConfidence(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(Input{OCRConfidence: f64(60)})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueLowOCRConfidence, d.Findings[0].Type)
	assert.Equal(t, "Confidence below threshold: 60.0%", d.Findings[0].Details)
	assert.True(t, d.Flag)

	d = p.Evaluate(Input{OCRConfidence: f64(86)})
	assert.Empty(t, d.Findings)
	assert.False(t, d.Flag)
}

func TestLowJSONConfidence(t *testing.T) {
	d := DefaultPolicy().Evaluate(Input{JSONConfidence: f64(40)})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueLowJSONConfidence, d.Findings[0].Type)
}

func TestLowJSONCompleteness(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(Input{JSONCompleteness: f64(30)})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueLowJSONCompleteness, d.Findings[0].Type)
	assert.Equal(t, "Completeness below threshold: 30.0%", d.Findings[0].Details)

	// A modest but ordinary score passes: the formula rarely exceeds ~75
	// even for complete records.
	d = p.Evaluate(Input{JSONCompleteness: f64(61.25)})
	assert.Empty(t, d.Findings)
}

func TestMultipleCorrections(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(Input{CorrectionCount: i(3)})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueMultipleCorrections, d.Findings[0].Type)

	d = p.Evaluate(Input{CorrectionCount: i(2)})
	assert.Empty(t, d.Findings)
}

func TestMissingContact(t *testing.T) {
	p := DefaultPolicy()
	text := "Reach Alice at alice@example.com or 555-010-0100."

	t.Run("all contact fields present", func(t *testing.T) {
		rec := map[string]any{"Name": "Alice", "Email": "a@x.com", "Phone": "555-0100"}
		d := p.Evaluate(Input{Record: rec, SourceText: text})
		assert.Empty(t, d.Findings)
	})

	t.Run("missing fields with evidence", func(t *testing.T) {
		rec := map[string]any{"Name": "Alice", "Email": nil, "Phone": nil}
		d := p.Evaluate(Input{Record: rec, SourceText: text})
		require.Len(t, d.Findings, 1)
		assert.Equal(t, types.IssueMissingContact, d.Findings[0].Type)
		assert.Contains(t, d.Findings[0].Details, "Email")
		assert.Contains(t, d.Findings[0].Details, "Phone")
	})

	t.Run("no evidence no finding", func(t *testing.T) {
		rec := map[string]any{"Name": "Alice", "Email": nil, "Phone": nil}
		d := p.Evaluate(Input{Record: rec, SourceText: "Plain prose without contact details."})
		assert.Empty(t, d.Findings)
	})

	t.Run("no source text skips rule", func(t *testing.T) {
		rec := map[string]any{"Name": nil, "Email": nil, "Phone": nil}
		d := p.Evaluate(Input{Record: rec})
		assert.Empty(t, d.Findings)
	})
}

func TestSchemaValidation(t *testing.T) {
	d := DefaultPolicy().Evaluate(Input{StructureValid: b(false)})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueSchemaValidation, d.Findings[0].Type)

	d = DefaultPolicy().Evaluate(Input{StructureValid: b(true)})
	assert.Empty(t, d.Findings)
}

func TestValidationFailureNeedsExhaustedAttempts(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(Input{Coverage: f64(0.423), AttemptsExhausted: true})
	require.Len(t, d.Findings, 1)
	assert.Equal(t, types.IssueValidationFailure, d.Findings[0].Type)
	assert.Contains(t, d.Findings[0].Details, "42.3%")

	// Not exhausted yet: the loop is still running, no issue.
	d = p.Evaluate(Input{Coverage: f64(0.423)})
	assert.Empty(t, d.Findings)
}

func TestRuleOrder(t *testing.T) {
	p := DefaultPolicy()
	d := p.Evaluate(Input{
		OCRConfidence:     f64(50),
		JSONConfidence:    f64(50),
		CorrectionCount:   i(4),
		StructureValid:    b(false),
		Coverage:          f64(0.1),
		AttemptsExhausted: true,
	})
	require.Len(t, d.Findings, 5)
	assert.Equal(t, types.IssueLowOCRConfidence, d.Findings[0].Type)
	assert.Equal(t, types.IssueLowJSONConfidence, d.Findings[1].Type)
	assert.Equal(t, types.IssueMultipleCorrections, d.Findings[2].Type)
	assert.Equal(t, types.IssueSchemaValidation, d.Findings[3].Type)
	assert.Equal(t, types.IssueValidationFailure, d.Findings[4].Type)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(0.8, 5)
	assert.Equal(t, 0.8, p.MinCoverage)
	assert.Equal(t, 5, p.MaxCorrections)
	assert.Equal(t, 75.0, p.MinOCRConfidence)
}
