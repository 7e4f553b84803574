// Package quality implements the data-quality rules that decide whether a
// document needs human review. Evaluation is pure: inputs in, findings out,
// no store access.
package quality

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"skilllab/internal/types"
)

// Policy holds the configurable thresholds.
type Policy struct {
	MinOCRConfidence  float64 // percent, default 75
	MinJSONConfidence float64 // percent, default 75
	MinCompleteness   float64 // percent, default 50
	MaxCorrections    int     // default 3
	MinCoverage       float64 // fraction, default 0.9
}

// DefaultPolicy returns the thresholds used when configuration is absent.
// The completeness bar sits lower than the confidence bars: the formula
// saturates well below 100 for ordinary short resumes.
func DefaultPolicy() Policy {
	return Policy{
		MinOCRConfidence:  75,
		MinJSONConfidence: 75,
		MinCompleteness:   50,
		MaxCorrections:    3,
		MinCoverage:       0.9,
	}
}

// Finding is one issue the policy wants raised against a document.
type Finding struct {
	Type    types.IssueType
	Details string
}

// Input carries the evaluation context. Optional values are pointers;
// a nil pointer means "no new information, skip the rule".
type Input struct {
	OCRConfidence *float64 // percent [0,100]
	// JSONConfidence is reserved for collaborators that report their own
	// extraction confidence. The current Ollama collaborator does not, so
	// the pipeline feeds JSONCompleteness instead.
	JSONConfidence   *float64 // percent [0,100], model-reported
	JSONCompleteness *float64 // percent [0,100], structural completeness score
	CorrectionCount   *int
	Record            map[string]any // structured record, if available
	SourceText        string         // OCR text, evidence for contact rules
	StructureValid    *bool
	Coverage          *float64 // fraction [0,1]
	AttemptsExhausted bool     // correction loop hit its bound
}

// Decision is the policy output: issues to raise and whether to flag.
type Decision struct {
	Findings []Finding
	Flag     bool
}

var (
	emailEvidence = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+`)
	phoneEvidence = regexp.MustCompile(`\+?\d[\d\-\s().]{6,}\d`)
)

// Evaluate runs the rules in their declared order and returns the findings.
func (p Policy) Evaluate(in Input) Decision {
	var findings []Finding

	if in.OCRConfidence != nil && *in.OCRConfidence < p.MinOCRConfidence {
		findings = append(findings, Finding{
			Type:    types.IssueLowOCRConfidence,
			Details: fmt.Sprintf("Confidence below threshold: %.1f%%", *in.OCRConfidence),
		})
	}

	if in.JSONConfidence != nil && *in.JSONConfidence < p.MinJSONConfidence {
		findings = append(findings, Finding{
			Type:    types.IssueLowJSONConfidence,
			Details: fmt.Sprintf("Confidence below threshold: %.1f%%", *in.JSONConfidence),
		})
	}

	if in.JSONCompleteness != nil && *in.JSONCompleteness < p.MinCompleteness {
		findings = append(findings, Finding{
			Type:    types.IssueLowJSONCompleteness,
			Details: fmt.Sprintf("Completeness below threshold: %.1f%%", *in.JSONCompleteness),
		})
	}

	if in.CorrectionCount != nil && *in.CorrectionCount >= p.MaxCorrections {
		findings = append(findings, Finding{
			Type:    types.IssueMultipleCorrections,
			Details: fmt.Sprintf("Document required %d correction attempts", *in.CorrectionCount),
		})
	}

	if missing := p.missingContactFields(in.Record, in.SourceText); len(missing) > 0 {
		findings = append(findings, Finding{
			Type:    types.IssueMissingContact,
			Details: "Missing contact fields: " + strings.Join(missing, ", "),
		})
	}

	if in.StructureValid != nil && !*in.StructureValid {
		findings = append(findings, Finding{
			Type:    types.IssueSchemaValidation,
			Details: "Structured output does not match the expected schema",
		})
	}

	if in.Coverage != nil && in.AttemptsExhausted && *in.Coverage < p.MinCoverage {
		findings = append(findings, Finding{
			Type:    types.IssueValidationFailure,
			Details: fmt.Sprintf("Coverage %.1f%% below threshold after max attempts", *in.Coverage*100),
		})
	}

	return Decision{Findings: findings, Flag: len(findings) > 0}
}

// missingContactFields returns the contact fields absent from the record
// for which the source text carries evidence, in stable order.
func (p Policy) missingContactFields(record map[string]any, sourceText string) []string {
	if record == nil || sourceText == "" {
		return nil
	}

	var missing []string
	for _, field := range types.ContactKeys {
		if hasStringValue(record, field) {
			continue
		}
		if contactEvidence(field, sourceText) {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// contactEvidence reports whether the source text suggests the field should
// have been extractable.
func contactEvidence(field, text string) bool {
	switch field {
	case "Email":
		return emailEvidence.MatchString(text)
	case "Phone":
		return phoneEvidence.MatchString(text)
	case "Name":
		return strings.TrimSpace(text) != ""
	}
	return false
}

func hasStringValue(record map[string]any, key string) bool {
	v, ok := record[key]
	if !ok || v == nil {
		return false
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

// FromConfig derives a policy from the correction thresholds.
func FromConfig(minCoverage float64, maxAttempts int) Policy {
	p := DefaultPolicy()
	if minCoverage > 0 {
		p.MinCoverage = minCoverage
	}
	if maxAttempts > 0 {
		p.MaxCorrections = maxAttempts
	}
	return p
}
