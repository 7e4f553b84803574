package types

import (
	"encoding/json"
	"time"
)

// IssueType is the closed vocabulary of data-quality issues.
type IssueType string

const (
	IssueLowOCRConfidence     IssueType = "low_ocr_confidence"
	IssueLowJSONConfidence    IssueType = "low_json_confidence"
	IssueMissingContact       IssueType = "missing_contact"
	IssueValidationFailure    IssueType = "validation_failure"
	IssueMultipleCorrections  IssueType = "multiple_corrections"
	IssueOCRExtractionFailure IssueType = "ocr_extraction_failure"
	IssueLowJSONCompleteness  IssueType = "low_json_completeness"
	IssueSchemaValidation     IssueType = "schema_validation"
)

// KnownIssueType reports whether t belongs to the closed vocabulary.
func KnownIssueType(t IssueType) bool {
	switch t {
	case IssueLowOCRConfidence, IssueLowJSONConfidence, IssueMissingContact,
		IssueValidationFailure, IssueMultipleCorrections, IssueOCRExtractionFailure,
		IssueLowJSONCompleteness, IssueSchemaValidation:
		return true
	}
	return false
}

// Issue is an append-only quality finding attached to a document.
type Issue struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Type       IssueType `json:"type"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

// IssueView is the uniform {type, details} shape exposed by the per-document
// detail lookups. Its unmarshaller accepts both the canonical keys and the
// legacy issue_type/issue_details keys still present in old rows.
type IssueView struct {
	Type    IssueType `json:"type"`
	Details string    `json:"details"`
}

type issueViewWire struct {
	Type          IssueType `json:"type"`
	Details       string    `json:"details"`
	LegacyType    IssueType `json:"issue_type"`
	LegacyDetails string    `json:"issue_details"`
}

// UnmarshalJSON normalizes legacy issue payloads to the canonical shape.
func (v *IssueView) UnmarshalJSON(data []byte) error {
	var w issueViewWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Type = w.Type
	v.Details = w.Details
	if v.Type == "" {
		v.Type = w.LegacyType
	}
	if v.Details == "" {
		v.Details = w.LegacyDetails
	}
	return nil
}
