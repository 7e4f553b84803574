// Package types provides shared type definitions used across skilllab packages.
// This package exists to break import cycles between the stores, the pipeline,
// and the review workflow. Types here are foundational data structures with no
// complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

// Status is the processing state of a document. Statuses only move forward.
type Status string

const (
	StatusRegistered  Status = "registered"
	StatusOCRComplete Status = "ocr_complete"
	StatusJSONDone    Status = "json_complete"
	StatusValidated   Status = "validated"
	StatusRecycled    Status = "recycled_for_training"
)

// statusOrder defines the forward-only progression of document statuses.
var statusOrder = map[Status]int{
	StatusRegistered:  0,
	StatusOCRComplete: 1,
	StatusJSONDone:    2,
	StatusValidated:   3,
	StatusRecycled:    4,
}

// ValidStatus reports whether s is a known document status.
func ValidStatus(s Status) bool {
	_, ok := statusOrder[s]
	return ok
}

// StatusAdvances reports whether moving from current to next respects the
// forward-only ordering. Setting the same status again is allowed.
func StatusAdvances(current, next Status) bool {
	ci, ok := statusOrder[current]
	if !ok {
		return false
	}
	ni, ok := statusOrder[next]
	if !ok {
		return false
	}
	return ni >= ci
}

// ReviewStatus is the state of a document in the human review lifecycle.
type ReviewStatus string

const (
	ReviewNone       ReviewStatus = "none"
	ReviewPending    ReviewStatus = "pending"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewApproved   ReviewStatus = "approved"
	ReviewRejected   ReviewStatus = "rejected"
	// ReviewCompleted is a legacy alias accepted on read as
	// "approved-or-rejected". New rows never get this value.
	ReviewCompleted ReviewStatus = "completed"
)

// reviewTransitions lists the allowed review state machine edges.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewNone:       {ReviewPending},
	ReviewPending:    {ReviewInProgress, ReviewRejected},
	ReviewInProgress: {ReviewApproved, ReviewRejected},
}

// ReviewTransitionAllowed reports whether the review state machine permits
// moving from current to next.
func ReviewTransitionAllowed(current, next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TerminalReviewStatus reports whether s ends the review lifecycle.
// The legacy "completed" value counts as terminal on read.
func TerminalReviewStatus(s ReviewStatus) bool {
	return s == ReviewApproved || s == ReviewRejected || s == ReviewCompleted
}

// Document is the canonical per-document record.
type Document struct {
	ID               string       `json:"doc_id"`
	Filename         string       `json:"filename"`
	Status           Status       `json:"status"`
	OCRConfidence    float64      `json:"ocr_confidence"`
	JSONConfidence   float64      `json:"json_confidence"`
	CorrectionCount  int          `json:"correction_count"`
	FlaggedForReview bool         `json:"flagged_for_review"`
	ReviewStatus     ReviewStatus `json:"review_status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// =============================================================================
// TELEMETRY ROWS
// =============================================================================

// RunStatus is the state of a pipeline run or step execution row.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// PipelineRun records one invocation of a pipeline.
type PipelineRun struct {
	ID            string     `json:"id"`
	StartStep     string     `json:"start_step"`
	EndStep       string     `json:"end_step"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        RunStatus  `json:"status"`
	DocumentCount int        `json:"document_count"`
	Details       string     `json:"details,omitempty"`
}

// StepExecution records one step invocation within a pipeline run.
// Executions of the same step in the same run are ordered by StartTime.
type StepExecution struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	StepName      string     `json:"step_name"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        RunStatus  `json:"status"`
	DocumentCount int        `json:"document_count"`
	Details       string     `json:"details,omitempty"`
}

// Metric is one append-only time-series point.
type Metric struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"metric_type"`
	Name      string    `json:"metric_name"`
	Value     float64   `json:"value"`
	Details   string    `json:"details,omitempty"`
}

// ResourceSample is one append-only system-resource reading.
// One row is written per GPU per tick; GPUIndex is -1 when no GPU telemetry
// source exists and the GPU fields are zero.
type ResourceSample struct {
	Timestamp      time.Time `json:"timestamp"`
	Activity       string    `json:"activity"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryMB       float64   `json:"memory_mb"`
	GPUIndex       int       `json:"gpu_index"`
	GPUUtilPercent float64   `json:"gpu_util_percent"`
	GPUMemoryMB    float64   `json:"gpu_memory_mb"`
}

// =============================================================================
// REVIEW RECORDS
// =============================================================================

// ReviewFeedback is one row per completed review action.
type ReviewFeedback struct {
	DocumentID      string       `json:"document_id"`
	Status          ReviewStatus `json:"status"`
	ChangesMade     bool         `json:"changes_made"`
	Reason          string       `json:"reason,omitempty"`
	FieldsCorrected []string     `json:"fields_corrected,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
	Reviewer        string       `json:"reviewer,omitempty"`
}

// FieldCorrection is one append-only record of a reviewer edit.
type FieldCorrection struct {
	DocumentID     string    `json:"document_id"`
	FieldName      string    `json:"field_name"`
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	Timestamp      time.Time `json:"timestamp"`
}
