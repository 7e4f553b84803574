package types

// ResumeRecord is the logical payload extracted from one document.
// Single-value fields are nullable; list fields preserve extraction order
// and are never nil in persisted form (empty lists instead).
type ResumeRecord struct {
	Name            *string      `json:"Name"`
	Email           *string      `json:"Email"`
	Phone           *string      `json:"Phone"`
	CurrentPosition *string      `json:"Current_Position"`
	Skills          []string     `json:"Skills"`
	Experience      []Experience `json:"Experience"`
}

// Experience is one employment entry. All fields are free-text strings.
type Experience struct {
	Company string `json:"company"`
	Title   string `json:"title"`
	Years   string `json:"years"`
}

// RecordKeys lists the keys a structurally valid record must carry.
var RecordKeys = []string{"Name", "Email", "Phone", "Current_Position", "Skills", "Experience"}

// ContactKeys lists the critical contact fields checked by the quality rules.
var ContactKeys = []string{"Name", "Email", "Phone"}

// EmptyRecord returns a record map with null single values and empty lists,
// the shape the structure collaborator is instructed to emit for missing data.
func EmptyRecord() map[string]any {
	return map[string]any{
		"Name":             nil,
		"Email":            nil,
		"Phone":            nil,
		"Current_Position": nil,
		"Skills":           []any{},
		"Experience":       []any{},
	}
}

// RecordFromMap converts a raw record map into a typed ResumeRecord.
// Unknown keys are dropped; malformed entries are skipped.
func RecordFromMap(m map[string]any) ResumeRecord {
	rec := ResumeRecord{
		Skills:     []string{},
		Experience: []Experience{},
	}
	rec.Name = stringPtr(m["Name"])
	rec.Email = stringPtr(m["Email"])
	rec.Phone = stringPtr(m["Phone"])
	rec.CurrentPosition = stringPtr(m["Current_Position"])

	if skills, ok := m["Skills"].([]any); ok {
		for _, s := range skills {
			if str, ok := s.(string); ok {
				rec.Skills = append(rec.Skills, str)
			}
		}
	}
	if exps, ok := m["Experience"].([]any); ok {
		for _, e := range exps {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			exp := Experience{}
			if c, ok := entry["company"].(string); ok {
				exp.Company = c
			}
			if t, ok := entry["title"].(string); ok {
				exp.Title = t
			}
			if y, ok := entry["years"].(string); ok {
				exp.Years = y
			}
			rec.Experience = append(rec.Experience, exp)
		}
	}
	return rec
}

// RecordToMap converts a typed record back into the raw map shape used by
// the validated-json files and the correction loop.
func (r ResumeRecord) RecordToMap() map[string]any {
	m := EmptyRecord()
	if r.Name != nil {
		m["Name"] = *r.Name
	}
	if r.Email != nil {
		m["Email"] = *r.Email
	}
	if r.Phone != nil {
		m["Phone"] = *r.Phone
	}
	if r.CurrentPosition != nil {
		m["Current_Position"] = *r.CurrentPosition
	}
	skills := make([]any, 0, len(r.Skills))
	for _, s := range r.Skills {
		skills = append(skills, s)
	}
	m["Skills"] = skills
	exps := make([]any, 0, len(r.Experience))
	for _, e := range r.Experience {
		exps = append(exps, map[string]any{
			"company": e.Company,
			"title":   e.Title,
			"years":   e.Years,
		})
	}
	m["Experience"] = exps
	return m
}

func stringPtr(v any) *string {
	if s, ok := v.(string); ok && s != "" {
		return &s
	}
	return nil
}

// ValidationInfo is the sidecar validation block carried by validated-json
// files on disk.
type ValidationInfo struct {
	IsValid            bool    `json:"is_valid"`
	Coverage           float64 `json:"coverage"`
	CorrectionAttempts int     `json:"correction_attempts"`
	StructureValid     bool    `json:"structure_valid"`
}

// ValidatedDocument is the on-disk shape of validated_json/<doc_id>_validated.json.
type ValidatedDocument struct {
	DocID      string         `json:"doc_id"`
	Record     map[string]any `json:"record"`
	Validation ValidationInfo `json:"validation"`
	ImagePaths []string       `json:"image_paths"`
}

// StructuredDocument is the on-disk shape of json_results/<doc_id>_structured.json.
type StructuredDocument struct {
	DocID      string         `json:"doc_id"`
	Record     map[string]any `json:"record"`
	Confidence float64        `json:"json_confidence"`
}

// =============================================================================
// OCR RESULT SHAPES (§6 OCR collaborator)
// =============================================================================

// TextElement is one recognized text span with its quadrilateral bbox.
type TextElement struct {
	Text       string      `json:"text"`
	BBox       [][]float64 `json:"bbox"`
	Confidence float64     `json:"confidence"`
}

// PageResult is the OCR output for one page.
type PageResult struct {
	TextElements []TextElement `json:"text_elements"`
	FullText     string        `json:"full_text"`
	TextCount    int           `json:"text_count"`
}

// OCRResult is the per-PDF OCR collaborator response, persisted as
// ocr_results/<doc_id>_ocr.json.
type OCRResult struct {
	FileID         string       `json:"file_id"`
	PageCount      int          `json:"page_count"`
	ImagePaths     []string     `json:"image_paths"`
	PageResults    []PageResult `json:"page_results"`
	CombinedText   string       `json:"combined_text"`
	ProcessingTime float64      `json:"processing_time"`
}

// MeanConfidence returns the mean per-element confidence across all pages,
// in the collaborator's native [0,1] range. Zero elements yield zero.
func (r *OCRResult) MeanConfidence() float64 {
	var sum float64
	var n int
	for _, page := range r.PageResults {
		for _, el := range page.TextElements {
			sum += el.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
