package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// recordSchema is the exact JSON shape the model must produce. Keys absent
// from the source text are filled with null rather than omitted.
const recordSchema = `{
  "Name": "full name or null",
  "Email": "email address or null",
  "Phone": "phone number or null",
  "Current_Position": "most recent job title or null",
  "Skills": ["skill1", "skill2"],
  "Experience": [{"company": "name", "title": "role", "years": "duration"}]
}`

// BuildExtractionPrompt pins the record schema and instructs the model to
// answer with JSON only.
func BuildExtractionPrompt(sourceText string) string {
	var b strings.Builder
	b.WriteString("You are an expert resume parser. Extract structured information from the resume text below.\n\n")
	b.WriteString("Return ONLY a JSON object with exactly this structure:\n")
	b.WriteString(recordSchema)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Use null for any field not present in the text. Never omit a key.\n")
	b.WriteString("- Skills is a flat list of individual skills, not sentences.\n")
	b.WriteString("- Experience entries must each have company, title, and years.\n")
	b.WriteString("- Do not include any text outside the JSON object.\n\n")
	b.WriteString("Resume text:\n")
	b.WriteString(sourceText)
	return b.String()
}

// BuildCorrectionPrompt feeds the previous attempt and its detected problems
// back to the model so the next attempt can address them.
func BuildCorrectionPrompt(record map[string]any, sourceText string, problems []string) string {
	previous, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		previous = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("You are an expert resume parser. A previous extraction of this resume was incomplete.\n\n")
	b.WriteString("Previous extraction:\n")
	b.Write(previous)
	b.WriteString("\n\nProblems detected:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\nProduce an improved JSON object with exactly this structure:\n")
	b.WriteString(recordSchema)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Fix every listed problem using the resume text.\n")
	b.WriteString("- Keep correct values from the previous extraction.\n")
	b.WriteString("- Use null for fields genuinely absent from the text. Never omit a key.\n")
	b.WriteString("- Do not include any text outside the JSON object.\n\n")
	b.WriteString("Resume text:\n")
	b.WriteString(sourceText)
	return b.String()
}
