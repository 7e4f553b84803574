package dataset

import (
	"fmt"
	"strings"

	"skilllab/internal/types"
)

// Flatten renders a record into the fixed ground-truth text used for
// training: one line per present contact field, a comma-joined skills line,
// and one dashed line per experience entry.
func Flatten(rec types.ResumeRecord) string {
	var lines []string

	add := func(label string, value *string) {
		if value != nil && *value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", label, *value))
		}
	}
	add("Name", rec.Name)
	add("Email", rec.Email)
	add("Phone", rec.Phone)
	add("Current Position", rec.CurrentPosition)

	if len(rec.Skills) > 0 {
		lines = append(lines, "Skills: "+strings.Join(rec.Skills, ", "))
	}
	if len(rec.Experience) > 0 {
		lines = append(lines, "Experience:")
		for _, exp := range rec.Experience {
			lines = append(lines, fmt.Sprintf("- %s, %s, %s", exp.Company, exp.Title, exp.Years))
		}
	}
	return strings.Join(lines, "\n")
}

// GroundTruth wraps flattened text in the task's sequence markers.
func GroundTruth(taskName, flattened string) string {
	return fmt.Sprintf("<s_docvqa><s_%s><s_answer>%s</s_answer></s>", taskName, flattened)
}

// TaskPrompt is the prompt token paired with each sample.
func TaskPrompt(taskName string) string {
	return fmt.Sprintf("<s_%s>", taskName)
}
