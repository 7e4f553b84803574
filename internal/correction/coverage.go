// Package correction implements the auto-correction loop that decides when
// structured output is acceptable, together with the coverage math it
// depends on.
package correction

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"skilllab/internal/types"
)

// normalizeWord lowercases a token and strips non-alphanumeric runes.
func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// significant reports whether a normalized token counts toward coverage:
// longer than two runes and not purely numeric.
func significant(w string) bool {
	if len([]rune(w)) <= 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// SignificantWords returns the set of significant words in text.
func SignificantWords(text string) map[string]struct{} {
	words := map[string]struct{}{}
	for _, field := range strings.Fields(text) {
		w := normalizeWord(field)
		if significant(w) {
			words[w] = struct{}{}
		}
	}
	return words
}

// FlattenRecord concatenates every string value in the record, recursively,
// into one text blob for coverage comparison.
func FlattenRecord(record map[string]any) string {
	var b strings.Builder
	flattenValue(&b, record)
	return b.String()
}

func flattenValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case string:
		b.WriteString(val)
		b.WriteByte(' ')
	case map[string]any:
		// Stable order keeps the flattened text deterministic.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(b, val[k])
		}
	case []any:
		for _, item := range val {
			flattenValue(b, item)
		}
	}
}

// CoverageScore returns the fraction of significant words from the source
// text that also appear in the record's flattened text. An empty source
// yields full coverage.
func CoverageScore(record map[string]any, sourceText string) float64 {
	source := SignificantWords(sourceText)
	if len(source) == 0 {
		return 1.0
	}
	extracted := SignificantWords(FlattenRecord(record))

	var hit int
	for w := range source {
		if _, ok := extracted[w]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(source))
}

// StructureValid checks the record's shape: all six schema keys present,
// Skills a list, Experience a list of objects each carrying company, title
// and years.
func StructureValid(record map[string]any) bool {
	if record == nil {
		return false
	}
	for _, key := range types.RecordKeys {
		if _, ok := record[key]; !ok {
			return false
		}
	}
	if _, ok := record["Skills"].([]any); !ok {
		return false
	}
	exps, ok := record["Experience"].([]any)
	if !ok {
		return false
	}
	for _, e := range exps {
		entry, ok := e.(map[string]any)
		if !ok {
			return false
		}
		for _, key := range []string{"company", "title", "years"} {
			if _, ok := entry[key]; !ok {
				return false
			}
		}
	}
	return true
}

// minSkillsSourceLen gates the sparse-extraction checks: short documents
// legitimately yield few skills or no experience.
const minSkillsSourceLen = 500

// EnumerateProblems lists the concrete problems the regeneration prompt
// should address for the given record.
func EnumerateProblems(record map[string]any, sourceText string, coverage, threshold float64) []string {
	problems := []string{
		fmt.Sprintf("Coverage %.1f%% is below the required %.1f%% (gap %.1f%%)",
			coverage*100, threshold*100, (threshold-coverage)*100),
	}

	if hasContactGap(record, "Name", sourceText) {
		problems = append(problems, "Name is missing")
	}
	if hasContactGap(record, "Email", sourceText) {
		problems = append(problems, "Email is missing")
	}
	if hasContactGap(record, "Phone", sourceText) {
		problems = append(problems, "Phone is missing")
	}

	if len(sourceText) > minSkillsSourceLen {
		if skills, ok := record["Skills"].([]any); ok && len(skills) < 3 {
			problems = append(problems, "Few or no Skills extracted")
		}
		if exps, ok := record["Experience"].([]any); ok && len(exps) == 0 {
			problems = append(problems, "No Experience entries")
		}
	}

	// Only the generic coverage entry: give the model something actionable.
	if len(problems) == 1 {
		problems = append(problems, "Extract more information from the source text")
	}
	return problems
}

func hasContactGap(record map[string]any, field, sourceText string) bool {
	v, ok := record[field]
	if ok && v != nil {
		if s, isStr := v.(string); !isStr || strings.TrimSpace(s) != "" {
			return false
		}
	}
	switch field {
	case "Email":
		return strings.Contains(sourceText, "@")
	case "Phone":
		return strings.IndexFunc(sourceText, unicode.IsDigit) >= 0
	default:
		return strings.TrimSpace(sourceText) != ""
	}
}
