package llm

import (
	"context"

	"go.uber.org/zap"

	"skilllab/internal/types"
)

// GenerateRecord extracts a resume record from OCR text. When the model
// response carries no parseable JSON, an empty record template is returned
// so downstream stages always see the full key set.
func (c *Client) GenerateRecord(ctx context.Context, sourceText string) (map[string]any, error) {
	response, err := c.Generate(ctx, BuildExtractionPrompt(sourceText))
	if err != nil {
		return nil, err
	}

	record, ok := ExtractJSON(response)
	if !ok {
		c.log.Warn("model response carried no parseable json, using empty template",
			zap.Int("response_len", len(response)))
		return types.EmptyRecord(), nil
	}
	return normalizeRecord(record), nil
}

// Regenerate re-extracts a record given the previous attempt and the
// problems found in it. Satisfies the correction loop's generator contract.
func (c *Client) Regenerate(ctx context.Context, record map[string]any, sourceText string, problems []string) (map[string]any, error) {
	response, err := c.Generate(ctx, BuildCorrectionPrompt(record, sourceText, problems))
	if err != nil {
		return nil, err
	}

	improved, ok := ExtractJSON(response)
	if !ok {
		c.log.Warn("correction response carried no parseable json, keeping previous record")
		return record, nil
	}
	return normalizeRecord(improved), nil
}

// normalizeRecord fills missing expected keys with null so every record
// carries the full key set regardless of what the model emitted.
func normalizeRecord(record map[string]any) map[string]any {
	for _, key := range types.RecordKeys {
		if _, ok := record[key]; !ok {
			switch key {
			case "Skills", "Experience":
				record[key] = []any{}
			default:
				record[key] = nil
			}
		}
	}
	return record
}
