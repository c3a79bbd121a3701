package llm

import "encoding/json"

// parseJSONSchema converts a JSON schema string to a map.
func parseJSONSchema(schemaStr string) map[string]any {
	if schemaStr == "" {
		return nil
	}

	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaStr), &schema); err != nil {
		// If parsing fails, return nil - the API will handle the error
		return nil
	}

	return schema
}

// requiredFields extracts the "required" list of a parsed schema.
func requiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// EstimateTokens estimates the token count of text. ASCII runes weigh one
// quarter of a token and other runes a full token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
