package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// ExtractJSON strips code fences and a leading "json" tag, then falls back
// to the outermost brace pair when the text still carries prose around it.
func ExtractJSON(content string) string {
	result := strings.TrimSpace(content)
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	if strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}") {
		return result
	}

	start := strings.Index(result, "{")
	end := strings.LastIndex(result, "}")
	if start >= 0 && end > start {
		return result[start : end+1]
	}

	return result
}

// DecodeJSON unmarshals the JSON object embedded in content into v.
func DecodeJSON(content string, v any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(content)), v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// Render substitutes every {key} placeholder in template in a single pass.
// Placeholders inside substituted values are left as they are.
func Render(template string, values map[string]any) string {
	pairs := make([]string, 0, len(values)*2)
	for _, key := range pie.Sort(pie.Keys(values)) {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(values[key]))
	}

	return strings.NewReplacer(pairs...).Replace(template)
}
