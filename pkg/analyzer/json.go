package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the first JSON object out of a model response. Models
// occasionally wrap the object in markdown fences or surround it with prose,
// so this scans for balanced braces instead of trusting the whole string.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)

	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response: %q", truncate(s, 120))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response: %q", truncate(s, 120))
}

// decodeModelJSON extracts and unmarshals a JSON object, with one repair
// attempt for trailing commas before giving up.
func decodeModelJSON(raw string, out any) error {
	obj, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err == nil {
		return nil
	}

	repaired := strings.ReplaceAll(obj, ",}", "}")
	repaired = strings.ReplaceAll(repaired, ",]", "]")
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
