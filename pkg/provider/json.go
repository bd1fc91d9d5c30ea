package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/zuluhq/zulu/pkg/log"
)

var (
	jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
	jsonArrayPattern  = regexp.MustCompile(`\[[\s\S]*\]`)
)

// ExtractJSON recovers a JSON object from model output. Tries a direct
// parse, then the widest {...} span, then the widest [...] span wrapped as
// {"items": ...}. Returns an empty map when nothing parses.
func ExtractJSON(text string) map[string]any {
	text = StripFences(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}

	if match := jsonObjectPattern.FindString(text); match != "" {
		if err := json.Unmarshal([]byte(match), &obj); err == nil {
			return obj
		}
	}

	if match := jsonArrayPattern.FindString(text); match != "" {
		var items []any
		if err := json.Unmarshal([]byte(match), &items); err == nil {
			return map[string]any{"items": items}
		}
	}

	logger := log.WithComponent("provider")
	logger.Warn().
		Str("prefix", firstChars(text, 200)).
		Msg("failed to extract JSON from response")
	return map[string]any{}
}

// StripFences removes markdown code fences (```json ... ```) wrapping
// model output
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func firstChars(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
