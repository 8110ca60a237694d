package recognition

import (
	"encoding/json"
	"fmt"
	"strings"

	"ledgerline/internal/domain"
)

// ParseLines decodes a model transcription into raw lines. It accepts the
// {"lines": [...]} object, a bare array of line objects, or a bare array of strings, and
// tolerates a surrounding markdown code fence.
func ParseLines(text string) ([]domain.RawLine, error) {
	text = stripCodeFence(text)

	var wrapped struct {
		Lines []domain.RawLine `json:"lines"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && wrapped.Lines != nil {
		return cleanLines(wrapped.Lines), nil
	}

	var objects []domain.RawLine
	if err := json.Unmarshal([]byte(text), &objects); err == nil {
		return cleanLines(objects), nil
	}

	var plain []string
	if err := json.Unmarshal([]byte(text), &plain); err == nil {
		lines := make([]domain.RawLine, len(plain))
		for i, s := range plain {
			lines[i] = domain.RawLine{Text: s}
		}
		return cleanLines(lines), nil
	}

	return nil, fmt.Errorf("parsing transcription JSON (raw: %s)", Truncate(text, 500))
}

// SplitText turns plain text into raw lines, dropping blank lines.
func SplitText(text string) []domain.RawLine {
	var lines []domain.RawLine
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, domain.RawLine{Text: strings.TrimRight(l, " \t\r")})
	}
	return lines
}

func cleanLines(in []domain.RawLine) []domain.RawLine {
	out := make([]domain.RawLine, 0, len(in))
	for _, l := range in {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Truncate shortens s to maxLen bytes for error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
