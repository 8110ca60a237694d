package extraction

import (
	"regexp"
	"strings"
	"time"
)

type datePattern struct {
	re         *regexp.Regexp
	layouts    []string
	confidence float64
}

// Ordered from most to least specific. Day-first layouts are preferred for slash dates.
var datePatterns = []datePattern{
	{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), []string{"2006-01-02"}, 0.95},
	{regexp.MustCompile(`\b(\d{1,2}(?:st|nd|rd|th)?[\s\-]+[A-Za-z]{3,9}\.?,?[\s\-]+\d{4})\b`), []string{"2 Jan 2006", "2 January 2006"}, 0.90},
	{regexp.MustCompile(`\b([A-Za-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`), []string{"Jan 2 2006", "January 2 2006"}, 0.90},
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`), []string{"2/1/2006", "1/2/2006"}, 0.85},
	{regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`), []string{"2.1.2006"}, 0.85},
	{regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-\d{4})\b`), []string{"2-1-2006"}, 0.85},
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2})\b`), []string{"2/1/06", "1/2/06"}, 0.80},
}

var ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)

// ParseDate finds the first recognisable date in s and returns it with a pattern confidence.
func ParseDate(s string) (time.Time, float64, bool) {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		candidate := cleanDateText(m[1])
		for _, layout := range p.layouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, p.confidence, true
			}
		}
	}
	return time.Time{}, 0, false
}

// parseDateToken accepts a date only when it spans the whole field.
func parseDateToken(field string) (time.Time, float64, bool) {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(field)
		if m == nil || m[1] != field {
			continue
		}
		candidate := cleanDateText(field)
		for _, layout := range p.layouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, p.confidence, true
			}
		}
	}
	return time.Time{}, 0, false
}

func cleanDateText(s string) string {
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(",", " ", ".", ".", "-", " ").Replace(s)
	// Numeric dash dates keep their separators for the dash layout.
	if isAllDigitsAnd(s, ' ') && strings.Count(s, " ") == 2 {
		s = strings.ReplaceAll(s, " ", "-")
	}
	s = strings.Join(strings.Fields(s), " ")
	return normalizeMonth(s)
}

func isAllDigitsAnd(s string, sep rune) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != sep {
			return false
		}
	}
	return true
}

// normalizeMonth title-cases month names and drops trailing dots so time.Parse accepts them.
func normalizeMonth(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		p = strings.TrimSuffix(p, ".")
		if p == "" || p[0] < 'A' || (p[0] > 'Z' && p[0] < 'a') || p[0] > 'z' {
			continue
		}
		lower := strings.ToLower(p)
		if lower == "sept" {
			lower = "sep"
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
