package extraction

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// normalizeDescription lower-cases s and keeps letters and digits separated by single spaces.
func normalizeDescription(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Similarity returns 1 minus the normalised edit distance between two descriptions.
func Similarity(a, b string) float64 {
	a, b = normalizeDescription(a), normalizeDescription(b)
	if a == "" && b == "" {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
