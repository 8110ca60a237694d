package extraction

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain"
)

// Base confidences per recognised shape.
const (
	confCurrencySymbol = 0.95
	confCurrencyCode   = 0.90
	confMoneyShaped    = 0.85
	confInteger        = 0.90
	confDecimal        = 0.85
	confPercent        = 0.90
	confText           = 1.00

	factorSuperscript  = 0.8
	factorConfusable   = 0.7
	factorCommaDecimal = 0.9
	factorThousands    = 0.9
	factorMojibake     = 0.9
)

var currencySymbols = map[string]string{
	"£": "GBP",
	"€": "EUR",
	"$": "USD",
	"¥": "JPY",
	"₹": "INR",
}

var symbolOrder = []string{"£", "€", "$", "¥", "₹"}

var currencyCodes = map[string]bool{
	"GBP": true, "EUR": true, "USD": true, "JPY": true, "INR": true,
}

var mojibake = strings.NewReplacer("Â£", "£", "â‚¬", "€", "Â€", "€")

var scriptDigits = map[rune]rune{
	'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4',
	'⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9',
	'₀': '0', '₁': '1', '₂': '2', '₃': '3', '₄': '4',
	'₅': '5', '₆': '6', '₇': '7', '₈': '8', '₉': '9',
}

// Letters OCR commonly emits in place of digits. S and B only count inside money-shaped values.
var confusables = map[rune]rune{
	'O': '0', 'o': '0', 'l': '1', 'I': '1', '|': '1', 'S': '5', 'B': '8',
}

// TokenLine is the normalised form of one raw line.
type TokenLine struct {
	Number int
	Text   string
	Tokens []domain.Token
}

// NormalizedDocument is the Token Normalizer's output.
type NormalizedDocument struct {
	Lines    []TokenLine
	Currency string
	Warnings []domain.Warning
}

// Tokens returns every token in reading order.
func (n NormalizedDocument) Tokens() []domain.Token {
	var out []domain.Token
	for _, l := range n.Lines {
		out = append(out, l.Tokens...)
	}
	return out
}

// Normalizer turns raw recognised lines into typed tokens.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize tokenises every line of doc. It never drops a field: anything that looks
// numeric but cannot be parsed is kept as a malformed text token with confidence 0.
func (n *Normalizer) Normalize(doc domain.RawDocument) NormalizedDocument {
	primary := n.normalizeLines(doc.Lines)
	out := NormalizedDocument{Lines: primary}

	currencies := map[string]int{}
	for _, line := range primary {
		for _, tok := range line.Tokens {
			if tok.Currency != "" {
				currencies[tok.Currency]++
			}
			if tok.Malformed {
				out.Warnings = append(out.Warnings, domain.Warning{
					Kind:    domain.KindNormalizationFailure,
					Code:    domain.WarningUnparseableToken,
					Line:    tok.Line,
					Raw:     tok.Raw,
					Message: "numeric-looking token could not be parsed",
				})
			}
		}
	}
	out.Currency = dominantCurrency(currencies)

	if len(doc.Secondary) > 0 {
		applyAgreement(out.Lines, n.normalizeLines(doc.Secondary))
	}
	return out
}

func (n *Normalizer) normalizeLines(lines []domain.RawLine) []TokenLine {
	order := readingOrder(lines)
	out := make([]TokenLine, 0, len(lines))
	for _, idx := range order {
		text := lines[idx].Text
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, TokenLine{
			Number: idx,
			Text:   text,
			Tokens: tokenizeLine(text, idx),
		})
	}
	return out
}

// readingOrder sorts lines top-to-bottom, left-to-right when every line has a box.
func readingOrder(lines []domain.RawLine) []int {
	order := make([]int, len(lines))
	allBoxed := len(lines) > 0
	for i := range lines {
		order[i] = i
		if lines[i].Box == nil {
			allBoxed = false
		}
	}
	if !allBoxed {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		ba, bb := lines[order[a]].Box, lines[order[b]].Box
		if ba.Y != bb.Y {
			return ba.Y < bb.Y
		}
		return ba.X < bb.X
	})
	return order
}

type field struct {
	text   string
	offset int
}

func splitFields(line string) []field {
	runes := []rune(line)
	var fields []field
	start := -1
	for pos, r := range runes {
		sep := unicode.IsSpace(r) || r == '|'
		if sep && start >= 0 {
			fields = append(fields, field{text: string(runes[start:pos]), offset: start})
			start = -1
		} else if !sep && start < 0 {
			start = pos
		}
	}
	if start >= 0 {
		fields = append(fields, field{text: string(runes[start:]), offset: start})
	}
	return mergeDetachedCurrency(fields)
}

// mergeDetachedCurrency joins "£ 12.50" and "GBP 12.50" into one field.
func mergeDetachedCurrency(fields []field) []field {
	out := make([]field, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		_, isSymbol := currencySymbols[mojibake.Replace(f.text)]
		if (isSymbol || currencyCodes[f.text]) && i+1 < len(fields) && startsNumeric(fields[i+1].text) {
			out = append(out, field{text: f.text + fields[i+1].text, offset: f.offset})
			i++
			continue
		}
		out = append(out, f)
	}
	return out
}

func startsNumeric(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r) || r == '-' || r == '('
	}
	return false
}

func tokenizeLine(text string, line int) []domain.Token {
	fields := splitFields(text)
	tokens := make([]domain.Token, 0, len(fields))
	for i, f := range fields {
		tok := classifyField(f.text)
		tok.Line = line
		tok.Index = i
		tok.Offset = f.offset
		tokens = append(tokens, tok)
	}
	return tokens
}

// classifyField maps one whitespace-delimited field onto exactly one token kind.
func classifyField(raw string) domain.Token {
	if t, conf, ok := parseDateToken(raw); ok {
		return domain.Token{Kind: domain.TokenDate, Raw: raw, Date: t, Confidence: conf}
	}

	body := strings.TrimPrefix(raw, "@")
	if strings.HasSuffix(body, "%") {
		if v, _, factor, ok := parseNumeric(strings.TrimSuffix(body, "%")); ok {
			return domain.Token{Kind: domain.TokenPercent, Raw: raw, Number: v, Confidence: confPercent * factor}
		}
	}

	if v, ok := parseMultiplier(raw); ok {
		return domain.Token{Kind: domain.TokenNumber, Raw: raw, Number: v, Confidence: confInteger}
	}

	stripped, code, symbolConf := stripCurrency(raw)
	if !looksNumeric(stripped) {
		return domain.Token{Kind: domain.TokenText, Raw: raw, Text: raw, Confidence: textConfidence(raw)}
	}

	v, places, factor, ok := parseNumeric(stripped)
	if !ok {
		return domain.Token{Kind: domain.TokenText, Raw: raw, Text: raw, Confidence: 0, Malformed: true}
	}

	switch {
	case code != "":
		return domain.Token{
			Kind: domain.TokenCurrency, Raw: raw, Number: v, Amount: domain.MoneyFromDecimal(v),
			Currency: code, Confidence: symbolConf * factor,
		}
	case places == 2:
		return domain.Token{
			Kind: domain.TokenCurrency, Raw: raw, Number: v, Amount: domain.MoneyFromDecimal(v),
			Confidence: confMoneyShaped * factor,
		}
	case places == 0:
		return domain.Token{Kind: domain.TokenNumber, Raw: raw, Number: v, Confidence: confInteger * factor}
	default:
		return domain.Token{Kind: domain.TokenNumber, Raw: raw, Number: v, Confidence: confDecimal * factor}
	}
}

func textConfidence(raw string) float64 {
	if strings.ContainsRune(raw, unicode.ReplacementChar) {
		return 0.5
	}
	return confText
}

// parseMultiplier accepts quantity markers such as "x2", "2x" and "×3".
func parseMultiplier(raw string) (decimal.Decimal, bool) {
	lower := strings.ToLower(raw)
	var digits string
	switch {
	case strings.HasPrefix(lower, "x"):
		digits = lower[1:]
	case strings.HasPrefix(lower, "×"):
		digits = strings.TrimPrefix(lower, "×")
	case strings.HasSuffix(lower, "x"):
		digits = lower[:len(lower)-1]
	default:
		return decimal.Decimal{}, false
	}
	if digits == "" {
		return decimal.Decimal{}, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return decimal.Decimal{}, false
		}
	}
	v, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

// stripCurrency removes currency symbols and ISO codes from either end of s.
func stripCurrency(s string) (rest, code string, conf float64) {
	conf = confCurrencySymbol
	if fixed := mojibake.Replace(s); fixed != s {
		s = fixed
		conf *= factorMojibake
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	for _, sym := range symbolOrder {
		iso := currencySymbols[sym]
		if strings.HasPrefix(s, sym) {
			s, code = strings.TrimPrefix(s, sym), iso
		} else if strings.HasSuffix(s, sym) {
			s, code = strings.TrimSuffix(s, sym), iso
		}
	}
	if code == "" && len(s) > 3 {
		if currencyCodes[s[:3]] {
			s, code, conf = s[3:], s[:3], confCurrencyCode
		} else if currencyCodes[s[len(s)-3:]] {
			s, code, conf = s[:len(s)-3], s[len(s)-3:], confCurrencyCode
		}
	}
	if neg {
		s = "-" + s
	}
	return s, code, conf
}

// looksNumeric reports whether s is built only from digits, separators and digit look-alikes.
func looksNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case scriptDigits[r] != 0:
			digits++
		case strings.ContainsRune(".,'-()", r):
		case confusables[r] != 0:
		default:
			return false
		}
	}
	return digits > 0
}

// parseNumeric parses an OCR'd number, returning the value, its decimal places and a
// confidence factor reflecting how much repair was needed.
func parseNumeric(s string) (decimal.Decimal, int, float64, bool) {
	factor := 1.0
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	} else if strings.HasSuffix(s, "-") {
		neg = !neg
		s = s[:len(s)-1]
	}

	hasSeparator := strings.ContainsAny(s, ".,")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case scriptDigits[r] != 0:
			b.WriteRune(scriptDigits[r])
			factor *= factorSuperscript
		case r == '\'':
		case confusables[r] != 0:
			if (r == 'S' || r == 'B') && !hasSeparator {
				return decimal.Decimal{}, 0, 0, false
			}
			b.WriteRune(confusables[r])
			factor *= factorConfusable
		default:
			return decimal.Decimal{}, 0, 0, false
		}
	}

	clean, sepFactor, ok := resolveSeparators(b.String())
	if !ok {
		return decimal.Decimal{}, 0, 0, false
	}
	v, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, 0, 0, false
	}
	if neg {
		v = v.Neg()
	}
	places := 0
	if i := strings.IndexByte(clean, '.'); i >= 0 {
		places = len(clean) - i - 1
	}
	return v, places, factor * sepFactor, true
}

// resolveSeparators rewrites s so that '.' is the only decimal separator and no
// thousands separators remain.
func resolveSeparators(s string) (string, float64, bool) {
	if s == "" || strings.Trim(s, ".,") == "" {
		return "", 0, false
	}
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma < 0 && lastDot < 0:
		return s, 1, true

	case lastComma >= 0 && lastDot >= 0:
		decSep, thouSep := byte('.'), ","
		if lastComma > lastDot {
			decSep, thouSep = ',', "."
		}
		idx := strings.LastIndexByte(s, decSep)
		intPart := s[:idx]
		if strings.ContainsRune(intPart, rune(decSep)) || !validGroups(intPart, thouSep) {
			return "", 0, false
		}
		return strings.ReplaceAll(intPart, thouSep, "") + "." + s[idx+1:], 1, true

	case lastComma >= 0:
		return resolveSingleSeparator(s, ",")

	default:
		return resolveSingleSeparator(s, ".")
	}
}

func resolveSingleSeparator(s, sep string) (string, float64, bool) {
	count := strings.Count(s, sep)
	idx := strings.LastIndex(s, sep)
	tail := len(s) - idx - 1
	if count > 1 {
		if validGroups(s, sep) {
			return strings.ReplaceAll(s, sep, ""), factorThousands, true
		}
		return "", 0, false
	}
	if tail == 0 || idx == 0 && sep == "," {
		return "", 0, false
	}
	if sep == "." {
		if idx == 0 {
			s = "0" + s
		}
		return s, 1, true
	}
	// A single comma: two digits after reads as a decimal comma, three as thousands.
	if tail == 3 && validGroups(s, sep) {
		return strings.ReplaceAll(s, sep, ""), factorThousands, true
	}
	return strings.Replace(s, ",", ".", 1), factorCommaDecimal, true
}

// validGroups checks that every group after the first has exactly three digits.
func validGroups(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 && len(groups) > 1 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func dominantCurrency(counts map[string]int) string {
	best, bestN := "", 0
	for code, n := range counts {
		if n > bestN || n == bestN && code < best {
			best, bestN = code, n
		}
	}
	return best
}
