package extraction

import (
	"regexp"
	"strings"

	"ledgerline/internal/domain"
)

const (
	confLabelled = 0.9
	confFallback = 0.6
	// headerScanLines bounds the fallback scans to the top of the page.
	headerScanLines = 8
)

var (
	invoiceNumberRe = regexp.MustCompile(`(?i)\b(?:invoice|inv|ref)\.?\s*(?:no\.?|number|num|#)\s*[:.#]?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`)
	invoiceBareRe   = regexp.MustCompile(`(?i)^\s*invoice\s*[:#]\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`)
	dateLabelRe     = regexp.MustCompile(`(?i)\b(?:invoice\s+|tax\s+point\s+)?date\b\s*[:.]?\s*(.+)$`)
	supplierLabelRe = regexp.MustCompile(`(?i)^\s*(?:supplier|vendor|from|sold\s+by)\s*[:\-]\s*(.+)$`)
	companySuffixRe = regexp.MustCompile(`(?i)\b(ltd|limited|plc|llc|inc|gmbh|llp)\b\.?`)
	venueLabelRe    = regexp.MustCompile(`(?i)^\s*(?:venue|site|deliver(?:ed)?\s+to|ship\s+to|delivery\s+address)\s*[:\-]\s*(.+)$`)
	currencyCodeRe  = regexp.MustCompile(`\b(GBP|EUR|USD|JPY|INR)\b`)
)

// HeaderExtractor pulls invoice identity fields out of the raw text.
type HeaderExtractor interface {
	Extract(doc domain.RawDocument) domain.Header
}

// PatternHeaderExtractor is the regex based HeaderExtractor.
type PatternHeaderExtractor struct{}

// NewPatternHeaderExtractor creates a PatternHeaderExtractor.
func NewPatternHeaderExtractor() *PatternHeaderExtractor {
	return &PatternHeaderExtractor{}
}

// Extract scans labelled lines first and falls back to positional guesses near the top.
func (p *PatternHeaderExtractor) Extract(doc domain.RawDocument) domain.Header {
	h := domain.Header{Confidence: map[string]float64{}}
	lines := doc.Texts()

	for _, line := range lines {
		if h.InvoiceNumber == "" {
			if m := invoiceNumberRe.FindStringSubmatch(line); m != nil {
				h.InvoiceNumber = m[1]
				h.Confidence["invoice_number"] = confLabelled
			} else if m := invoiceBareRe.FindStringSubmatch(line); m != nil {
				h.InvoiceNumber = m[1]
				h.Confidence["invoice_number"] = confFallback
			}
		}
		if h.InvoiceDate == "" {
			if m := dateLabelRe.FindStringSubmatch(line); m != nil && !strings.Contains(strings.ToLower(line), "due") {
				if t, conf, ok := ParseDate(m[1]); ok {
					h.InvoiceDate = t.Format("2006-01-02")
					h.Confidence["invoice_date"] = conf
				}
			}
		}
		if h.SupplierName == "" {
			if m := supplierLabelRe.FindStringSubmatch(line); m != nil {
				h.SupplierName = strings.TrimSpace(m[1])
				h.Confidence["supplier_name"] = confLabelled
			}
		}
		if h.Venue == "" {
			if m := venueLabelRe.FindStringSubmatch(line); m != nil {
				h.Venue = strings.TrimSpace(m[1])
				h.Confidence["venue"] = confLabelled
			}
		}
	}

	top := lines
	if len(top) > headerScanLines {
		top = top[:headerScanLines]
	}
	if h.InvoiceDate == "" {
		for _, line := range top {
			if t, conf, ok := ParseDate(line); ok {
				h.InvoiceDate = t.Format("2006-01-02")
				h.Confidence["invoice_date"] = conf * confFallback
				break
			}
		}
	}
	if h.SupplierName == "" {
		for _, line := range top {
			if companySuffixRe.MatchString(line) {
				h.SupplierName = strings.TrimSpace(line)
				h.Confidence["supplier_name"] = confFallback
				break
			}
		}
	}
	h.Currency = detectCurrency(lines)
	return h
}

func detectCurrency(lines []string) string {
	counts := map[string]int{}
	for _, line := range lines {
		line = mojibake.Replace(line)
		for _, sym := range symbolOrder {
			counts[currencySymbols[sym]] += strings.Count(line, sym)
		}
		for _, m := range currencyCodeRe.FindAllString(line, -1) {
			counts[m]++
		}
	}
	return dominantCurrency(counts)
}
