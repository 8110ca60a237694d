package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain"
)

var (
	subtotalLabel   = regexp.MustCompile(`(?i)^\s*(sub[\s\-]?total|net\s+(total|amount)|total\s+net|goods\s+total|total\s+(ex|excl|excluding)\.?\s+vat)\b`)
	vatLabel        = regexp.MustCompile(`(?i)^\s*(total\s+)?(vat|tax|gst)\b`)
	grandLabel      = regexp.MustCompile(`(?i)^\s*(grand\s+total|invoice\s+total|amount\s+due|balance\s+due|total\s+due|total\s+payable|total(\s+(inc|incl|including)\.?\s+vat)?)\b`)
	// Labelled header fields: "Invoice No: 123", "Tel: 0123", "Deliver to: ...".
	headerLabel     = regexp.MustCompile(`(?i)^\s*(invoice|inv|ref|date|supplier|vendor|from|sold\s+by|venue|site|deliver(ed)?\s+to|ship\s+to|bill\s+to|delivery\s+address|tel|telephone|phone|fax|email|e-mail|account|acct|order|po|p\.o|customer|due\s+date|terms)\b[^:]{0,20}:`)
	headerStarter   = regexp.MustCompile(`(?i)^\s*(page\s+\d+|invoice\s+(no|number|#)|www\.|tel\b|phone\b)`)
	vatRegistration = regexp.MustCompile(`(?i)^\s*vat\s+(reg|registration|no|number)\b`)
	focMarker       = regexp.MustCompile(`(?i)\b(foc|f\.o\.c\.?|free\s+of\s+charge|no\s+charge|n/c)\b`)
)

var columnHeadings = map[string]bool{
	"description": true, "item": true, "items": true, "product": true, "details": true,
	"qty": true, "quantity": true, "price": true, "unit": true, "rate": true,
	"amount": true, "total": true, "vat": true, "code": true, "each": true, "net": true,
	"disc": true, "discount": true,
}

// percentColumn is what a percentage column under the table heading holds.
type percentColumn int

const (
	percentVAT percentColumn = iota
	percentDiscount
)

var percentHeadings = map[string]percentColumn{
	"vat": percentVAT, "tax": percentVAT,
	"disc": percentDiscount, "discount": percentDiscount,
}

var clusterFillers = map[string]bool{
	"x": true, "×": true, "@": true, "each": true, "ea": true, "per": true, "-": true,
}

const (
	maxPlausibleQuantity = 10000
	maxQuantityPlaces    = 3
)

// StatedTotals holds document totals printed on the invoice, when recognised.
type StatedTotals struct {
	Subtotal   domain.NullMoney
	VAT        domain.NullMoney
	GrandTotal domain.NullMoney
	VATRate    decimal.NullDecimal
}

// Reconstruction is the Line-Item Reconstructor's output.
type Reconstruction struct {
	Items    []domain.CandidateLineItem
	Totals   StatedTotals
	Warnings []domain.Warning
}

// Reconstructor groups normalised tokens into candidate line items.
type Reconstructor struct{}

// NewReconstructor creates a Reconstructor.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

type lineRole int

const (
	roleOther lineRole = iota
	roleHeading
	roleHeader
	roleSubtotal
	roleVAT
	roleGrand
	roleItem
	roleText
)

// Reconstruct segments doc into one candidate per detected row.
func (r *Reconstructor) Reconstruct(doc NormalizedDocument) Reconstruction {
	var out Reconstruction
	roles := make([]lineRole, len(doc.Lines))
	headingAt := -1
	for i, line := range doc.Lines {
		roles[i] = classifyLine(line)
		if roles[i] == roleHeading && headingAt < 0 {
			headingAt = i
		}
	}

	var layout []percentColumn
	if headingAt >= 0 {
		layout = percentLayout(doc.Lines[headingAt].Tokens)
	}

	start, end := itemRegion(roles, headingAt)
	for i, line := range doc.Lines {
		switch roles[i] {
		case roleSubtotal:
			out.Totals.Subtotal = lastAmount(line.Tokens)
		case roleVAT:
			out.Totals.VAT = lastAmount(line.Tokens)
			if rate, ok := firstPercent(line.Tokens); ok {
				out.Totals.VATRate = decimal.NewNullDecimal(rate.Number)
			}
		case roleGrand:
			out.Totals.GrandTotal = lastAmount(line.Tokens)
		case roleItem, roleText:
			if i < start || i > end {
				continue
			}
			if item, ok := buildItem(line, layout); ok {
				out.Items = append(out.Items, item)
			}
		}
	}
	return out
}

// itemRegion returns the inclusive range of line indexes that belong to the item table:
// after the column heading when there is one, otherwise from the first numeric row.
// The table ends at the first summary line, or at the last numeric row when none follows.
func itemRegion(roles []lineRole, headingAt int) (int, int) {
	start := headingAt + 1
	if headingAt < 0 {
		start = -1
		for i, role := range roles {
			if role == roleItem {
				start = i
				break
			}
		}
		if start < 0 {
			return 0, -1
		}
	}
	lastItem := start - 1
	for i := start; i < len(roles); i++ {
		switch roles[i] {
		case roleSubtotal, roleVAT, roleGrand:
			return start, i - 1
		case roleItem:
			lastItem = i
		}
	}
	return start, lastItem
}

func classifyLine(line TokenLine) lineRole {
	text := line.Text
	hasNumber, hasPercent := false, false
	for _, t := range line.Tokens {
		switch {
		case t.IsNumeric() || t.Malformed:
			hasNumber = true
		case t.Kind == domain.TokenPercent:
			hasPercent = true
		}
	}
	switch {
	case vatRegistration.MatchString(text):
		return roleHeader
	case subtotalLabel.MatchString(text):
		return roleSubtotal
	case vatLabel.MatchString(text) && (hasNumber || hasPercent):
		return roleVAT
	case grandLabel.MatchString(text) && hasNumber:
		return roleGrand
	case !hasNumber && isHeadingLine(line.Tokens):
		return roleHeading
	case headerLabel.MatchString(text) || headerStarter.MatchString(text):
		return roleHeader
	case hasNumber:
		return roleItem
	case hasText(line.Tokens):
		return roleText
	}
	return roleOther
}

func headingWord(t domain.Token) string {
	return strings.ToLower(strings.Trim(t.Raw, ":.()%"))
}

func isHeadingLine(tokens []domain.Token) bool {
	hits := 0
	for _, t := range tokens {
		if columnHeadings[headingWord(t)] {
			hits++
		}
	}
	return hits >= 2 && hits*2 >= len(tokens)
}

// percentLayout reads the heading's percentage columns left to right.
func percentLayout(tokens []domain.Token) []percentColumn {
	var layout []percentColumn
	for _, t := range tokens {
		if col, ok := percentHeadings[headingWord(t)]; ok {
			layout = append(layout, col)
		}
	}
	return layout
}

func hasText(tokens []domain.Token) bool {
	for _, t := range tokens {
		if t.Kind == domain.TokenText {
			return true
		}
	}
	return false
}

// buildItem parses one row: description tokens followed by a trailing numeric cluster.
// Percentages follow the heading's layout; without one they are VAT rates.
func buildItem(line TokenLine, layout []percentColumn) (domain.CandidateLineItem, bool) {
	tokens := line.Tokens
	item := domain.CandidateLineItem{SourceLine: line.Number}

	clusterStart := len(tokens)
	for clusterStart > 0 {
		t := tokens[clusterStart-1]
		if t.IsNumeric() || t.Malformed || t.Kind == domain.TokenPercent || isFiller(t) {
			clusterStart--
			continue
		}
		break
	}

	descStart := 0
	var leadingQty *domain.Token
	if clusterStart > 1 && quantityPlausible(tokens[0]) && countSlots(tokens[clusterStart:]) <= 2 {
		leadingQty = &tokens[0]
		descStart = 1
		if descStart < clusterStart && isFiller(tokens[descStart]) {
			descStart++
		}
	}
	item.Description, item.Confidence.Description = joinDescription(tokens[descStart:clusterStart])
	item.FreeOfCharge = focMarker.MatchString(line.Text)

	var slots []domain.Token
	percents := 0
	for _, t := range tokens[clusterStart:] {
		switch {
		case t.Kind == domain.TokenPercent:
			col := percentVAT
			if percents < len(layout) {
				col = layout[percents]
			}
			percents++
			switch {
			case col == percentDiscount && !item.Discount.Valid:
				item.Discount = decimal.NewNullDecimal(t.Number)
			case col == percentVAT && !item.VATRate.Valid:
				item.VATRate = decimal.NewNullDecimal(t.Number)
				item.Confidence.VATRate = t.Confidence
			}
		case isFiller(t):
		default:
			slots = append(slots, t)
		}
	}

	if item.Description == "" && len(slots) == 0 {
		return item, false
	}
	if leadingQty != nil {
		setQuantity(&item, *leadingQty)
	}
	assignSlots(&item, slots, leadingQty != nil)

	if item.FreeOfCharge && !item.LineTotal.Valid {
		item.LineTotal = domain.SomeMoney(0)
		item.Confidence.LineTotal = confMoneyShaped
	}
	item.DescriptionOnly = item.PresentCount() == 0
	return item, true
}

// assignSlots partitions the numeric cluster into quantity, unit price and line total.
// The rightmost value is the line total; unfilled slots stay null.
func assignSlots(item *domain.CandidateLineItem, slots []domain.Token, haveQty bool) {
	n := len(slots)
	switch {
	case n == 0:
		return
	case n == 1:
		setMoney(&item.LineTotal, &item.Confidence.LineTotal, slots[0])
	case n == 2 && haveQty:
		setMoney(&item.UnitPrice, &item.Confidence.UnitPrice, slots[0])
		setMoney(&item.LineTotal, &item.Confidence.LineTotal, slots[1])
	case n == 2:
		// The slot nearest the description is the quantity when it is shaped like one.
		if quantityPlausible(slots[0]) {
			setQuantity(item, slots[0])
		} else {
			setMoney(&item.UnitPrice, &item.Confidence.UnitPrice, slots[0])
		}
		setMoney(&item.LineTotal, &item.Confidence.LineTotal, slots[1])
	default:
		if !haveQty {
			for i := 0; i <= n-3; i++ {
				if quantityPlausible(slots[i]) {
					setQuantity(item, slots[i])
					break
				}
			}
		}
		setMoney(&item.UnitPrice, &item.Confidence.UnitPrice, slots[n-2])
		setMoney(&item.LineTotal, &item.Confidence.LineTotal, slots[n-1])
	}
}

func setQuantity(item *domain.CandidateLineItem, t domain.Token) {
	if t.Malformed {
		return
	}
	item.Quantity = decimal.NewNullDecimal(t.Number)
	item.Confidence.Quantity = t.Confidence
}

func setMoney(dst *domain.NullMoney, conf *float64, t domain.Token) {
	switch t.Kind {
	case domain.TokenCurrency:
		*dst = domain.SomeMoney(t.Amount)
	case domain.TokenNumber:
		*dst = domain.SomeMoney(domain.MoneyFromDecimal(t.Number))
	default:
		return
	}
	*conf = t.Confidence
}

// quantityPlausible reports whether t reads as a count: a small non-currency number.
func quantityPlausible(t domain.Token) bool {
	if t.Kind != domain.TokenNumber {
		return false
	}
	if t.Number.IsNegative() || t.Number.GreaterThan(decimal.NewFromInt(maxPlausibleQuantity)) {
		return false
	}
	return -t.Number.Exponent() <= maxQuantityPlaces
}

func countSlots(tokens []domain.Token) int {
	n := 0
	for _, t := range tokens {
		if (t.IsNumeric() || t.Malformed) && !isFiller(t) {
			n++
		}
	}
	return n
}

func isFiller(t domain.Token) bool {
	return t.Kind == domain.TokenText && !t.Malformed && clusterFillers[strings.ToLower(t.Raw)]
}

func joinDescription(tokens []domain.Token) (string, float64) {
	parts := make([]string, 0, len(tokens))
	conf := 1.0
	for _, t := range tokens {
		parts = append(parts, t.Raw)
		if t.Confidence < conf {
			conf = t.Confidence
		}
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.TrimSpace(strings.Join(parts, " ")), conf
}

func lastAmount(tokens []domain.Token) domain.NullMoney {
	for i := len(tokens) - 1; i >= 0; i-- {
		t := tokens[i]
		switch t.Kind {
		case domain.TokenCurrency:
			return domain.SomeMoney(t.Amount)
		case domain.TokenNumber:
			return domain.SomeMoney(domain.MoneyFromDecimal(t.Number))
		}
	}
	return domain.NullMoney{}
}

func firstPercent(tokens []domain.Token) (domain.Token, bool) {
	for _, t := range tokens {
		if t.Kind == domain.TokenPercent {
			return t, true
		}
	}
	return domain.Token{}, false
}
