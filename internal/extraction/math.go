package extraction

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain"
)

// DefaultTolerance is the rounding slack allowed between a computed and a printed amount.
const DefaultTolerance domain.Money = 1

const quantityPlaces = 4

// MathOutcome records what the Math Validator could establish about an item.
type MathOutcome string

const (
	MathUnchecked    MathOutcome = "unchecked"
	MathConfirmed    MathOutcome = "confirmed"
	MathDerived      MathOutcome = "derived"
	MathContradicted MathOutcome = "contradicted"
)

// ItemMath is one candidate after arithmetic validation.
type ItemMath struct {
	Item          domain.CandidateLineItem
	Outcome       MathOutcome
	Contradiction domain.Discrepancy
	Message       string
}

// Resolved reports whether the item's line total is known.
func (m ItemMath) Resolved() bool {
	return m.Item.LineTotal.Valid
}

// CheckResult is the outcome of one document-level arithmetic check.
type CheckResult struct {
	Check     string       `json:"check"`
	Passed    bool         `json:"passed"`
	FieldPath string       `json:"field_path"`
	Expected  domain.Money `json:"expected"`
	Actual    domain.Money `json:"actual"`
	Message   string       `json:"message"`
}

// DocumentMath holds the document totals to display and the checks behind them.
type DocumentMath struct {
	ComputedSubtotal domain.Money
	Subtotal         domain.Money
	VATTotal         domain.Money
	GrandTotal       domain.Money
	VATRate          decimal.NullDecimal
	VATConsistent    bool
	Checks           []CheckResult
}

// Failed reports whether the named check ran and failed.
func (d DocumentMath) Failed(check string) bool {
	for _, c := range d.Checks {
		if c.Check == check && !c.Passed {
			return true
		}
	}
	return false
}

// FailedChecks returns the names of every failed check in evaluation order.
func (d DocumentMath) FailedChecks() []string {
	var out []string
	for _, c := range d.Checks {
		if !c.Passed {
			out = append(out, c.Check)
		}
	}
	return out
}

// MathReport is the Math Validator's output.
type MathReport struct {
	Items    []ItemMath
	Document DocumentMath
	Warnings []domain.Warning
}

// MathValidator checks quantity x unit price = line total per item and the document totals.
type MathValidator struct {
	tolerance domain.Money
}

// NewMathValidator creates a MathValidator. A negative tolerance selects DefaultTolerance.
func NewMathValidator(tolerance domain.Money) *MathValidator {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &MathValidator{tolerance: tolerance}
}

func (v *MathValidator) approxEqual(a, b domain.Money) bool {
	return (a - b).Abs() <= v.tolerance
}

func checkResult(passed bool, check, fieldPath string, expected, actual domain.Money) CheckResult {
	msg := fmt.Sprintf("%s: %s matches", check, fieldPath)
	if !passed {
		msg = fmt.Sprintf("%s: %s mismatch (expected %s, got %s)", check, fieldPath, expected, actual)
	}
	return CheckResult{
		Check: check, Passed: passed, FieldPath: fieldPath,
		Expected: expected, Actual: actual, Message: msg,
	}
}

// Validate runs the per-item checks and derivations, then the document checks.
func (v *MathValidator) Validate(rec Reconstruction) MathReport {
	report := MathReport{Items: make([]ItemMath, 0, len(rec.Items))}
	for _, c := range rec.Items {
		im, warn := v.ValidateItem(c)
		if warn != nil {
			report.Warnings = append(report.Warnings, *warn)
		}
		report.Items = append(report.Items, im)
	}
	report.Document, report.Warnings = v.validateDocument(report.Items, rec.Totals, report.Warnings)
	return report
}

// ValidateItem verifies or completes one candidate. At most one field is derived.
func (v *MathValidator) ValidateItem(c domain.CandidateLineItem) (ItemMath, *domain.Warning) {
	switch c.PresentCount() {
	case 3:
		return v.checkItem(c)
	case 2:
		return v.deriveItem(c)
	default:
		return ItemMath{Item: c, Outcome: MathUnchecked}, nil
	}
}

func (v *MathValidator) checkItem(c domain.CandidateLineItem) (ItemMath, *domain.Warning) {
	total := c.LineTotal.Amount
	if c.FreeOfCharge && total == 0 {
		return ItemMath{Item: c, Outcome: MathConfirmed}, nil
	}
	expected := extend(c.Quantity.Decimal, c.UnitPrice.Amount, discountFactor(c.Discount))
	if v.approxEqual(expected, total) {
		return ItemMath{Item: c, Outcome: MathConfirmed}, nil
	}
	if d, ok := v.rateAsDiscount(c); ok {
		rate := c.VATRate
		c.Discount, c.VATRate = rate, decimal.NullDecimal{}
		return ItemMath{Item: c, Outcome: MathConfirmed}, &domain.Warning{
			Kind:    domain.KindNormalizationFailure,
			Code:    domain.WarningDiscountApplied,
			Line:    c.SourceLine,
			Raw:     d.String() + "%",
			Message: fmt.Sprintf("line %d: %s%% read as a line discount, not a VAT rate", c.SourceLine, d),
		}
	}
	return ItemMath{
		Item:          c,
		Outcome:       MathContradicted,
		Contradiction: attributeMismatch(c),
		Message:       fmt.Sprintf("line %d: qty x unit_price = %d, total %d", c.SourceLine, expected, total),
	}, nil
}

// rateAsDiscount reports whether the row's percentage column, read as a VAT rate, is
// really a discount: qty x price x (1 - d/100) meets the total where qty x price does not.
func (v *MathValidator) rateAsDiscount(c domain.CandidateLineItem) (decimal.Decimal, bool) {
	if !c.VATRate.Valid || c.Discount.Valid {
		return decimal.Decimal{}, false
	}
	d := c.VATRate.Decimal
	if !d.IsPositive() || !d.LessThan(hundred) {
		return decimal.Decimal{}, false
	}
	net := extend(c.Quantity.Decimal, c.UnitPrice.Amount, discountFactor(c.VATRate))
	return d, v.approxEqual(net, c.LineTotal.Amount)
}

// attributeMismatch decides which operand a failed qty x price = total check blames.
// A whole, positive implied quantity that differs from the stated one reads as a misread
// count; anything else is blamed on the unit price.
func attributeMismatch(c domain.CandidateLineItem) domain.Discrepancy {
	net := netPrice(c.UnitPrice.Amount, discountFactor(c.Discount))
	if net.IsZero() {
		return domain.DiscrepancyPrice
	}
	implied := decimal.NewFromInt(int64(c.LineTotal.Amount)).Div(net)
	if implied.IsPositive() && implied.Equal(implied.Round(0)) && !implied.Equal(c.Quantity.Decimal) {
		return domain.DiscrepancyQty
	}
	return domain.DiscrepancyPrice
}

func (v *MathValidator) deriveItem(c domain.CandidateLineItem) (ItemMath, *domain.Warning) {
	conf := &c.Confidence
	factor := discountFactor(c.Discount)
	switch {
	case !c.LineTotal.Valid:
		c.LineTotal = domain.SomeMoney(extend(c.Quantity.Decimal, c.UnitPrice.Amount, factor))
		c.Derived = domain.FieldLineTotal
		conf.LineTotal = math.Min(conf.Quantity, conf.UnitPrice)
		return ItemMath{Item: c, Outcome: MathDerived}, nil

	case !c.UnitPrice.Valid:
		qty, total := c.Quantity.Decimal, c.LineTotal.Amount
		divisor := qty.Mul(factor)
		if divisor.IsZero() {
			return zeroOperand(c, total, domain.DiscrepancyQty)
		}
		price := domain.Money(decimal.NewFromInt(int64(total)).DivRound(divisor, 0).IntPart())
		if !v.approxEqual(extend(qty, price, factor), total) {
			return ItemMath{Item: c, Outcome: MathUnchecked}, blocked(c, "unit price not representable in minor units")
		}
		c.UnitPrice = domain.SomeMoney(price)
		c.Derived = domain.FieldUnitPrice
		conf.UnitPrice = math.Min(conf.Quantity, conf.LineTotal)
		return ItemMath{Item: c, Outcome: MathDerived}, nil

	default:
		price, total := c.UnitPrice.Amount, c.LineTotal.Amount
		net := netPrice(price, factor)
		if net.IsZero() {
			return zeroOperand(c, total, domain.DiscrepancyPrice)
		}
		qty := decimal.NewFromInt(int64(total)).DivRound(net, quantityPlaces)
		if !v.approxEqual(extend(qty, price, factor), total) {
			return ItemMath{Item: c, Outcome: MathUnchecked}, blocked(c, "quantity not representable")
		}
		c.Quantity = decimal.NewNullDecimal(qty)
		c.Derived = domain.FieldQuantity
		conf.Quantity = math.Min(conf.UnitPrice, conf.LineTotal)
		return ItemMath{Item: c, Outcome: MathDerived}, nil
	}
}

// zeroOperand handles a zero divisor: a zero total is free of charge, anything else contradicts.
func zeroOperand(c domain.CandidateLineItem, total domain.Money, blame domain.Discrepancy) (ItemMath, *domain.Warning) {
	if total == 0 {
		return ItemMath{Item: c, Outcome: MathUnchecked}, nil
	}
	return ItemMath{
		Item:          c,
		Outcome:       MathContradicted,
		Contradiction: blame,
		Message:       fmt.Sprintf("line %d: zero %s with total %d", c.SourceLine, blame, total),
	}, nil
}

func blocked(c domain.CandidateLineItem, msg string) *domain.Warning {
	return &domain.Warning{
		Kind:    domain.KindNormalizationFailure,
		Code:    domain.WarningDerivationBlocked,
		Line:    c.SourceLine,
		Message: msg,
	}
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// discountFactor returns 1 - discount/100, or 1 when the row has no discount.
func discountFactor(discount decimal.NullDecimal) decimal.Decimal {
	if !discount.Valid {
		return one
	}
	return hundred.Sub(discount.Decimal).Div(hundred)
}

// netPrice is the unit price after the line discount, in minor units.
func netPrice(price domain.Money, factor decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(price)).Mul(factor)
}

// extend returns round(qty x price x factor) in minor units.
func extend(qty decimal.Decimal, price domain.Money, factor decimal.Decimal) domain.Money {
	return domain.Money(netPrice(price, factor).Mul(qty).Round(0).IntPart())
}

// validateDocument cross-checks the stated totals against the sum of the validated line
// items. Stated figures are kept for display; the computed sums decide every check.
func (v *MathValidator) validateDocument(items []ItemMath, stated StatedTotals, warnings []domain.Warning) (DocumentMath, []domain.Warning) {
	doc := DocumentMath{VATRate: stated.VATRate, VATConsistent: true}

	for _, im := range items {
		if !im.Resolved() {
			continue
		}
		doc.ComputedSubtotal += im.Item.LineTotal.Amount
		if im.Item.LineTotal.Amount < 0 {
			warnings = append(warnings, domain.Warning{
				Kind:    domain.KindArithmeticInconsistency,
				Code:    domain.WarningNegativeAdjustment,
				Line:    im.Item.SourceLine,
				Raw:     im.Item.LineTotal.String(),
				Message: fmt.Sprintf("line %d: negative adjustment %s", im.Item.SourceLine, im.Item.LineTotal),
			})
		}
	}
	computed := doc.ComputedSubtotal

	doc.Subtotal = computed
	if stated.Subtotal.Valid {
		doc.Subtotal = stated.Subtotal.Amount
		passed := v.approxEqual(stated.Subtotal.Amount, computed)
		doc.Checks = append(doc.Checks, checkResult(passed, domain.CheckSubtotalMismatch, "subtotal", computed, stated.Subtotal.Amount))
		if passed && stated.Subtotal.Amount != computed {
			warnings = append(warnings, roundingWarning("subtotal", stated.Subtotal.Amount, computed))
		}
	}

	computedVAT, rated, vatKnown := itemVAT(items, stated.VATRate)
	switch {
	case stated.VAT.Valid:
		doc.VATTotal = stated.VAT.Amount
		if vatKnown {
			slack := v.tolerance * domain.Money(max(1, rated))
			passed := (stated.VAT.Amount - computedVAT).Abs() <= slack
			doc.Checks = append(doc.Checks, checkResult(passed, domain.CheckVATMismatch, "vat_total", computedVAT, stated.VAT.Amount))
			if !passed {
				doc.VATConsistent = false
				warnings = append(warnings, domain.Warning{
					Kind:    domain.KindArithmeticInconsistency,
					Code:    domain.WarningVATMismatch,
					Line:    -1,
					Message: fmt.Sprintf("stated VAT %s does not match item VAT %s", stated.VAT.Amount, computedVAT),
				})
			}
		}
	case vatKnown:
		doc.VATTotal = computedVAT
	case stated.GrandTotal.Valid:
		// Only a standard rate on the line sum is taken as VAT.
		implied := stated.GrandTotal.Amount - computed
		rate, ok := v.standardRate(computed, implied)
		if ok && implied != 0 {
			doc.VATTotal = implied
			warnings = append(warnings, domain.Warning{
				Kind:    domain.KindArithmeticInconsistency,
				Code:    domain.WarningVATInferred,
				Line:    -1,
				Raw:     implied.String(),
				Message: fmt.Sprintf("no VAT printed; %s inferred from grand total at %d%%", implied, rate),
			})
		}
	}

	doc.GrandTotal = computed + doc.VATTotal
	if stated.GrandTotal.Valid {
		doc.GrandTotal = stated.GrandTotal.Amount
		residual := stated.GrandTotal.Amount - (computed + doc.VATTotal)
		if residual != 0 && !stated.VAT.Valid && residual.Abs() <= v.tolerance {
			// A VAT figure that was not printed absorbs per-line rounding.
			warnings = append(warnings, roundingWarning("vat_total", doc.VATTotal+residual, doc.VATTotal))
			doc.VATTotal += residual
			residual = 0
		}
		doc.Checks = append(doc.Checks, checkResult(residual == 0, domain.CheckGrandTotalMismatch, "grand_total",
			computed+doc.VATTotal, stated.GrandTotal.Amount))
	}
	return doc, warnings
}

// standardVATRates are the rates an inferred VAT total must correspond to.
var standardVATRates = []int64{20, 5, 0}

func (v *MathValidator) standardRate(net, vat domain.Money) (int64, bool) {
	for _, r := range standardVATRates {
		expected := domain.Money(decimal.NewFromInt(int64(net)).Mul(decimal.NewFromInt(r)).Div(hundred).Round(0).IntPart())
		if v.approxEqual(expected, vat) {
			return r, true
		}
	}
	return 0, false
}

// itemVAT sums per-line VAT when every resolved item has a rate, its own or the document's.
func itemVAT(items []ItemMath, docRate decimal.NullDecimal) (domain.Money, int, bool) {
	var sum domain.Money
	rated, resolved := 0, 0
	for _, im := range items {
		if !im.Resolved() {
			continue
		}
		resolved++
		rate := im.Item.VATRate
		if !rate.Valid {
			rate = docRate
		}
		if !rate.Valid {
			continue
		}
		rated++
		sum += domain.Money(decimal.NewFromInt(int64(im.Item.LineTotal.Amount)).Mul(rate.Decimal).Div(decimal.NewFromInt(100)).Round(0).IntPart())
	}
	return sum, rated, resolved > 0 && rated == resolved
}

func roundingWarning(field string, stated, computed domain.Money) domain.Warning {
	return domain.Warning{
		Kind:    domain.KindArithmeticInconsistency,
		Code:    domain.WarningRoundingAdjustment,
		Line:    -1,
		Raw:     stated.String(),
		Message: fmt.Sprintf("%s %s differs from computed %s within rounding tolerance", field, stated, computed),
	}
}
