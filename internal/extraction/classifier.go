package extraction

import "ledgerline/internal/domain"

// Machine-readable discrepancy reasons.
const (
	ReasonExpectedItemAbsent    = "expected_item_absent"
	ReasonDescriptionOnly       = "description_only_row"
	ReasonLineTotalUnresolved   = "line_total_unresolved"
	ReasonOperandsAbsent        = "quantity_or_unit_price_absent"
	ReasonNoExpectedCounterpart = "no_expected_counterpart"
	ReasonQuantityContradicts   = "quantity_contradicts_price_and_total"
	ReasonPriceContradicts      = "unit_price_contradicts_quantity_and_total"
	ReasonVATRateAbsent         = "vat_rate_absent"
	ReasonVATRateInconsistent   = "vat_rate_inconsistent_with_document_vat"
)

// DocumentVAT is the document-level VAT context the classifier needs.
type DocumentVAT struct {
	Total      domain.Money
	HasRate    bool
	Consistent bool
}

// Classify assigns exactly one discrepancy label, taking the first condition that holds in
// the order missing, extra, qty, price, vat.
func Classify(a AlignedItem, vat DocumentVAT) (domain.Discrepancy, string) {
	item := a.Math.Item
	rated := item.VATRate.Valid || vat.HasRate
	switch {
	case a.Flag == AlignMissing:
		return domain.DiscrepancyMissing, ReasonExpectedItemAbsent
	case item.DescriptionOnly:
		return domain.DiscrepancyMissing, ReasonDescriptionOnly
	case !a.Math.Resolved():
		return domain.DiscrepancyMissing, ReasonLineTotalUnresolved
	case !item.Quantity.Valid || !item.UnitPrice.Valid:
		// A total alone cannot confirm qty x unit_price = line_total.
		return domain.DiscrepancyMissing, ReasonOperandsAbsent
	case a.Flag == AlignExtra:
		return domain.DiscrepancyExtra, ReasonNoExpectedCounterpart
	case a.Math.Contradiction == domain.DiscrepancyQty:
		return domain.DiscrepancyQty, ReasonQuantityContradicts
	case a.Math.Contradiction == domain.DiscrepancyPrice:
		return domain.DiscrepancyPrice, ReasonPriceContradicts
	case rated && !vat.Consistent:
		return domain.DiscrepancyVAT, ReasonVATRateInconsistent
	case !rated && vat.Total > 0:
		return domain.DiscrepancyVAT, ReasonVATRateAbsent
	}
	return domain.DiscrepancyNone, ""
}
