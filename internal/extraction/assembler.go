package extraction

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"ledgerline/internal/domain"
)

// ClassifiedItem is a scored item with its discrepancy label.
type ClassifiedItem struct {
	ScoredItem
	Discrepancy domain.Discrepancy
	Reason      string
}

// AssemblyInput is everything the Draft Assembler combines.
type AssemblyInput struct {
	Header         domain.Header
	Items          []ClassifiedItem
	CandidateCount int
	Document       DocumentMath
	Warnings       []domain.Warning
	Confidence     int
}

// Assembler freezes pipeline output into an InvoiceDraft.
type Assembler struct{}

// NewAssembler creates an Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble fills draft from in and sets its final status. The draft is parsed only when
// the line totals plus VAT equal the grand total exactly.
func (a *Assembler) Assemble(draft *domain.InvoiceDraft, in AssemblyInput) {
	draft.ApplyHeader(in.Header)
	draft.LineItems = make([]domain.ValidatedLineItem, 0, len(in.Items))
	for _, it := range in.Items {
		draft.LineItems = append(draft.LineItems, validated(it))
	}
	draft.Subtotal = in.Document.Subtotal
	draft.VATTotal = in.Document.VATTotal
	draft.GrandTotal = in.Document.GrandTotal
	draft.Confidence = in.Confidence
	draft.ConfidenceBand = domain.BandFor(in.Confidence)
	draft.Warnings = append(draft.Warnings, in.Warnings...)
	draft.Stage = domain.StageAssemble

	switch {
	case in.CandidateCount == 0:
		draft.Fail(domain.NewExtractionError(domain.KindReconstructionFailure, domain.CheckEmptyLineItems,
			domain.StageReconstruct, "no line items found"))
	case !draft.Balanced():
		check := domain.CheckGrandTotalMismatch
		if in.Document.Failed(domain.CheckSubtotalMismatch) {
			check = domain.CheckSubtotalMismatch
		}
		draft.Fail(domain.NewExtractionError(domain.KindArithmeticInconsistency, check, domain.StageAssemble,
			"line totals %s + VAT %s != grand total %s", draft.LineTotalSum(), draft.VATTotal, draft.GrandTotal))
	default:
		draft.Status = domain.DraftStatusParsed
	}
}

func validated(it ClassifiedItem) domain.ValidatedLineItem {
	c := it.Math.Item
	return domain.ValidatedLineItem{
		Description:     c.Description,
		Quantity:        c.Quantity,
		UnitPrice:       c.UnitPrice,
		LineTotal:       c.LineTotal,
		VATRate:         c.VATRate,
		Discount:        c.Discount,
		Confidence:      Percent(it.Score),
		Discrepancy:     it.Discrepancy,
		Reason:          it.Reason,
		Derived:         c.Derived,
		FieldConfidence: it.Fields,
		Fingerprint:     Fingerprint(c),
		SourceLine:      c.SourceLine,
	}
}

// Fingerprint identifies a line item by its normalised description and values.
func Fingerprint(c domain.CandidateLineItem) string {
	parts := []string{
		normalizeDescription(c.Description),
		c.Quantity.Decimal.String(),
		c.UnitPrice.String(),
		c.LineTotal.String(),
	}
	if !c.Quantity.Valid {
		parts[1] = ""
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
