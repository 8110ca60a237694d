package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BoundingBox is a positional hint for one recognised line, in page units.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RawLine is one line of recognised text.
type RawLine struct {
	Text string       `json:"text"`
	Box  *BoundingBox `json:"box,omitempty"`
}

// RawDocument is the immutable output of a recognition backend.
// An empty Backend means no backend produced the document.
type RawDocument struct {
	Backend string    `json:"backend"`
	Lines   []RawLine `json:"lines"`
	// Secondary holds an independent recognition pass of the same page, when one ran.
	Secondary []RawLine `json:"secondary,omitempty"`
}

// HasBackend reports whether a recognition backend produced the document.
func (d RawDocument) HasBackend() bool {
	return d.Backend != "" && d.Backend != "none"
}

// Texts returns the line texts in their captured order.
func (d RawDocument) Texts() []string {
	out := make([]string, len(d.Lines))
	for i, l := range d.Lines {
		out[i] = l.Text
	}
	return out
}

// RawImage is the binary source handed to a recognition backend.
type RawImage struct {
	Data        []byte
	ContentType string
	FileName    string
}

// TokenKind tags the populated payload of a Token.
type TokenKind string

const (
	TokenNumber   TokenKind = "number"
	TokenCurrency TokenKind = "currency"
	TokenPercent  TokenKind = "percent"
	TokenDate     TokenKind = "date"
	TokenText     TokenKind = "text"
)

// Token is a normalised atomic value. The payload is selected by Kind: Number for number
// and percent, Amount (plus Number in major units) for currency, Date for date, Text for text.
type Token struct {
	Kind       TokenKind       `json:"kind"`
	Raw        string          `json:"raw"`
	Number     decimal.Decimal `json:"number"`
	Amount     Money           `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Date       time.Time       `json:"date"`
	Text       string          `json:"text"`
	Line       int             `json:"line"`
	Index      int             `json:"index"`
	Offset     int             `json:"offset"`
	Confidence float64         `json:"confidence"`
	Malformed  bool            `json:"malformed,omitempty"`
}

// IsNumeric reports whether the token carries a number usable in a numeric cluster.
func (t Token) IsNumeric() bool {
	return t.Kind == TokenNumber || t.Kind == TokenCurrency
}

// Field names one value slot of a line item.
type Field string

const (
	FieldNone        Field = ""
	FieldDescription Field = "description"
	FieldQuantity    Field = "qty"
	FieldUnitPrice   Field = "unit_price"
	FieldLineTotal   Field = "total"
	FieldVATRate     Field = "vat_rate"
)

// FieldConfidence holds per-field confidence in [0,1].
type FieldConfidence struct {
	Description float64 `json:"description"`
	Quantity    float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"total"`
	VATRate     float64 `json:"vat_rate"`
}

// Get returns the confidence of one field.
func (f FieldConfidence) Get(field Field) float64 {
	switch field {
	case FieldDescription:
		return f.Description
	case FieldQuantity:
		return f.Quantity
	case FieldUnitPrice:
		return f.UnitPrice
	case FieldLineTotal:
		return f.LineTotal
	case FieldVATRate:
		return f.VATRate
	}
	return 0
}

// With returns a copy with one field's confidence replaced.
func (f FieldConfidence) With(field Field, v float64) FieldConfidence {
	switch field {
	case FieldDescription:
		f.Description = v
	case FieldQuantity:
		f.Quantity = v
	case FieldUnitPrice:
		f.UnitPrice = v
	case FieldLineTotal:
		f.LineTotal = v
	case FieldVATRate:
		f.VATRate = v
	}
	return f
}

// CandidateLineItem is one reconstructed invoice row before validation.
type CandidateLineItem struct {
	Description     string              `json:"description"`
	Quantity        decimal.NullDecimal `json:"qty"`
	UnitPrice       NullMoney           `json:"unit_price"`
	LineTotal       NullMoney           `json:"total"`
	VATRate         decimal.NullDecimal `json:"vat_rate"`
	Discount        decimal.NullDecimal `json:"discount_pct"`
	Confidence      FieldConfidence     `json:"field_confidence"`
	Derived         Field               `json:"derived,omitempty"`
	SourceLine      int                 `json:"source_line"`
	DescriptionOnly bool                `json:"description_only,omitempty"`
	FreeOfCharge    bool                `json:"free_of_charge,omitempty"`
}

// PresentCount returns how many of quantity, unit price and line total are present.
func (c CandidateLineItem) PresentCount() int {
	n := 0
	if c.Quantity.Valid {
		n++
	}
	if c.UnitPrice.Valid {
		n++
	}
	if c.LineTotal.Valid {
		n++
	}
	return n
}

// ValidatedLineItem is a candidate with its discrepancy label and resolved confidence.
type ValidatedLineItem struct {
	Description     string              `json:"description"`
	Quantity        decimal.NullDecimal `json:"qty"`
	UnitPrice       NullMoney           `json:"unit_price"`
	LineTotal       NullMoney           `json:"total"`
	VATRate         decimal.NullDecimal `json:"vat_rate"`
	Discount        decimal.NullDecimal `json:"discount_pct"`
	Confidence      int                 `json:"confidence"`
	Discrepancy     Discrepancy         `json:"discrepancy"`
	Reason          string              `json:"discrepancy_reason,omitempty"`
	Derived         Field               `json:"derived,omitempty"`
	FieldConfidence FieldConfidence     `json:"field_confidence"`
	Fingerprint     string              `json:"fingerprint"`
	SourceLine      int                 `json:"source_line"`
}

// Warning records a non-fatal problem met while extracting a draft.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Line    int       `json:"line"`
	Raw     string    `json:"raw,omitempty"`
	Message string    `json:"message"`
}

// Warning codes.
const (
	WarningUnparseableToken   = "unparseable_token"
	WarningRoundingAdjustment = "rounding_adjustment"
	WarningStatedTotalIgnored = "stated_total_mismatch"
	WarningVATMismatch        = "vat_mismatch"
	WarningDerivationBlocked  = "derivation_blocked"
	WarningVATInferred        = "vat_inferred"
	WarningNegativeAdjustment = "negative_adjustment"
	WarningDiscountApplied    = "discount_applied"
)

// Header holds the document-level identity fields.
type Header struct {
	InvoiceNumber string             `json:"invoice_number"`
	InvoiceDate   string             `json:"invoice_date"`
	SupplierName  string             `json:"supplier_name"`
	Venue         string             `json:"venue"`
	Currency      string             `json:"currency,omitempty"`
	Confidence    map[string]float64 `json:"confidence,omitempty"`
}

// SourceRef locates the stored source file of a draft.
type SourceRef struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// InvoiceDraft is the structured, validated output of the extraction pipeline.
type InvoiceDraft struct {
	ID             uuid.UUID           `json:"id"`
	DocumentKey    string              `json:"document_key,omitempty"`
	InvoiceNumber  string              `json:"invoice_number"`
	InvoiceDate    string              `json:"invoice_date"`
	SupplierName   string              `json:"supplier_name"`
	Venue          string              `json:"venue"`
	Currency       string              `json:"currency,omitempty"`
	LineItems      []ValidatedLineItem `json:"line_items"`
	Subtotal       Money               `json:"subtotal"`
	VATTotal       Money               `json:"vat_total"`
	GrandTotal     Money               `json:"grand_total"`
	Confidence     int                 `json:"confidence"`
	ConfidenceBand ConfidenceBand      `json:"confidence_band,omitempty"`
	Status         DraftStatus         `json:"status"`
	Stage          Stage               `json:"stage,omitempty"`
	Error          *ExtractionError    `json:"error,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	Warnings       []Warning           `json:"warnings,omitempty"`
	Backend        string              `json:"backend,omitempty"`
	Source         *SourceRef          `json:"source,omitempty"`
	Attempts       int                 `json:"attempts,omitempty"`
	RetryAfter     *time.Time          `json:"retry_after,omitempty"`
	// Expected and ExpectedCount carry a caller supplied alignment expectation for
	// queued drafts.
	Expected       []string            `json:"expected,omitempty"`
	ExpectedCount  int                 `json:"expected_count,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewDraft returns an empty draft at pipeline start.
func NewDraft() *InvoiceDraft {
	return &InvoiceDraft{
		LineItems: []ValidatedLineItem{},
		Status:    DraftStatusProcessing,
	}
}

// ApplyHeader copies header fields onto the draft.
func (d *InvoiceDraft) ApplyHeader(h Header) {
	d.InvoiceNumber = h.InvoiceNumber
	d.InvoiceDate = h.InvoiceDate
	d.SupplierName = h.SupplierName
	d.Venue = h.Venue
	d.Currency = h.Currency
}

// Fail marks the draft failed with a structured error.
func (d *InvoiceDraft) Fail(err *ExtractionError) {
	d.Status = DraftStatusFailed
	d.Error = err
	d.ErrorMessage = err.Error()
}

// TimeOut marks the draft timed out with a structured error.
func (d *InvoiceDraft) TimeOut(err *ExtractionError) {
	d.Status = DraftStatusTimeout
	d.Error = err
	d.ErrorMessage = err.Error()
}

// LineTotalSum returns the sum of present line totals.
func (d *InvoiceDraft) LineTotalSum() Money {
	var sum Money
	for i := range d.LineItems {
		if d.LineItems[i].LineTotal.Valid {
			sum += d.LineItems[i].LineTotal.Amount
		}
	}
	return sum
}

// Balanced reports whether the line totals plus VAT equal the grand total exactly.
func (d *InvoiceDraft) Balanced() bool {
	return d.LineTotalSum()+d.VATTotal == d.GrandTotal
}
