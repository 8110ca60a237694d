package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgerline/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the header row shared by the CSV and XLSX exports.
var columns = []string{
	"Document Key",
	"Status",
	"Invoice Number",
	"Invoice Date",
	"Supplier Name",
	"Venue",
	"Currency",
	"Line",
	"Description",
	"Quantity",
	"Unit Price",
	"Line Total",
	"VAT Rate",
	"Line Confidence",
	"Discrepancy",
	"Discrepancy Reason",
	"Subtotal",
	"VAT Total",
	"Grand Total",
	"Document Confidence",
	"Confidence Band",
	"Error",
	"Created At",
}

// Columns returns a copy of the export header row.
func Columns() []string {
	return append([]string(nil), columns...)
}

// Writer wraps csv.Writer for exporting drafts as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteDrafts writes one row per line item of every draft.
func (w *Writer) WriteDrafts(drafts []domain.InvoiceDraft) error {
	for i := range drafts {
		for _, row := range Rows(&drafts[i]) {
			if err := w.csv.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// Rows converts a draft to export rows, one per line item. Document columns repeat on
// every row. A draft without line items yields a single row with the item columns empty.
func Rows(d *domain.InvoiceDraft) [][]string {
	base := make([]string, len(columns))
	base[0] = d.DocumentKey
	base[1] = string(d.Status)
	base[2] = d.InvoiceNumber
	base[3] = d.InvoiceDate
	base[4] = d.SupplierName
	base[5] = d.Venue
	base[6] = d.Currency
	base[16] = d.Subtotal.String()
	base[17] = d.VATTotal.String()
	base[18] = d.GrandTotal.String()
	base[19] = strconv.Itoa(d.Confidence)
	base[20] = string(d.ConfidenceBand)
	base[21] = d.ErrorMessage
	base[22] = formatTime(d.CreatedAt)

	if len(d.LineItems) == 0 {
		return [][]string{base}
	}

	rows := make([][]string, 0, len(d.LineItems))
	for i, item := range d.LineItems {
		row := append([]string(nil), base...)
		row[7] = strconv.Itoa(i + 1)
		row[8] = item.Description
		if item.Quantity.Valid {
			row[9] = item.Quantity.Decimal.String()
		}
		row[10] = item.UnitPrice.String()
		row[11] = item.LineTotal.String()
		if item.VATRate.Valid {
			row[12] = item.VATRate.Decimal.String() + "%"
		}
		row[13] = strconv.Itoa(item.Confidence)
		row[14] = string(item.Discrepancy)
		row[15] = item.Reason
		rows = append(rows, row)
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a document key for use in Content-Disposition.
// Replaces non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "invoice"
	}
	return s
}

// BuildFilename returns a sanitized filename for Content-Disposition header.
// Format: {sanitized_document_key}_{YYYY-MM-DD}.{ext}
func BuildFilename(documentKey string, now time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeFilename(documentKey), now.Format("2006-01-02"), ext)
}
