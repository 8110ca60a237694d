package extraction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
)

func reconstruct(lines ...string) extraction.Reconstruction {
	normalized := extraction.NewNormalizer().Normalize(rawDoc(lines...))
	return extraction.NewReconstructor().Reconstruct(normalized)
}

func TestReconstruct_TableWithTotals(t *testing.T) {
	rec := reconstruct(
		"ACME FOODS LTD",
		"Invoice No: INV-1042",
		"Description Qty Price Total",
		"Widget 3 5.00 15.00",
		"Gadget 2 10.00 20.00",
		"Subtotal 35.00",
		"VAT 20% 7.00",
		"Total 42.00",
	)

	require.Len(t, rec.Items, 2)
	w := rec.Items[0]
	assert.Equal(t, "Widget", w.Description)
	assert.Equal(t, "3", w.Quantity.Decimal.String())
	assert.Equal(t, domain.SomeMoney(500), w.UnitPrice)
	assert.Equal(t, domain.SomeMoney(1500), w.LineTotal)
	assert.Equal(t, 3, w.SourceLine)
	assert.Equal(t, "Gadget", rec.Items[1].Description)

	assert.Equal(t, domain.SomeMoney(3500), rec.Totals.Subtotal)
	assert.Equal(t, domain.SomeMoney(700), rec.Totals.VAT)
	assert.Equal(t, domain.SomeMoney(4200), rec.Totals.GrandTotal)
	require.True(t, rec.Totals.VATRate.Valid)
	assert.Equal(t, "20", rec.Totals.VATRate.Decimal.String())
}

func TestReconstruct_LeadingQuantity(t *testing.T) {
	rec := reconstruct("2 x Cheddar block £4.50 £9.00")

	require.Len(t, rec.Items, 1)
	item := rec.Items[0]
	assert.Equal(t, "Cheddar block", item.Description)
	assert.Equal(t, "2", item.Quantity.Decimal.String())
	assert.Equal(t, domain.SomeMoney(450), item.UnitPrice)
	assert.Equal(t, domain.SomeMoney(900), item.LineTotal)
}

func TestReconstruct_MissingFieldsStayNull(t *testing.T) {
	rec := reconstruct("Olive oil 5L 3 24.00")

	require.Len(t, rec.Items, 1)
	item := rec.Items[0]
	assert.Equal(t, "Olive oil 5L", item.Description)
	assert.True(t, item.Quantity.Valid)
	assert.False(t, item.UnitPrice.Valid)
	assert.Equal(t, domain.SomeMoney(2400), item.LineTotal)
}

func TestReconstruct_LineVATRate(t *testing.T) {
	rec := reconstruct("Wine 6 8.00 48.00 20%")

	require.Len(t, rec.Items, 1)
	require.True(t, rec.Items[0].VATRate.Valid)
	assert.Equal(t, "20", rec.Items[0].VATRate.Decimal.String())
	assert.Equal(t, domain.SomeMoney(4800), rec.Items[0].LineTotal)
}

func TestReconstruct_DiscountColumnFromHeading(t *testing.T) {
	rec := reconstruct(
		"Description Qty Price Disc VAT Total",
		"Widget 2 10.00 10% 20% 18.00",
	)

	require.Len(t, rec.Items, 1)
	item := rec.Items[0]
	require.True(t, item.Discount.Valid)
	assert.Equal(t, "10", item.Discount.Decimal.String())
	require.True(t, item.VATRate.Valid)
	assert.Equal(t, "20", item.VATRate.Decimal.String())
	assert.Equal(t, domain.SomeMoney(1800), item.LineTotal)
}

func TestReconstruct_PercentWithoutHeadingIsVATRate(t *testing.T) {
	rec := reconstruct("Widget 2 10.00 10% 18.00")

	require.Len(t, rec.Items, 1)
	assert.False(t, rec.Items[0].Discount.Valid)
	assert.True(t, rec.Items[0].VATRate.Valid)
}

func TestReconstruct_DescriptionOnlyRowInsideTable(t *testing.T) {
	rec := reconstruct(
		"Description Qty Price Total",
		"Widget 3 5.00 15.00",
		"Smoked paprika",
		"Gadget 2 10.00 20.00",
		"Total 35.00",
	)

	require.Len(t, rec.Items, 3)
	assert.True(t, rec.Items[1].DescriptionOnly)
	assert.Equal(t, "Smoked paprika", rec.Items[1].Description)
	assert.Zero(t, rec.Items[1].PresentCount())
}

func TestReconstruct_FreeOfChargeLine(t *testing.T) {
	rec := reconstruct("Sample sauce (FOC) 2 1.50 0.00")

	require.Len(t, rec.Items, 1)
	item := rec.Items[0]
	assert.True(t, item.FreeOfCharge)
	assert.Equal(t, "Sample sauce (FOC)", item.Description)
	assert.Equal(t, domain.SomeMoney(150), item.UnitPrice)
	assert.Equal(t, domain.SomeMoney(0), item.LineTotal)
}

func TestReconstruct_HeaderLinesAreNotItems(t *testing.T) {
	rec := reconstruct(
		"Tel: 01234 567890",
		"VAT Reg No 123 4567 89",
		"Widget 3 5.00 15.00",
	)

	require.Len(t, rec.Items, 1)
	assert.Equal(t, "Widget", rec.Items[0].Description)
}

func TestReconstruct_NoItems(t *testing.T) {
	rec := reconstruct("Thank you for your business")

	assert.Empty(t, rec.Items)
}
