package extraction

import (
	"math"

	"ledgerline/internal/domain"
)

// Weights of the three confidence signals. They sum to 1.
const (
	weightToken     = 0.60
	weightMath      = 0.25
	weightAlignment = 0.15

	// documentCheckPenalty multiplies the document score once per failed total check.
	documentCheckPenalty = 0.7
)

var mathFactor = map[MathOutcome]float64{
	MathConfirmed:    1.0,
	MathUnchecked:    0.7,
	MathDerived:      0.5,
	MathContradicted: 0.0,
}

// FieldSignal is the explicit input to FieldScore.
type FieldSignal struct {
	TokenConfidence float64
	Math            MathOutcome
	Flagged         bool
}

// FieldScore combines token confidence, the arithmetic outcome for the field and the
// alignment flag into one score in [0,1].
func FieldScore(s FieldSignal) float64 {
	align := 1.0
	if s.Flagged {
		align = 0
	}
	score := weightToken*clamp01(s.TokenConfidence) + weightMath*mathFactor[s.Math] + weightAlignment*align
	return clamp01(score)
}

// ScoredItem is an aligned item with per-field and item scores.
type ScoredItem struct {
	AlignedItem
	Fields domain.FieldConfidence
	Score  float64
}

// ScoreItem scores every field of an aligned item. The item score is its weakest field.
// The VAT rate only takes part when present.
func ScoreItem(a AlignedItem) ScoredItem {
	c := a.Math.Item
	flagged := a.Flag != AlignNone
	var fields domain.FieldConfidence

	fields.Description = FieldScore(FieldSignal{TokenConfidence: c.Confidence.Description, Math: MathConfirmed, Flagged: flagged})
	if c.Description == "" {
		fields.Description = 0
	}

	numeric := []struct {
		field   domain.Field
		present bool
	}{
		{domain.FieldQuantity, c.Quantity.Valid},
		{domain.FieldUnitPrice, c.UnitPrice.Valid},
		{domain.FieldLineTotal, c.LineTotal.Valid},
	}
	for _, f := range numeric {
		if !f.present {
			continue
		}
		fields = fields.With(f.field, FieldScore(FieldSignal{
			TokenConfidence: c.Confidence.Get(f.field),
			Math:            fieldOutcome(a.Math, f.field),
			Flagged:         flagged,
		}))
	}

	score := math.Min(fields.Description, math.Min(fields.Quantity, math.Min(fields.UnitPrice, fields.LineTotal)))
	if c.VATRate.Valid {
		fields.VATRate = FieldScore(FieldSignal{TokenConfidence: c.Confidence.VATRate, Math: MathUnchecked, Flagged: flagged})
		score = math.Min(score, fields.VATRate)
	}
	return ScoredItem{AlignedItem: a, Fields: fields, Score: score}
}

// fieldOutcome maps an item-level math outcome onto one field. Only the derived field
// counts as derived; a contradiction counts against the blamed field and the total.
func fieldOutcome(m ItemMath, field domain.Field) MathOutcome {
	switch m.Outcome {
	case MathDerived:
		if m.Item.Derived == field {
			return MathDerived
		}
		return MathUnchecked
	case MathContradicted:
		blamed := domain.FieldUnitPrice
		if m.Contradiction == domain.DiscrepancyQty {
			blamed = domain.FieldQuantity
		}
		if field == blamed || field == domain.FieldLineTotal {
			return MathContradicted
		}
		return MathUnchecked
	}
	return m.Outcome
}

// DocumentScore averages item scores with equal weight per item and applies the penalty
// for each failed document-level check. The result is an integer in [0,100].
func DocumentScore(items []ScoredItem, failedChecks int) int {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Score
	}
	avg := sum / float64(len(items))
	avg *= math.Pow(documentCheckPenalty, float64(failedChecks))
	return Percent(avg)
}

// Percent converts a [0,1] score to an integer percentage.
func Percent(score float64) int {
	return int(math.Round(clamp01(score) * 100))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
