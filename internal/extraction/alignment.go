package extraction

import (
	"fmt"

	"ledgerline/internal/domain"
)

// DefaultMatchThreshold is the minimum description similarity for two items to pair.
const DefaultMatchThreshold = 0.6

// AlignFlag is the Alignment Engine's verdict on one item.
type AlignFlag string

const (
	AlignNone    AlignFlag = "none"
	AlignMissing AlignFlag = "missing"
	AlignExtra   AlignFlag = "extra"
)

// Expectation is the reference set candidates are aligned against: either expected
// descriptions (from a layout pass or a prior draft) or, failing that, an expected count.
type Expectation struct {
	Source       domain.AlignmentSource `json:"source"`
	Descriptions []string               `json:"descriptions,omitempty"`
	Count        int                    `json:"count,omitempty"`
}

// ExpectationFromPrior builds an Expectation from an earlier draft of the same document.
// Items the earlier run itself flagged as extra are not expected.
func ExpectationFromPrior(prior *domain.InvoiceDraft) *Expectation {
	if prior == nil {
		return nil
	}
	exp := &Expectation{Source: domain.AlignmentSourcePrior}
	for _, item := range prior.LineItems {
		if item.Discrepancy == domain.DiscrepancyExtra {
			continue
		}
		exp.Descriptions = append(exp.Descriptions, item.Description)
	}
	exp.Count = len(exp.Descriptions)
	return exp
}

// Empty reports whether the expectation carries nothing to align against.
func (e *Expectation) Empty() bool {
	return e == nil || len(e.Descriptions) == 0 && e.Count <= 0
}

// AlignedItem is an item in the aligned sequence. Placeholders stand in for expected
// items that no candidate matched.
type AlignedItem struct {
	Math          ItemMath
	Flag          AlignFlag
	ExpectedIndex int
	Similarity    float64
	Placeholder   bool
}

// Aligner pairs candidates with expected items by global sequence alignment.
type Aligner struct {
	threshold float64
}

// NewAligner creates an Aligner. A non-positive threshold selects DefaultMatchThreshold.
func NewAligner(threshold float64) *Aligner {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Aligner{threshold: threshold}
}

// Align returns the candidates in order with missing placeholders inserted at their
// aligned positions. Without an expectation it passes every item through unflagged.
func (a *Aligner) Align(items []ItemMath, exp *Expectation) []AlignedItem {
	if exp.Empty() {
		out := make([]AlignedItem, len(items))
		for i, im := range items {
			out[i] = AlignedItem{Math: im, Flag: AlignNone, ExpectedIndex: -1}
		}
		return out
	}
	if len(exp.Descriptions) == 0 {
		return alignByCount(items, exp.Count)
	}
	return a.alignByDescription(items, exp.Descriptions)
}

type step int

const (
	stepMatch step = iota
	stepExtra
	stepMissing
)

// alignByDescription runs Needleman-Wunsch over the two item sequences. Pairing scores
// the description similarity; gaps score zero; pairs below the threshold cannot match.
func (a *Aligner) alignByDescription(items []ItemMath, expected []string) []AlignedItem {
	n, m := len(items), len(expected)
	sim := make([][]float64, n)
	for i := range items {
		sim[i] = make([]float64, m)
		for j := range expected {
			sim[i][j] = Similarity(items[i].Item.Description, expected[j])
		}
	}

	score := make([][]float64, n+1)
	move := make([][]step, n+1)
	for i := range score {
		score[i] = make([]float64, m+1)
		move[i] = make([]step, m+1)
	}
	for i := 1; i <= n; i++ {
		move[i][0] = stepExtra
	}
	for j := 1; j <= m; j++ {
		move[0][j] = stepMissing
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best, choice := score[i-1][j], stepExtra
			if score[i][j-1] > best {
				best, choice = score[i][j-1], stepMissing
			}
			if s := sim[i-1][j-1]; s >= a.threshold && score[i-1][j-1]+s >= best {
				best, choice = score[i-1][j-1]+s, stepMatch
			}
			score[i][j], move[i][j] = best, choice
		}
	}

	var reversed []AlignedItem
	i, j := n, m
	for i > 0 || j > 0 {
		switch move[i][j] {
		case stepMatch:
			reversed = append(reversed, AlignedItem{
				Math: items[i-1], Flag: AlignNone, ExpectedIndex: j - 1, Similarity: sim[i-1][j-1],
			})
			i, j = i-1, j-1
		case stepExtra:
			reversed = append(reversed, AlignedItem{Math: items[i-1], Flag: AlignExtra, ExpectedIndex: -1})
			i--
		case stepMissing:
			reversed = append(reversed, placeholder(expected[j-1], j-1))
			j--
		}
	}

	out := make([]AlignedItem, len(reversed))
	for k := range reversed {
		out[len(reversed)-1-k] = reversed[k]
	}
	return out
}

// alignByCount handles count-only expectations: a shortfall appends anonymous missing
// placeholders, a surplus flags the trailing candidates extra.
func alignByCount(items []ItemMath, count int) []AlignedItem {
	out := make([]AlignedItem, 0, max(len(items), count))
	for i, im := range items {
		flag := AlignNone
		if i >= count {
			flag = AlignExtra
		}
		out = append(out, AlignedItem{Math: im, Flag: flag, ExpectedIndex: -1})
	}
	for k := len(items); k < count; k++ {
		out = append(out, placeholder(fmt.Sprintf("expected item %d", k+1), k))
	}
	return out
}

func placeholder(description string, expectedIndex int) AlignedItem {
	return AlignedItem{
		Math: ItemMath{
			Item:    domain.CandidateLineItem{Description: description, SourceLine: -1},
			Outcome: MathUnchecked,
		},
		Flag:          AlignMissing,
		ExpectedIndex: expectedIndex,
		Placeholder:   true,
	}
}
