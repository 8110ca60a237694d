package extraction

import "ledgerline/internal/domain"

const (
	agreementBoost      = 0.2
	disagreementFactor  = 0.6
	agreementLineCutoff = 0.5
)

// applyAgreement adjusts primary numeric token confidence using an independent second
// recognition pass: agreeing values are boosted, differing values in the same column
// are penalised and values the second pass did not see are left alone.
func applyAgreement(primary, secondary []TokenLine) {
	for li := range primary {
		match := bestLine(primary[li], secondary)
		if match == nil {
			continue
		}
		theirs := numericTokens(match.Tokens)
		n := 0
		for ti := range primary[li].Tokens {
			tok := &primary[li].Tokens[ti]
			if !tok.IsNumeric() {
				continue
			}
			if n < len(theirs) {
				if theirs[n].Number.Equal(tok.Number) {
					tok.Confidence += (1 - tok.Confidence) * agreementBoost
				} else {
					tok.Confidence *= disagreementFactor
				}
			}
			n++
		}
	}
}

func bestLine(line TokenLine, candidates []TokenLine) *TokenLine {
	var best *TokenLine
	bestScore := agreementLineCutoff
	for i := range candidates {
		if s := Similarity(textPart(line.Tokens), textPart(candidates[i].Tokens)); s >= bestScore {
			if best == nil || s > bestScore {
				best, bestScore = &candidates[i], s
			}
		}
	}
	return best
}

func textPart(tokens []domain.Token) string {
	var out string
	for _, t := range tokens {
		if t.Kind == domain.TokenText {
			out += t.Raw + " "
		}
	}
	return out
}

func numericTokens(tokens []domain.Token) []domain.Token {
	var out []domain.Token
	for _, t := range tokens {
		if t.IsNumeric() {
			out = append(out, t)
		}
	}
	return out
}
