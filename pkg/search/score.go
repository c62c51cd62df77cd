// Package search scores free-text queries against the policy index
// using additive fuzzy heuristics: document-number matches dominate,
// backed up by year, doctype and agency hints, phrase hits and token
// overlap.
package search

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coolbeans/policyfinder/pkg/policy"
	"github.com/coolbeans/policyfinder/pkg/zhtext"
)

var (
	queryYearPattern = regexp.MustCompile(`(?:19|20)\d{2}`)
	cjkPhrasePattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,}`)
	bracketStripper  = strings.NewReplacer("[", "", "]", "")
)

// Jaccard is the set overlap of two token lists: |A∩B| / |A∪B|. Zero
// when either side is empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]struct{}, len(a))
	for _, t := range a {
		sa[t] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, t := range b {
		sb[t] = struct{}{}
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Score rates how well an entry answers a query. Scores are additive
// and unbounded above; zero or below means no meaningful relation.
// Scoring never fails: malformed queries simply score low.
func Score(query string, e *policy.Entry) float64 {
	qn := zhtext.Normalize(query)
	score := 0.0

	// Doc-number match dominates everything else.
	qDoc := policy.ExtractDocNo(qn)
	if qDoc != "" && e.DocNo != "" {
		if qDoc == e.DocNo {
			score += 120
		} else if strings.Contains(bracketStripper.Replace(e.DocNo), bracketStripper.Replace(qDoc)) {
			score += 80
		}
	}

	// A year in the query confirms or contradicts the entry's year.
	if years := queryYearPattern.FindAllString(qn, -1); len(years) > 0 && e.Year != "" {
		matched := false
		for _, y := range years {
			if y == e.Year {
				matched = true
				break
			}
		}
		if matched {
			score += 30
		} else {
			score -= 5
		}
	}

	if qDoctype := policy.GuessDoctype(qn); qDoctype != "" && qDoctype == e.Doctype {
		score += 15
	}

	if qAgency := policy.GuessAgency(qn); qAgency != "" && e.Agency != "" {
		if strings.Contains(e.Agency, qAgency) || strings.Contains(qAgency, e.Agency) {
			score += 10
		}
	}

	// Each CJK phrase from the query found verbatim in the title earns
	// a length-capped bonus.
	for _, phrase := range cjkPhrasePattern.FindAllString(qn, -1) {
		if strings.Contains(e.NormTitle, phrase) {
			score += math.Min(8, 2+0.8*float64(utf8.RuneCountInString(phrase)))
		}
	}

	score += 40 * Jaccard(zhtext.Tokenize(qn), e.Tokens)

	// Re-confirmation: the entry's own identifiers appearing verbatim
	// in the query.
	if e.DocNo != "" && strings.Contains(qn, e.DocNo) {
		score += 30
	}
	if e.Doctype != "" && strings.Contains(qn, e.Doctype) && strings.Contains(e.Title, e.Doctype) {
		score += 10
	}

	if e.BestPath != "" && strings.HasSuffix(strings.ToLower(e.BestPath), ".pdf") {
		score += 3
	}

	return score
}
