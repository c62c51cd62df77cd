package clause

import (
	"strings"

	"github.com/coolbeans/policyfinder/pkg/policy"
)

// Lookup error codes for requests that never reach extraction.
const (
	CodeMissingTitle           = "missing_title"
	CodeInvalidClauseReference = "invalid_clause_reference"
	CodePolicyNotFound         = "policy_not_found"
)

// PolicySearcher finds the single best policy entry for a free-text
// title query. ok is false when nothing scores above zero.
type PolicySearcher interface {
	Best(query string) (entry *policy.Entry, score float64, ok bool)
}

// Match pairs the policy an extraction ran against with its outcome.
type Match struct {
	Entry  *policy.Entry
	Score  float64
	Result Result
}

// Lookup resolves a policy title plus a clause reference to clause
// text in one step.
type Lookup struct {
	searcher  PolicySearcher
	extractor *Extractor
}

func NewLookup(searcher PolicySearcher, extractor *Extractor) *Lookup {
	return &Lookup{searcher: searcher, extractor: extractor}
}

// Find locates the best-matching policy for title and extracts the
// clause named by clauseText. A non-empty code alongside a non-nil
// match means the policy resolved but extraction only partially
// succeeded; callers decide whether that is a warning or a failure
// based on whether any clause text came back.
func (l *Lookup) Find(title, clauseText string) (*Match, string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, CodeMissingTitle
	}
	ref := ParseReference(clauseText)
	if ref == nil {
		return nil, CodeInvalidClauseReference
	}
	entry, score, ok := l.searcher.Best(title)
	if !ok || entry == nil {
		return nil, CodePolicyNotFound
	}
	result := l.extractor.Extract(entry, *ref)
	return &Match{Entry: entry, Score: score, Result: result}, result.Error
}
