// Package zhtext provides text normalization, tokenization and
// Chinese-numeral conversion for Chinese regulatory documents.
package zhtext

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// bracketFolder maps full-width brackets and quote characters to their
// ASCII counterparts. Applied after NFKC, which already folds the
// full-width forms block but leaves CJK brackets and curly quotes alone.
var bracketFolder = strings.NewReplacer(
	"（", "(",
	"）", ")",
	"〔", "[",
	"〕", "]",
	"【", "[",
	"】", "]",
	"《", `"`,
	"》", `"`,
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// Normalize applies NFKC normalization, folds full-width brackets and
// quotes to ASCII, and collapses whitespace runs into single spaces.
// The same normalization must be applied to indexed text and queries
// before any comparison. Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = bracketFolder.Replace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeLine normalizes one line of document text for clause
// matching: the same folding as Normalize plus ideographic spaces
// mapped to ASCII spaces.
func NormalizeLine(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = bracketFolder.Replace(s)
	s = strings.ReplaceAll(s, "　", " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Stopwords are function words and boilerplate title terms dropped
// during tokenization.
var Stopwords = map[string]struct{}{
	"关于": {}, "有关": {}, "的": {}, "通知": {}, "公告": {},
	"决定": {}, "规定": {}, "办法": {}, "细则": {}, "实施": {},
	"印发": {}, "进一步": {}, "试行": {}, "意见": {}, "答复": {},
	"解读": {}, "发布": {},
}

var tokenPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+|[a-zA-Z0-9]+`)

// Tokenize normalizes text and splits it into maximal CJK runs and
// alphanumeric runs, dropping stopwords.
func Tokenize(s string) []string {
	s = Normalize(s)
	parts := tokenPattern.FindAllString(s, -1)
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if _, stop := Stopwords[part]; stop {
			continue
		}
		tokens = append(tokens, part)
	}
	return tokens
}

// Slug returns a filesystem-friendly version of text: NFKC-normalized
// letters, digits, hyphens and underscores are kept, everything else
// becomes an underscore. Empty input yields "_".
func Slug(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range norm.NFKC.String(s) {
		switch {
		case r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "_"
	}
	return out
}
