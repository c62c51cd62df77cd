// Package clause parses statutory clause references such as
// 第三条第一款（一）项 and extracts the referenced text from a policy
// entry's source documents.
package clause

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/coolbeans/policyfinder/pkg/zhtext"
)

// Reference is a parsed locator into a document's legal numbering:
// article (第N条), optional paragraph (第N款/段) and optional item
// (（N）项 or 第N项/目). Zero means the level was not requested. An
// item is only meaningful under a resolved article, so references are
// only constructed with Article set.
type Reference struct {
	Article       int    `json:"article"`
	Paragraph     int    `json:"paragraph,omitempty"`
	ParagraphUnit string `json:"paragraph_unit,omitempty"`
	Item          int    `json:"item,omitempty"`
	ItemUnit      string `json:"item_unit,omitempty"`
	Raw           string `json:"raw,omitempty"`
}

// refFolder folds only the bracket forms relevant to clause syntax;
// whitespace is left alone because the patterns tolerate it.
var refFolder = strings.NewReplacer("（", "(", "）", ")", "〔", "[", "〕", "]")

var (
	articleRefPattern   = regexp.MustCompile(`第\s*(` + zhtext.NumberClass + `+)\s*条`)
	paragraphRefPattern = regexp.MustCompile(`^第\s*(` + zhtext.NumberClass + `+)\s*(款|段)`)
	bareNumberPattern   = regexp.MustCompile(`^第\s*(` + zhtext.NumberClass + `+)`)
	parenItemPattern    = regexp.MustCompile(`[\(（]\s*(` + zhtext.NumberClass + `+)\s*[\)）]\s*(项|目)?`)
	explicitItemPattern = regexp.MustCompile(`第\s*(` + zhtext.NumberClass + `+)\s*(项|目)`)
)

// ParseReference parses a free-text query into a clause reference.
// Returns nil when the query carries no article marker, which is the
// normal case for ordinary searches.
func ParseReference(query string) *Reference {
	if query == "" {
		return nil
	}
	normalized := refFolder.Replace(norm.NFKC.String(query))

	articleMatch := articleRefPattern.FindStringSubmatchIndex(normalized)
	if articleMatch == nil {
		return nil
	}
	articleText := normalized[articleMatch[2]:articleMatch[3]]
	article, ok := zhtext.ChineseToInt(articleText)
	if !ok {
		return nil
	}
	ref := &Reference{Article: article, Raw: strings.TrimSpace(query)}

	remainder := strings.TrimSpace(normalized[articleMatch[1]:])
	if remainder == "" {
		return ref
	}

	consumed := 0
	if m := paragraphRefPattern.FindStringSubmatch(remainder); m != nil {
		if value, ok := zhtext.ChineseToInt(m[1]); ok {
			ref.Paragraph = value
			ref.ParagraphUnit = m[2]
		}
		consumed = len(m[0])
	} else if m := bareNumberPattern.FindStringSubmatch(remainder); m != nil {
		// Informal references drop the 款 unit entirely.
		if value, ok := zhtext.ChineseToInt(m[1]); ok {
			ref.Paragraph = value
		}
		consumed = len(m[0])
	}
	remainder = strings.TrimSpace(remainder[consumed:])

	if m := parenItemPattern.FindStringSubmatchIndex(remainder); m != nil {
		if value, ok := zhtext.ChineseToInt(remainder[m[2]:m[3]]); ok {
			ref.Item = value
			ref.ItemUnit = "项"
			if m[4] >= 0 {
				ref.ItemUnit = remainder[m[4]:m[5]]
			}
		}
		remainder = strings.TrimSpace(remainder[m[1]:])
	}
	if ref.Item == 0 {
		if m := explicitItemPattern.FindStringSubmatch(remainder); m != nil {
			if value, ok := zhtext.ChineseToInt(m[1]); ok {
				ref.Item = value
				ref.ItemUnit = m[2]
			}
		}
	}
	return ref
}
