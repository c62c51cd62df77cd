// Package pipeline turns downloaded policy documents into plain-text
// artifacts and records the extraction outcome back into the crawl
// state, so the search index can serve clause text without re-parsing
// binary formats.
package pipeline

import (
	"regexp"
	"strings"
)

const headerMaxLength = 60

var pageNumberPattern = regexp.MustCompile(`^-?\s*\d+\s*-?$`)

var openingPunctuation = map[rune]bool{
	'(': true, '[': true, '{': true, '“': true, '‘': true, '（': true,
}

var closingPunctuation = map[rune]bool{
	')': true, ']': true, '}': true, ',': true, '.': true, ';': true,
	':': true, '?': true, '!': true, '”': true, '’': true, '、': true,
	'。': true, '，': true, '．': true, '：': true, '！': true, '？': true,
	'；': true, '）': true, '》': true, '」': true, '』': true, '】': true,
}

var paragraphEndChars = map[rune]bool{
	'.': true, '?': true, '!': true, ';': true, ':': true,
	'。': true, '？': true, '！': true, '；': true, '：': true, '…': true,
	')': true, '）': true, '》': true, '」': true, '』': true, '】': true,
}

// htmlRemoveLines are portal chrome lines keyed by their
// whitespace-collapsed form, so 政　　策 and 政策 both match.
var htmlRemoveLines = map[string]bool{
	"中国人民银行规章": true,
	"中国人民银行发布": true,
	"打印本页":     true,
	"政策":       true,
	"政府信息公开":   true,
	"行政规范性文件":  true,
	"法律声明":     true,
	"网站地图":     true,
	"联系我们":     true,
}

func isHTMLBoilerplate(line string) bool {
	key := strings.Join(strings.Fields(line), "")
	if htmlRemoveLines[key] {
		return true
	}
	return strings.HasPrefix(key, "所在位置")
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x3400 && r <= 0x4DBF,
		r >= 0x4E00 && r <= 0x9FFF,
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0x20000 && r <= 0x2A6DF,
		r >= 0x2A700 && r <= 0x2B73F,
		r >= 0x2B740 && r <= 0x2B81F,
		r >= 0x2B820 && r <= 0x2CEAF,
		r >= 0x2CEB0 && r <= 0x2EBEF,
		r >= 0x30000 && r <= 0x3134F:
		return true
	}
	return false
}

func isAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// shouldInsertSpace decides whether two wrapped line fragments need a
// separating space when joined. CJK text joins bare; Latin words keep
// their space.
func shouldInsertSpace(left, right string) bool {
	if left == "" || right == "" {
		return false
	}
	lc, rc := lastRune(left), firstRune(right)
	if isCJK(lc) || isCJK(rc) {
		return false
	}
	if openingPunctuation[lc] || closingPunctuation[rc] {
		return false
	}
	return isAlnum(lc) && isAlnum(rc)
}

func isASCIILetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

// mergeWrappedLines joins the physical lines of one logical paragraph
// back into a single line, undoing PDF line wrapping. A trailing
// hyphen before a letter is treated as a hyphenation break.
func mergeWrappedLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	merged := lines[0]
	for _, line := range lines[1:] {
		if merged == "" {
			merged = line
			continue
		}
		if strings.HasSuffix(merged, "-") && line != "" && isASCIILetter(firstRune(line)) {
			merged = strings.TrimRight(merged, "-") + line
			continue
		}
		if shouldInsertSpace(merged, line) {
			merged += " " + line
		} else {
			merged += line
		}
	}
	return merged
}

var headingPunctuation = map[rune]bool{
	',': true, '.': true, '?': true, '!': true, ':': true, ';': true,
	'；': true, '：': true, '，': true, '。': true, '！': true, '？': true, '、': true,
}

// looksLikeHeading reports whether a short punctuation-free line is
// likely a section heading rather than body text.
func looksLikeHeading(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return false
	}
	runes := []rune(stripped)
	if len(runes) > 20 {
		return false
	}
	for _, r := range runes {
		if headingPunctuation[r] {
			return false
		}
	}
	return true
}

// collectPageMarkers finds short lines recurring near the top or
// bottom of at least two pages; those are running headers and footers.
func collectPageMarkers(pages []string) (headers, footers map[string]bool) {
	headerCounter := make(map[string]int)
	footerCounter := make(map[string]int)
	for _, page := range pages {
		var lines []string
		for _, raw := range strings.Split(page, "\n") {
			if line := strings.TrimSpace(raw); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		top := lines
		if len(top) > 3 {
			top = top[:3]
		}
		bottom := lines
		if len(bottom) > 3 {
			bottom = bottom[len(bottom)-3:]
		}
		for _, line := range top {
			if len([]rune(line)) <= headerMaxLength {
				headerCounter[line]++
			}
		}
		for _, line := range bottom {
			if len([]rune(line)) <= headerMaxLength {
				footerCounter[line]++
			}
		}
	}
	headers = make(map[string]bool)
	for line, count := range headerCounter {
		if count >= 2 {
			headers[line] = true
		}
	}
	footers = make(map[string]bool)
	for line, count := range footerCounter {
		if count >= 2 {
			footers[line] = true
		}
	}
	return headers, footers
}

// NormalizePDFText cleans raw PDF extractor output: strips page
// numbers and recurring headers and footers, and merges wrapped lines
// into logical paragraphs. Pages are form-feed separated; paragraphs
// may span page boundaries.
func NormalizePDFText(text string) string {
	if text == "" {
		return ""
	}
	pages := strings.Split(text, "\f")
	headers, footers := collectPageMarkers(pages)

	var result []string
	var paragraph []string
	pendingBlank := false

	flush := func() {
		if len(paragraph) > 0 {
			if merged := mergeWrappedLines(paragraph); merged != "" {
				result = append(result, merged)
			}
			paragraph = nil
		}
	}

	for _, page := range pages {
		for _, rawLine := range strings.Split(page, "\n") {
			line := strings.TrimSpace(rawLine)
			if line == "" {
				if len(paragraph) > 0 {
					pendingBlank = true
				}
				continue
			}
			if pageNumberPattern.MatchString(line) {
				continue
			}
			if headers[line] || footers[line] {
				continue
			}
			if pendingBlank {
				last := ""
				if len(paragraph) > 0 {
					last = paragraph[len(paragraph)-1]
				}
				if last != "" && (paragraphEndChars[lastRune(last)] || looksLikeHeading(last)) {
					flush()
				}
				pendingBlank = false
			}
			paragraph = append(paragraph, line)
		}
	}
	flush()
	return strings.Join(result, "\n")
}

// NormalizeHTMLText cleans text pulled out of a portal detail page:
// drops the portal's boilerplate lines and download links, collapses
// blank runs to single separators, and removes immediate duplicates.
func NormalizeHTMLText(text string) string {
	if text == "" {
		return ""
	}
	var result []string
	blankPending := false

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			blankPending = true
			continue
		}
		if isHTMLBoilerplate(line) {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(line, "下载") && (strings.Contains(lower, "word") || strings.Contains(lower, "pdf")) {
			continue
		}
		if blankPending {
			if len(result) > 0 && result[len(result)-1] != "" {
				result = append(result, "")
			}
			blankPending = false
		}
		if len(result) > 0 && result[len(result)-1] == line {
			continue
		}
		result = append(result, line)
	}

	for len(result) > 0 && result[0] == "" {
		result = result[1:]
	}
	for len(result) > 0 && result[len(result)-1] == "" {
		result = result[:len(result)-1]
	}
	return strings.Join(result, "\n")
}
