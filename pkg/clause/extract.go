package clause

import (
	"regexp"
	"sort"
	"strings"

	"github.com/coolbeans/policyfinder/pkg/doctext"
	"github.com/coolbeans/policyfinder/pkg/policy"
	"github.com/coolbeans/policyfinder/pkg/zhtext"
)

// Extraction error codes beyond the loader's own.
const (
	CodeDocumentUnavailable = "document_unavailable"
	CodeArticleNotFound     = "article_not_found"
	CodeParagraphNotFound   = "paragraph_not_found"
	CodeItemNotFound        = "item_not_found"
)

// Result reports what could be sliced out of a source document. The
// matched flags are tri-state: nil means the level was never
// requested. A populated Error coexists with partial text when outer
// levels resolved but an inner one did not.
type Result struct {
	Reference        Reference `json:"reference"`
	SourcePath       string    `json:"source_path,omitempty"`
	DocumentType     string    `json:"document_type,omitempty"`
	ArticleText      string    `json:"article_text,omitempty"`
	ParagraphText    string    `json:"paragraph_text,omitempty"`
	ItemText         string    `json:"item_text,omitempty"`
	ArticleMatched   *bool     `json:"article_matched,omitempty"`
	ParagraphMatched *bool     `json:"paragraph_matched,omitempty"`
	ItemMatched      *bool     `json:"item_matched,omitempty"`
	Error            string    `json:"error,omitempty"`
}

func boolRef(v bool) *bool { return &v }

// Extractor slices clause text out of a policy entry's best available
// source documents. Candidate documents are tried in priority order
// until one yields the requested article.
type Extractor struct {
	loader *doctext.Loader
	bases  []string
}

func NewExtractor(loader *doctext.Loader, bases []string) *Extractor {
	return &Extractor{loader: loader, bases: bases}
}

type candidate struct {
	path     string
	declared string
	kind     doctext.Kind
	rank     int
}

// selectCandidates resolves every distinct document path of the entry
// to an existing file and orders them most-useful first. Ordering is
// stable so documents of equal rank keep their listing order.
func (x *Extractor) selectCandidates(entry *policy.Entry) []candidate {
	var out []candidate
	seen := make(map[string]bool)
	add := func(pathValue, declared string) {
		if pathValue == "" || seen[pathValue] {
			return
		}
		seen[pathValue] = true
		resolved, ok := doctext.Resolve(pathValue, x.bases)
		if !ok {
			return
		}
		kind := doctext.Classify(resolved, declared)
		out = append(out, candidate{
			path:     resolved,
			declared: declared,
			kind:     kind,
			rank:     doctext.Priority(kind),
		})
	}
	for _, doc := range entry.Documents {
		if doc == nil {
			continue
		}
		add(doc.Path(), doc.Type)
	}
	add(entry.BestPath, "")
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank > out[j].rank })
	return out
}

// Extract resolves ref against the entry's documents. Partial matches
// are not failures: an article found without its requested item still
// returns the article text alongside an item_not_found error.
func (x *Extractor) Extract(entry *policy.Entry, ref Reference) Result {
	result := Result{Reference: ref}
	candidates := x.selectCandidates(entry)
	if len(candidates) == 0 {
		result.Error = CodeDocumentUnavailable
		return result
	}

	var articleRaw []string
	lastError := ""
	for _, cand := range candidates {
		text, kind, code := x.loader.Load(cand.path, cand.declared)
		if code != "" {
			lastError = code
			continue
		}
		rawLines, normLines := splitLines(text)
		slice, ok := articleSlice(rawLines, normLines, ref.Article)
		if !ok {
			if lastError == "" {
				lastError = CodeArticleNotFound
			}
			continue
		}
		articleRaw = slice
		result.SourcePath = cand.path
		result.DocumentType = string(kind)
		break
	}
	if articleRaw == nil {
		if lastError == "" {
			lastError = CodeDocumentUnavailable
		}
		result.Error = lastError
		return result
	}

	result.ArticleMatched = boolRef(true)
	result.ArticleText = composeLines(articleRaw)

	paragraphRaw := articleRaw
	if ref.Paragraph > 0 {
		slice, ok := paragraphSlice(articleRaw, ref.Paragraph, ref.ParagraphUnit)
		if ok {
			paragraphRaw = slice
			result.ParagraphMatched = boolRef(true)
		} else {
			result.ParagraphMatched = boolRef(false)
		}
	}
	result.ParagraphText = composeLines(paragraphRaw)

	if ref.Item > 0 {
		base := result.ParagraphText
		if base == "" {
			base = result.ArticleText
		}
		if text, ok := itemSpan(base, ref.Item); ok {
			result.ItemText = text
			result.ItemMatched = boolRef(true)
		} else {
			result.ItemMatched = boolRef(false)
			result.Error = CodeItemNotFound
		}
	} else if result.ParagraphMatched != nil && !*result.ParagraphMatched {
		result.Error = CodeParagraphNotFound
	}
	return result
}

// splitLines pairs each raw line with its normalized form so that
// pattern matching is normalization-insensitive while the returned
// text keeps the source's own spelling.
func splitLines(text string) (raw, normalized []string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw = strings.Split(text, "\n")
	normalized = make([]string, len(raw))
	for i, line := range raw {
		normalized[i] = zhtext.NormalizeLine(line)
	}
	return raw, normalized
}

func composeLines(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(trimmed, "\n"))
}

var (
	genericArticlePattern = regexp.MustCompile(`^\s*第\s*` + zhtext.NumberClass + `+\s*条`)
	genericBulletPattern  = regexp.MustCompile(`^\s*` + zhtext.NumberClass + `+\s*[、.]`)
)

// articleSlice returns the lines from the article's heading up to the
// next article heading. When a document has no 第N条 headings at all
// it falls back to bullet markers (一、 二、 …), which older circulars
// use as their top-level structure.
func articleSlice(raw, normalized []string, article int) ([]string, bool) {
	target := regexp.MustCompile(`^\s*第\s*(?:` + zhtext.NumberPattern(article) + `)\s*条`)
	slice, ok := sliceByMarker(raw, normalized, target, genericArticlePattern)
	if ok {
		return slice, true
	}
	for _, line := range normalized {
		if genericArticlePattern.MatchString(line) {
			return nil, false
		}
	}
	bullet := regexp.MustCompile(`^\s*(?:` + zhtext.NumberPattern(article) + `)\s*[、.]`)
	return sliceByMarker(raw, normalized, bullet, genericBulletPattern)
}

// paragraphSlice narrows an article slice to its Nth paragraph. A
// reference that names its unit (款 or 段) matches only that unit;
// otherwise 款 is tried first. The boundary heading must carry the
// same unit that matched the target.
func paragraphSlice(articleRaw []string, paragraph int, unit string) ([]string, bool) {
	normalized := make([]string, len(articleRaw))
	for i, line := range articleRaw {
		normalized[i] = zhtext.NormalizeLine(line)
	}
	units := []string{"款", "段"}
	if unit == "款" || unit == "段" {
		units = []string{unit}
	}
	numberPattern := zhtext.NumberPattern(paragraph)
	for _, u := range units {
		target := regexp.MustCompile(`^\s*第\s*(?:` + numberPattern + `)\s*` + u)
		generic := regexp.MustCompile(`^\s*第\s*` + zhtext.NumberClass + `+\s*` + u)
		if slice, ok := sliceByMarker(articleRaw, normalized, target, generic); ok {
			return slice, true
		}
	}
	return nil, false
}

// sliceByMarker finds the first line matching target and extends the
// slice until the next line matching generic, trimming blank edges.
func sliceByMarker(raw, normalized []string, target, generic *regexp.Regexp) ([]string, bool) {
	start := -1
	for i, line := range normalized {
		if target.MatchString(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}
	end := len(raw)
	for i := start + 1; i < len(normalized); i++ {
		if generic.MatchString(normalized[i]) {
			end = i
			break
		}
	}
	slice := raw[start:end]
	for len(slice) > 0 && strings.TrimSpace(slice[len(slice)-1]) == "" {
		slice = slice[:len(slice)-1]
	}
	return slice, len(slice) > 0
}

var itemMarkerPattern = regexp.MustCompile(
	`[\(（]\s*(` + zhtext.NumberClass + `+)\s*[\)）]\s*(?:项|目)?|第\s*(` + zhtext.NumberClass + `+)\s*(?:项|目)`)

// itemSpan cuts the Nth item out of flat paragraph text. Items run
// from their marker to the next item marker, so numbering need not be
// sequential.
func itemSpan(text string, item int) (string, bool) {
	type marker struct {
		value int
		start int
	}
	var markers []marker
	for _, m := range itemMarkerPattern.FindAllStringSubmatchIndex(text, -1) {
		numStart, numEnd := m[2], m[3]
		if numStart < 0 {
			numStart, numEnd = m[4], m[5]
		}
		value, ok := zhtext.ChineseToInt(text[numStart:numEnd])
		if !ok {
			continue
		}
		markers = append(markers, marker{value: value, start: m[0]})
	}
	for i, mk := range markers {
		if mk.value != item {
			continue
		}
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		return strings.TrimSpace(text[mk.start:end]), true
	}
	return "", false
}
