package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ListingParser extracts entries and pagination links from a fetched
// listing page. Implementations are injected into the Monitor so a
// task can swap in a site-specific parser.
type ListingParser interface {
	Entries(pageURL string, doc *goquery.Document) []ListingEntry
	Pagination(pageURL string, doc *goquery.Document, startURL string) Pagination
}

var (
	paginationNext  = map[string]bool{"下一页": true, "下页": true}
	paginationPrev  = map[string]bool{"上一页": true, "上页": true}
	paginationFirst = map[string]bool{"首页": true}
	paginationLast  = map[string]bool{"末页": true, "尾页": true}
)

var genericLinkText = map[string]bool{
	"下载": true, "查看": true, "详情": true, "点击查看": true,
	"点击下载": true, "附件": true, "word": true, "pdf": true,
	"doc": true, "docx": true, "xls": true, "xlsx": true,
	"zip": true, "rar": true,
}

var (
	genericCleanPattern = regexp.MustCompile(`[\s：:（）()【】\[\]<>“”"'·、，。；,.;!！?？]`)
	genericPattern      = regexp.MustCompile(`^(点击)?(查看|下载|附件)?(word|pdf|docx?|xls|xlsx)?(下载|查看)?$`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
	serialTrimPattern   = regexp.MustCompile(`[\s\x{3000}]+`)
	colonSpacePattern   = regexp.MustCompile(`([：:])\s+`)

	genericPhrasePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)下载\s*(?:word|pdf|docx?|xls|xlsx|zip|rar)\s*(?:版)?`),
		regexp.MustCompile(`(?i)(?:word|pdf|docx?|xls|xlsx|zip|rar)\s*下载`),
		regexp.MustCompile(`(?i)附件\s*(?:下载|查看)`),
		regexp.MustCompile(`(?i)点击\s*(?:下载|查看)`),
	}
)

// TableParser is the default ListingParser for regulator sites that
// publish regulations as numbered table rows with a detail-page link
// and attachment links per row. Pages without such a table fall back
// to a flat scan for attachment links.
type TableParser struct{}

// NewTableParser returns the default table-based listing parser.
func NewTableParser() *TableParser {
	return &TableParser{}
}

// Entries extracts the listing rows of the page. Structured table rows
// win; when none parse, every attachment link on the page becomes its
// own single-document entry.
func (p *TableParser) Entries(pageURL string, doc *goquery.Document) []ListingEntry {
	entries := p.structuredEntries(pageURL, doc)
	if len(entries) > 0 {
		return entries
	}
	var fallback []ListingEntry
	for i, link := range p.fileLinks(pageURL, doc) {
		serial := i + 1
		fallback = append(fallback, ListingEntry{
			Serial: &serial,
			Title:  link.Title,
			Documents: []ListingDocument{
				{Type: ClassifyDocumentType(link.URL), URL: link.URL, Title: link.Title},
			},
		})
	}
	return fallback
}

func (p *TableParser) structuredEntries(pageURL string, doc *goquery.Document) []ListingEntry {
	var entries []ListingEntry
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td,th")
		if cells.Length() < 2 {
			return
		}
		serial, ok := parseSerial(cells.Eq(0).Text())
		if !ok {
			return
		}
		linkCell := cells.Eq(1)
		titleLink := linkCell.Find("a[href]").First()
		rawHref := strings.TrimSpace(titleLink.AttrOr("href", ""))
		if rawHref == "" {
			return
		}
		detailURL := resolveURL(pageURL, rawHref)
		if ClassifyDocumentType(detailURL) != "html" {
			return
		}
		title := strings.TrimSpace(titleLink.AttrOr("title", ""))
		if title == "" {
			title = collapseSpace(titleLink.Text())
		}
		remark := extractRemark(linkCell, title)

		for i := 2; i < cells.Length(); i++ {
			extra := cells.Eq(i)
			cellText := collapseSpace(extra.Text())
			extra.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
				linkText := collapseSpace(link.Text())
				if linkText != "" {
					cellText = strings.TrimSpace(strings.Replace(cellText, linkText, "", 1))
				}
			})
			if cellText != "" {
				if remark != "" {
					remark = remark + " " + cellText
				} else {
					remark = cellText
				}
			}
		}
		remark = strings.TrimSpace(remark)

		seen := map[string]bool{detailURL: true}
		documents := []ListingDocument{{Type: "html", URL: detailURL, Title: title}}
		row.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href := strings.TrimSpace(link.AttrOr("href", ""))
			if href == "" {
				return
			}
			absolute := resolveURL(pageURL, href)
			if seen[absolute] {
				return
			}
			docType := ClassifyDocumentType(absolute)
			if docType == "other" && !hasAttachmentSuffix(absolute) {
				return
			}
			label := attachmentName(link, absolute)
			if title != "" {
				// Generic "12 附件" style labels inherit the row title.
				if strings.HasPrefix(strings.TrimSpace(label), strconv.Itoa(serial)) {
					label = title
				} else if strings.Count(label, title) >= 1 && len(label) > len(title)+5 {
					label = title
				}
				if label == "" {
					label = title
				}
			}
			documents = append(documents, ListingDocument{Type: docType, URL: absolute, Title: label})
			seen[absolute] = true
		})

		s := serial
		entries = append(entries, ListingEntry{
			Serial:    &s,
			Title:     title,
			Remark:    remark,
			Documents: documents,
		})
	})
	return entries
}

// fileLinks is the legacy fallback: every anchor whose path ends in a
// known attachment suffix, deduplicated.
func (p *TableParser) fileLinks(pageURL string, doc *goquery.Document) []ListingDocument {
	var links []ListingDocument
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, tag *goquery.Selection) {
		href := strings.TrimSpace(tag.AttrOr("href", ""))
		if href == "" {
			return
		}
		absolute := resolveURL(pageURL, href)
		if !hasAttachmentSuffix(absolute) || seen[absolute] {
			return
		}
		seen[absolute] = true
		links = append(links, ListingDocument{
			Type:  ClassifyDocumentType(absolute),
			URL:   absolute,
			Title: attachmentName(tag, absolute),
		})
	})
	return links
}

// Pagination collects navigation anchors, preferring those inside a
// list_page container, restricted to the start URL's listing directory.
func (p *TableParser) Pagination(pageURL string, doc *goquery.Document, startURL string) Pagination {
	meta := Pagination{}
	anchors := doc.Find(".list_page a")
	if anchors.Length() == 0 {
		anchors = doc.Find("a")
	}
	seen := map[string]bool{}
	startParsed, _ := url.Parse(startURL)
	anchors.Each(func(_ int, tag *goquery.Selection) {
		text := strings.TrimSpace(tag.Text())
		if text == "" {
			return
		}
		resolved := resolvePaginationURL(tag, pageURL, startURL)
		if resolved == "" || seen[resolved] {
			return
		}
		if startParsed != nil && startParsed.Scheme != "" && startParsed.Host != "" {
			if !sameListingDir(startURL, resolved) {
				return
			}
		}
		seen[resolved] = true
		meta.Links = append(meta.Links, PageLink{URL: resolved, Text: text})
		switch {
		case paginationNext[text] && meta.Next == "":
			meta.Next = resolved
		case paginationPrev[text] && meta.Prev == "":
			meta.Prev = resolved
		case paginationFirst[text] && meta.First == "":
			meta.First = resolved
		case paginationLast[text] && meta.Last == "":
			meta.Last = resolved
		}
	})
	return meta
}

var onclickURLPattern = regexp.MustCompile(`['"]([^'"]+)['"]`)

// resolvePaginationURL handles the three anchor styles regulator sites
// use: a plain href, a tagname attribute holding a relative URL, and
// an onclick handler with the URL inside a string literal.
func resolvePaginationURL(tag *goquery.Selection, currentURL, startURL string) string {
	href := strings.TrimSpace(tag.AttrOr("href", ""))
	lowered := strings.ToLower(href)
	if href != "" && lowered != "#" && lowered != "javascript:void(0)" && lowered != "javascript:;" {
		return resolveURL(currentURL, href)
	}
	tagname := strings.TrimSpace(tag.AttrOr("tagname", ""))
	if tagname != "" && !strings.HasPrefix(tagname, "[") {
		return resolveURL(startURL, tagname)
	}
	onclick := tag.AttrOr("onclick", "")
	for _, m := range onclickURLPattern.FindAllStringSubmatch(onclick, -1) {
		candidate := m[1]
		if strings.Contains(candidate, "/") || strings.Contains(candidate, ".") {
			return resolveURL(currentURL, candidate)
		}
	}
	return ""
}

func sameListingDir(startURL, candidate string) bool {
	startParsed, err := url.Parse(startURL)
	if err != nil {
		return false
	}
	candidateParsed, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return strings.HasPrefix(candidateParsed.Path, path.Dir(startParsed.Path))
}

// attachmentName derives a display label for an attachment link from,
// in order of preference, its title attribute, its own text, the text
// of the preceding cell in the same table row, and the enclosing li/p
// text. Generic labels like 下载 or pdf下载 lose to anything concrete;
// with nothing left, the URL's filename is used.
func attachmentName(tag *goquery.Selection, fileURL string) string {
	var candidates []string
	if title := strings.TrimSpace(tag.AttrOr("title", "")); title != "" {
		candidates = append(candidates, title)
	}
	if text := collapseSpace(tag.Text()); text != "" {
		candidates = append(candidates, text)
	}
	cell := tag.Closest("td,th")
	if cell.Length() > 0 {
		cells := cell.Closest("tr").ChildrenFiltered("td,th")
		idx := -1
		cells.EachWithBreak(func(i int, c *goquery.Selection) bool {
			if c.Nodes[0] == cell.Nodes[0] {
				idx = i
				return false
			}
			return true
		})
		for i := idx - 1; i >= 0; i-- {
			if text := collapseSpace(cells.Eq(i).Text()); text != "" {
				candidates = append(candidates, text)
				break
			}
		}
	}
	container := tag.Closest("li,p")
	if container.Length() > 0 {
		if text := collapseSpace(container.Text()); text != "" {
			candidates = append(candidates, text)
		}
	}

	seen := map[string]bool{}
	var concrete, generic []string
	for _, candidate := range candidates {
		candidate = tidyLabel(candidate)
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		if isGenericLabel(candidate) {
			generic = append(generic, candidate)
		} else {
			concrete = append(concrete, candidate)
		}
	}
	if len(concrete) > 0 {
		return concrete[0]
	}
	if len(generic) > 0 {
		return generic[0]
	}

	if parsed, err := url.Parse(fileURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return SafeFilename(fileURL)
}

// tidyLabel strips download-boilerplate phrases and trailing generic
// words from a label candidate.
func tidyLabel(text string) string {
	text = collapseSpace(text)
	for _, pattern := range genericPhrasePatterns {
		text = pattern.ReplaceAllString(text, " ")
	}
	text = collapseSpace(text)
	text = colonSpacePattern.ReplaceAllString(text, "$1")
	for word := range genericLinkText {
		text = strings.TrimSpace(trimSuffixFold(text, word))
	}
	text = strings.TrimSpace(strings.TrimRight(text, ":：-—·•"))
	if runes := []rune(text); len(runes) > 200 {
		text = strings.TrimSpace(string(runes[:200]))
	}
	return text
}

func trimSuffixFold(s, suffix string) string {
	if len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func isGenericLabel(text string) bool {
	lowered := strings.ToLower(text)
	lowered = genericCleanPattern.ReplaceAllString(lowered, "")
	for _, suffix := range []string{"版", "本"} {
		lowered = strings.TrimSuffix(lowered, suffix)
	}
	if lowered == "" {
		return true
	}
	if genericLinkText[lowered] {
		return true
	}
	return genericPattern.MatchString(lowered)
}

// extractRemark pulls the annotation text out of the title cell: a
// .gz_tit2 child when present, otherwise the cell text with the title
// removed.
func extractRemark(cell *goquery.Selection, title string) string {
	if container := cell.Find(".gz_tit2").First(); container.Length() > 0 {
		return collapseSpace(container.Text())
	}
	remark := collapseSpace(cell.Text())
	if title != "" {
		if idx := strings.Index(remark, title); idx != -1 {
			remark = strings.TrimSpace(remark[:idx] + remark[idx+len(title):])
		}
	}
	return remark
}

// parseSerial reads a row number such as "12", "12." or "（12）".
func parseSerial(text string) (int, bool) {
	cleaned := serialTrimPattern.ReplaceAllString(text, "")
	cleaned = strings.Trim(cleaned, "．.、)")
	cleaned = strings.TrimLeft(cleaned, "(")
	if cleaned == "" {
		return 0, false
	}
	n := 0
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func hasAttachmentSuffix(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lowered := strings.ToLower(parsed.Path)
	for _, suffix := range attachmentSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}
	return false
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
