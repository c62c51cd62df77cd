// Package policy defines the regulatory document model shared by the
// crawler, the text pipeline and the search engine: entries loaded
// from state JSON files, their attached documents, and the metadata
// heuristics that annotate them.
package policy

import (
	"regexp"
	"strings"

	"github.com/coolbeans/policyfinder/pkg/zhtext"
)

// Document is one physical file belonging to an Entry: the HTML detail
// page, a Word or PDF attachment, or a text artifact produced by the
// extraction pipeline.
type Document struct {
	Type      string `json:"type,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	LocalPath string `json:"local_path,omitempty"`

	// Legacy aliases for LocalPath found in older state files.
	LocalPathAlt string `json:"localPath,omitempty"`
	PathAlt      string `json:"path,omitempty"`

	// Fields maintained by the crawler and the text pipeline.
	Downloaded       bool                `json:"downloaded,omitempty"`
	ExtractionStatus string              `json:"extraction_status,omitempty"`
	SourceType       string              `json:"source_type,omitempty"`
	SourceLocalPath  string              `json:"source_local_path,omitempty"`
	SourceURL        string              `json:"source_url,omitempty"`
	NeedsOCR         bool                `json:"needs_ocr,omitempty"`
	Attempts         []ExtractionAttempt `json:"extraction_attempts,omitempty"`
}

// ExtractionAttempt summarizes one attempt by the text pipeline to
// extract text from a source document.
type ExtractionAttempt struct {
	Type      string `json:"type,omitempty"`
	Path      string `json:"path"`
	Used      bool   `json:"used"`
	NeedsOCR  bool   `json:"needs_ocr"`
	Error     string `json:"error,omitempty"`
	CharCount int    `json:"char_count,omitempty"`
}

// Path returns the document's local filesystem path, honoring the
// legacy aliases. Empty when the file has not been downloaded.
func (d *Document) Path() string {
	if d.LocalPath != "" {
		return d.LocalPath
	}
	if d.LocalPathAlt != "" {
		return d.LocalPathAlt
	}
	return d.PathAlt
}

// Entry is one logical regulatory document: a listing row plus all
// files discovered for it. The derived fields are a pure function of
// Title, Remark and Documents, computed once by Build and never
// mutated afterward.
type Entry struct {
	ID        int         `json:"serial"`
	Title     string      `json:"title"`
	Remark    string      `json:"remark"`
	Documents []*Document `json:"documents,omitempty"`

	// Derived fields, populated by Build; never persisted.
	NormTitle string   `json:"-"`
	DocNo     string   `json:"-"`
	Year      string   `json:"-"`
	Doctype   string   `json:"-"`
	Agency    string   `json:"-"`
	BestPath  string   `json:"-"`
	Tokens    []string `json:"-"`
}

// Payload is the API representation of an entry, including the
// derived metadata fields.
type Payload struct {
	ID        int         `json:"id"`
	Title     string      `json:"title"`
	Remark    string      `json:"remark"`
	NormTitle string      `json:"norm_title"`
	DocNo     string      `json:"doc_no"`
	Year      string      `json:"year"`
	Doctype   string      `json:"doctype"`
	Agency    string      `json:"agency"`
	BestPath  string      `json:"best_path"`
	Documents []*Document `json:"documents,omitempty"`
}

// Payload builds the API representation of the entry.
func (e *Entry) Payload(includeDocuments bool) Payload {
	p := Payload{
		ID:        e.ID,
		Title:     e.Title,
		Remark:    e.Remark,
		NormTitle: e.NormTitle,
		DocNo:     e.DocNo,
		Year:      e.Year,
		Doctype:   e.Doctype,
		Agency:    e.Agency,
		BestPath:  e.BestPath,
	}
	if includeDocuments {
		p.Documents = e.Documents
	}
	return p
}

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// Build computes the derived metadata fields. Callers must re-run it
// if Title, Remark or Documents change.
func (e *Entry) Build() {
	e.NormTitle = zhtext.Normalize(e.Title)
	e.DocNo = ExtractDocNo(e.Title)
	if e.DocNo == "" {
		e.DocNo = ExtractDocNo(e.Remark)
	}
	e.Year = yearPattern.FindString(e.Title + " " + e.Remark)
	e.Doctype = GuessDoctype(e.Title)
	e.Agency = GuessAgency(e.Title)
	e.BestPath = PickBestPath(e.Documents)
	e.Tokens = zhtext.Tokenize(e.NormTitle)
}

var docNoPattern = regexp.MustCompile(
	`(银发|银办发|公告|令|会发|财金|发改|证监|保监|银保监|人民银行令|中国人民银行令)` +
		`[〔\[\(]?\s*(\d{2,4})\s*[〕\]\)]?\s*(第?\s*\d+\s*号)?`)

// ExtractDocNo extracts an official document number such as
// 银发〔2023〕17号 and returns it in the canonical <prefix>[<yyyy>]<suffix>
// form. Two-digit years are expanded to 20yy. Empty when no number is
// present.
func ExtractDocNo(s string) string {
	s = zhtext.Normalize(s)
	m := docNoPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	head, year, tail := m[1], m[2], m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return head + "[" + year + "]" + strings.ReplaceAll(tail, " ", "")
}

// doctypeKeywords is priority ordered: compound terms must precede
// their shorter substrings.
var doctypeKeywords = []string{
	"管理办法", "实施细则", "暂行规定", "规定", "细则",
	"办法", "通知", "决定", "公告", "意见",
}

// GuessDoctype returns the first matching document-type keyword found
// in the text, or empty.
func GuessDoctype(s string) string {
	s = zhtext.Normalize(s)
	for _, kw := range doctypeKeywords {
		if strings.Contains(s, kw) {
			return kw
		}
	}
	return ""
}

var agencies = []string{
	"中国人民银行",
	"中国证券监督管理委员会",
	"中国银行保险监督管理委员会",
	"中国银行业监督管理委员会",
	"国家外汇管理局",
	"国务院",
	"中国证监会",
	"中国银保监会",
	"国家统计局",
}

// GuessAgency matches the text against the known regulator names and
// returns up to three hits joined with 、, or empty.
func GuessAgency(s string) string {
	s = zhtext.Normalize(s)
	var hits []string
	for _, agency := range agencies {
		if strings.Contains(s, agency) {
			hits = append(hits, agency)
		}
	}
	if len(hits) == 0 {
		return ""
	}
	if len(hits) > 3 {
		hits = hits[:3]
	}
	return strings.Join(hits, "、")
}

// typePriority ranks document types by extraction fidelity for
// best-path selection.
var typePriority = map[string]int{
	"pdf":  4,
	"docx": 3,
	"doc":  3,
	"word": 3,
	"html": 2,
	"txt":  1,
	"text": 1,
}

// PickBestPath returns the local path of the highest-priority document
// that has one, preferring PDF over Word over HTML over plain text.
func PickBestPath(documents []*Document) string {
	best := ""
	bestRank := -1
	for _, doc := range documents {
		if doc == nil {
			continue
		}
		path := doc.Path()
		if path == "" {
			continue
		}
		rank := typePriority[strings.ToLower(doc.Type)]
		if rank > bestRank {
			best = path
			bestRank = rank
		}
	}
	return best
}
