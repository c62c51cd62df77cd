package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coolbeans/policyfinder/pkg/doctext"
	"github.com/coolbeans/policyfinder/pkg/policy"
)

// Extraction error codes specific to the pipeline; format-level codes
// come from doctext.
const CodeFileMissing = "file_missing"

// extractionPriorities rank source formats by how reliably machine
// text comes out of them. Word wins over PDF here: the pipeline wants
// clean text, not layout fidelity.
var extractionPriorities = map[string]int{
	"docx": 3,
	"doc":  3,
	"word": 3,
	"pdf":  2,
	"html": 1,
	"text": 0,
}

// Candidate is one source document considered for text extraction.
type Candidate struct {
	Document       *policy.Document
	Path           string
	DeclaredType   string
	NormalizedType string
	Priority       int
	Order          int
}

// Attempt records the outcome of extracting one candidate.
type Attempt struct {
	Candidate *Candidate
	Text      string
	HasText   bool
	Error     string
	NeedsOCR  bool
	Used      bool
}

// EntryExtraction is the per-entry result: every attempt made, the
// attempt whose text was kept, and the rolled-up status.
type EntryExtraction struct {
	Entry       *policy.Entry
	Attempts    []*Attempt
	Selected    *Attempt
	Text        string
	Status      string
	PdfNeedsOCR bool
}

// Entry statuses.
const (
	StatusSuccess  = "success"
	StatusEmpty    = "empty"
	StatusError    = "error"
	StatusNeedsOCR = "needs_ocr"
	StatusNoSource = "no_source"
)

// normalizeType maps a declared document type and a file extension to
// the pipeline's canonical type names. The extension wins.
func normalizeType(declared, ext string) string {
	value := strings.TrimSpace(strings.ToLower(declared))
	switch strings.ToLower(ext) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".doc":
		return "doc"
	case ".htm", ".html":
		return "html"
	case ".txt", ".text", ".md":
		return "text"
	}
	switch value {
	case "docx":
		return "docx"
	case "doc", "word":
		return "doc"
	}
	return value
}

// resolveCandidatePath locates a document path from a state file,
// trying the state directory, its downloads/ subdirectory and the
// parent directory for relative paths. Old state files recorded paths
// relative to directories that have since moved.
func resolveCandidatePath(pathValue, stateDir string) (string, bool) {
	if pathValue == "" {
		return "", false
	}
	var searchPaths []string
	if filepath.IsAbs(pathValue) {
		searchPaths = append(searchPaths, pathValue)
	} else {
		base := filepath.Base(pathValue)
		parent := filepath.Dir(stateDir)
		searchPaths = append(searchPaths,
			filepath.Join(stateDir, pathValue),
			filepath.Join(stateDir, base),
			filepath.Join(stateDir, "downloads", base),
			filepath.Join(parent, pathValue),
			filepath.Join(parent, "downloads", base),
			filepath.Join(parent, "downloads", pathValue),
		)
	}
	searchPaths = append(searchPaths, pathValue)

	seen := make(map[string]bool)
	for _, p := range searchPaths {
		resolved, err := filepath.Abs(p)
		if err != nil {
			resolved = p
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
			return resolved, true
		}
	}
	return "", false
}

// buildCandidates resolves an entry's documents into extraction
// candidates, best format first. Ties keep document order.
func buildCandidates(entry *policy.Entry, stateDir string) []*Candidate {
	var candidates []*Candidate
	for index, doc := range entry.Documents {
		if doc == nil {
			continue
		}
		pathValue := doc.Path()
		if pathValue == "" {
			continue
		}
		resolved, ok := resolveCandidatePath(pathValue, stateDir)
		if !ok {
			continue
		}
		normalized := normalizeType(doc.Type, filepath.Ext(resolved))
		priority := -1
		if p, ok := extractionPriorities[normalized]; ok {
			priority = p
		}
		candidates = append(candidates, &Candidate{
			Document:       doc,
			Path:           resolved,
			DeclaredType:   doc.Type,
			NormalizedType: normalized,
			Priority:       priority,
			Order:          index,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates
}

// attemptExtract extracts text from one candidate. An empty PDF is
// not an error: it signals a scanned document that needs OCR.
func (p *Pipeline) attemptExtract(cand *Candidate) *Attempt {
	data, err := os.ReadFile(cand.Path)
	if err != nil {
		return &Attempt{Candidate: cand, Error: CodeFileMissing}
	}

	normalized := cand.NormalizedType
	if normalized != "docx" && doctext.IsDocxPayload(data) {
		normalized = "docx"
		cand.NormalizedType = "docx"
	}

	switch normalized {
	case "docx":
		text, code := doctext.ExtractDocxText(data)
		return &Attempt{Candidate: cand, Text: text, HasText: code == "", Error: code}

	case "doc", "word":
		if doctext.IsOLEPayload(data) {
			return &Attempt{Candidate: cand, Error: doctext.CodeDocBinaryUnsupported}
		}
		text := doctext.DecodeBytes(data)
		if strings.TrimSpace(text) == "" {
			return &Attempt{Candidate: cand, Error: doctext.CodeDocEmpty}
		}
		return &Attempt{Candidate: cand, Text: text, HasText: true}

	case "html":
		text, err := extractHTMLBlocks(doctext.DecodeBytes(data))
		if err != nil {
			return &Attempt{Candidate: cand, Error: doctext.CodeHTMLParse}
		}
		text = NormalizeHTMLText(text)
		if strings.TrimSpace(text) == "" {
			return &Attempt{Candidate: cand, Error: doctext.CodeHTMLEmpty}
		}
		return &Attempt{Candidate: cand, Text: text, HasText: true}

	case "pdf":
		if p.pdf == nil {
			return &Attempt{Candidate: cand, Error: doctext.CodePdfSupportUnavailable}
		}
		raw, err := p.pdf.ExtractText(data)
		if err != nil {
			return &Attempt{Candidate: cand, Error: doctext.CodePdfParseError}
		}
		if strings.TrimSpace(raw) == "" {
			return &Attempt{Candidate: cand, Text: raw, HasText: true, NeedsOCR: true}
		}
		return &Attempt{Candidate: cand, Text: NormalizePDFText(raw), HasText: true}
	}

	// Anything else is treated as plain text.
	text := doctext.DecodeBytes(data)
	if strings.TrimSpace(text) == "" {
		return &Attempt{Candidate: cand, Error: doctext.CodeTextEmpty}
	}
	return &Attempt{Candidate: cand, Text: text, HasText: true}
}

// ExtractEntry runs extraction attempts for an entry in priority
// order and selects the first attempt that produced non-blank text.
// When every attempt fails, the first attempt is kept so its error
// surfaces in the report.
func (p *Pipeline) ExtractEntry(entry *policy.Entry, stateDir string) *EntryExtraction {
	candidates := buildCandidates(entry, stateDir)
	if len(candidates) == 0 {
		return &EntryExtraction{Entry: entry, Status: StatusNoSource}
	}

	var attempts []*Attempt
	var selected, fallback *Attempt
	pdfNeedsOCR := false

	for _, cand := range candidates {
		attempt := p.attemptExtract(cand)
		attempts = append(attempts, attempt)
		if attempt.Candidate.NormalizedType == "pdf" && attempt.NeedsOCR {
			pdfNeedsOCR = true
		}
		if strings.TrimSpace(attempt.Text) != "" {
			attempt.Used = true
			selected = attempt
			break
		}
		if fallback == nil {
			fallback = attempt
		}
	}

	if selected == nil && fallback != nil {
		fallback.Used = true
		selected = fallback
	}
	if selected == nil && len(attempts) > 0 {
		attempts[0].Used = true
		selected = attempts[0]
	}

	text := ""
	if selected != nil {
		text = selected.Text
	}
	stripped := strings.TrimSpace(text)

	status := StatusNoSource
	switch {
	case selected == nil:
		status = StatusNoSource
	case selected.Error != "":
		status = StatusError
	case stripped != "":
		status = StatusSuccess
	case selected.NeedsOCR && (selected.Candidate.NormalizedType == "pdf" || pdfNeedsOCR):
		status = StatusNeedsOCR
	default:
		status = StatusEmpty
	}

	return &EntryExtraction{
		Entry:       entry,
		Attempts:    attempts,
		Selected:    selected,
		Text:        text,
		Status:      status,
		PdfNeedsOCR: pdfNeedsOCR,
	}
}
