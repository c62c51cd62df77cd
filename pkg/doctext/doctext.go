// Package doctext loads plain text out of downloaded policy documents.
// It classifies files into a closed set of kinds, decodes the byte
// encodings common on Chinese government sites, and dispatches to
// per-format extractors (HTML, OOXML, PDF, plain text).
package doctext

import (
	"path/filepath"
	"strings"
)

// Kind classifies a document into the closed set of formats the
// loaders understand.
type Kind string

const (
	KindPdf     Kind = "pdf"
	KindDocx    Kind = "docx"
	KindDoc     Kind = "doc"
	KindHtml    Kind = "html"
	KindText    Kind = "text"
	KindUnknown Kind = "unknown"
)

// Error codes reported by the loaders. All are recoverable at the call
// site; callers try the next candidate document.
const (
	CodeReadError             = "read_error"
	CodeHTMLParse             = "parse_error"
	CodeHTMLEmpty             = "html_empty"
	CodeTextEmpty             = "text_empty"
	CodeDocxDocumentMissing   = "docx_document_missing"
	CodeDocxReadError         = "docx_read_error"
	CodeDocxParseError        = "docx_parse_error"
	CodeDocxEmpty             = "docx_empty"
	CodeDocBinaryUnsupported  = "doc_binary_unsupported"
	CodeDocEmpty              = "doc_empty"
	CodePdfSupportUnavailable = "pdf_support_unavailable"
	CodePdfParseError         = "pdf_parse_error"
	CodePdfEmpty              = "pdf_empty"
	CodeUnsupportedType       = "unsupported_document_type"
)

// Classify resolves a document's effective kind from its file
// extension first and its declared type second.
func Classify(path, declaredType string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPdf
	case ".docx":
		return KindDocx
	case ".doc":
		return KindDoc
	case ".htm", ".html":
		return KindHtml
	case ".txt", ".text", ".md":
		return KindText
	}
	switch strings.ToLower(strings.TrimSpace(declaredType)) {
	case "pdf":
		return KindPdf
	case "docx":
		return KindDocx
	case "doc", "word":
		return KindDoc
	case "htm", "html":
		return KindHtml
	case "txt", "text", "md", "json":
		return KindText
	case "":
		return KindUnknown
	}
	return KindUnknown
}

// Priority ranks kinds by extraction fidelity for clause extraction:
// PDF preserves the official layout best, Word next, HTML next, plain
// text last.
func Priority(kind Kind) int {
	switch kind {
	case KindPdf:
		return 5
	case KindDocx, KindDoc:
		return 4
	case KindHtml:
		return 3
	case KindText:
		return 2
	default:
		return 1
	}
}
